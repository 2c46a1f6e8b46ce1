package mysql

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/xiebiao/circulation/internal/domain/inventory"
	"github.com/xiebiao/circulation/internal/domain/loan"
)

// loanRepository 借阅台账仓储实现(MySQL)
type loanRepository struct {
	db *gorm.DB
}

// NewLoanRepository 创建借阅仓储
func NewLoanRepository(db *gorm.DB) loan.Repository {
	return &loanRepository{db: db}
}

// CreateBatch 批量插入借阅记录
// GORM对切片执行单条INSERT ... VALUES (...),(...),并按顺序回填自增ID
func (r *loanRepository) CreateBatch(ctx context.Context, loans []*loan.Loan) error {
	if len(loans) == 0 {
		return nil
	}
	models := make([]LoanModel, len(loans))
	for i, l := range loans {
		models[i] = LoanModel{
			UserID:     l.UserID,
			CopyID:     l.CopyID,
			BorrowedAt: l.BorrowedAt,
			DueAt:      l.DueAt,
			ReturnedAt: l.ReturnedAt,
		}
	}

	if err := getDB(ctx, r.db).Create(&models).Error; err != nil {
		return translateError(err, "创建借阅记录失败")
	}

	for i := range models {
		loans[i].ID = models[i].ID
	}
	return nil
}

// FindByID 根据ID查找借阅记录
func (r *loanRepository) FindByID(ctx context.Context, id uint) (*loan.Loan, error) {
	var model LoanModel
	err := getDB(ctx, r.db).First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, loan.ErrLoanNotFound
		}
		return nil, translateError(err, "查询借阅记录失败")
	}
	return toLoanEntity(&model), nil
}

// LockByID 悲观锁读取单条借阅记录
func (r *loanRepository) LockByID(ctx context.Context, id uint) (*loan.Loan, error) {
	var model LoanModel
	err := getDB(ctx, r.db).Clauses(forUpdate).First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, loan.ErrLoanNotFound
		}
		return nil, translateError(err, "锁定借阅记录失败")
	}
	return toLoanEntity(&model), nil
}

// ActiveByUser 用户当前在借记录
func (r *loanRepository) ActiveByUser(ctx context.Context, userID uint) ([]*loan.Loan, error) {
	var models []LoanModel
	err := getDB(ctx, r.db).
		Where("borrowed_user_id = ? AND returned_at IS NULL", userID).
		Order("copy_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, translateError(err, "查询在借记录失败")
	}
	return toLoanEntities(models), nil
}

// categoryCountRow 按分类聚合的在借数
type categoryCountRow struct {
	CategoryID uint
	Total      int
}

// ActiveCategoryCounts 在借数按分类聚合
// loans → book_copies → books,按books.category_id分组
func (r *loanRepository) ActiveCategoryCounts(ctx context.Context, userID uint) (map[uint]int, error) {
	var rows []categoryCountRow
	if err := activeCategoryCountsQuery(getDB(ctx, r.db), userID).Scan(&rows).Error; err != nil {
		return nil, translateError(err, "统计在借数失败")
	}

	counts := make(map[uint]int, len(rows))
	for _, row := range rows {
		counts[row.CategoryID] = row.Total
	}
	return counts, nil
}

// LockActive 锁定用户在集合内副本上的在借记录
// 教学要点:
// 1. 命中idx_loans_user_active(borrowed_user_id, returned_at, copy_id),只锁需要的索引记录
// 2. ORDER BY copy_id ASC与副本行的加锁顺序一致
func (r *loanRepository) LockActive(ctx context.Context, userID uint, set inventory.LockSet) ([]*loan.Loan, error) {
	if set.Empty() {
		return nil, nil
	}
	var models []LoanModel
	if err := lockActiveQuery(getDB(ctx, r.db), userID, set).Find(&models).Error; err != nil {
		return nil, translateError(err, "锁定在借记录失败")
	}
	return toLoanEntities(models), nil
}

// MarkReturned 批量设置归还时间
// WHERE returned_at IS NULL保证归还时间只写一次
func (r *loanRepository) MarkReturned(ctx context.Context, loanIDs []uint, at time.Time) (int64, error) {
	if len(loanIDs) == 0 {
		return 0, nil
	}
	result := markReturnedQuery(getDB(ctx, r.db), loanIDs, at)
	if result.Error != nil {
		return 0, translateError(result.Error, "更新归还时间失败")
	}
	return result.RowsAffected, nil
}

// dueLoanRow 到期提醒查询结果
type dueLoanRow struct {
	LoanID    uint
	UserID    uint
	Username  string
	CopyID    uint
	Barcode   string
	BookTitle string
	DueAt     time.Time
}

// ListDue 到期/逾期借阅(按借阅ID游标分页)
func (r *loanRepository) ListDue(ctx context.Context, q loan.DueQuery) ([]*loan.DueLoan, error) {
	var rows []dueLoanRow
	if err := listDueQuery(getDB(ctx, r.db), q).Scan(&rows).Error; err != nil {
		return nil, translateError(err, "查询到期借阅失败")
	}

	result := make([]*loan.DueLoan, len(rows))
	for i, row := range rows {
		result[i] = &loan.DueLoan{
			LoanID:    row.LoanID,
			UserID:    row.UserID,
			Username:  row.Username,
			CopyID:    row.CopyID,
			Barcode:   row.Barcode,
			BookTitle: row.BookTitle,
			DueAt:     row.DueAt,
		}
	}
	return result, nil
}

// =========================================
// 查询构造
// =========================================

func activeCategoryCountsQuery(db *gorm.DB, userID uint) *gorm.DB {
	return db.Table("loans").
		Select("books.category_id AS category_id, COUNT(*) AS total").
		Joins("JOIN book_copies ON book_copies.id = loans.copy_id").
		Joins("JOIN books ON books.id = book_copies.book_id").
		Where("loans.borrowed_user_id = ? AND loans.returned_at IS NULL", userID).
		Group("books.category_id")
}

func lockActiveQuery(db *gorm.DB, userID uint, set inventory.LockSet) *gorm.DB {
	return db.Clauses(forUpdate).
		Where("borrowed_user_id = ? AND returned_at IS NULL AND copy_id IN ?", userID, set.IDs()).
		Order("copy_id ASC")
}

func markReturnedQuery(db *gorm.DB, loanIDs []uint, at time.Time) *gorm.DB {
	return db.Model(&LoanModel{}).
		Where("id IN ? AND returned_at IS NULL", loanIDs).
		Update("returned_at", at)
}

func listDueQuery(db *gorm.DB, q loan.DueQuery) *gorm.DB {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	return db.Table("loans").
		Select("loans.id AS loan_id, loans.borrowed_user_id AS user_id, users.username AS username, "+
			"loans.copy_id AS copy_id, book_copies.barcode AS barcode, books.title AS book_title, loans.due_at AS due_at").
		Joins("JOIN users ON users.id = loans.borrowed_user_id").
		Joins("JOIN book_copies ON book_copies.id = loans.copy_id").
		Joins("JOIN books ON books.id = book_copies.book_id").
		Where("loans.returned_at IS NULL AND loans.due_at <= ? AND loans.id > ?", q.Until, q.AfterID).
		Order("loans.id ASC").
		Limit(limit)
}

// toLoanEntity GORM模型 → 领域实体
func toLoanEntity(model *LoanModel) *loan.Loan {
	return &loan.Loan{
		ID:         model.ID,
		UserID:     model.UserID,
		CopyID:     model.CopyID,
		BorrowedAt: model.BorrowedAt,
		DueAt:      model.DueAt,
		ReturnedAt: model.ReturnedAt,
	}
}

func toLoanEntities(models []LoanModel) []*loan.Loan {
	loans := make([]*loan.Loan, len(models))
	for i := range models {
		loans[i] = toLoanEntity(&models[i])
	}
	return loans
}
