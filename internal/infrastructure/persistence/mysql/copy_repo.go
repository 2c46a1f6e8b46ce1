package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/xiebiao/circulation/internal/domain/inventory"
)

// copyRepository 馆藏副本仓储实现(MySQL)
type copyRepository struct {
	db *gorm.DB
}

// NewCopyRepository 创建副本仓储
func NewCopyRepository(db *gorm.DB) inventory.Repository {
	return &copyRepository{db: db}
}

// FindByID 根据ID查找副本
func (r *copyRepository) FindByID(ctx context.Context, id uint) (*inventory.Copy, error) {
	var model CopyModel
	err := getDB(ctx, r.db).First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, inventory.ErrCopyNotFound
		}
		return nil, translateError(err, "查询副本失败")
	}
	return toCopyEntity(&model), nil
}

// FindByBarcode 根据条码查找副本(条码有唯一索引)
func (r *copyRepository) FindByBarcode(ctx context.Context, barcode string) (*inventory.Copy, error) {
	var model CopyModel
	err := getDB(ctx, r.db).Where("barcode = ?", barcode).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, inventory.ErrBarcodeNotFound
		}
		return nil, translateError(err, "按条码查询副本失败")
	}
	return toCopyEntity(&model), nil
}

// CountByIDs 统计存在的副本数(不加锁,预检查使用)
func (r *copyRepository) CountByIDs(ctx context.Context, set inventory.LockSet) (int64, error) {
	if set.Empty() {
		return 0, nil
	}
	var count int64
	err := countCopiesQuery(getDB(ctx, r.db), set).Count(&count).Error
	if err != nil {
		return 0, translateError(err, "统计副本失败")
	}
	return count, nil
}

// LockByIDs 悲观锁读取副本
// 教学要点:
// 1. 必须使用getDB(ctx)从context获取事务DB,否则锁在语句结束时就释放了
// 2. ORDER BY id ASC保证加锁顺序与LockSet一致,批次之间不会死锁
func (r *copyRepository) LockByIDs(ctx context.Context, set inventory.LockSet) ([]*inventory.Copy, error) {
	if set.Empty() {
		return nil, nil
	}
	var models []CopyModel
	if err := lockCopiesQuery(getDB(ctx, r.db), set).Find(&models).Error; err != nil {
		return nil, translateError(err, "锁定副本失败")
	}

	copies := make([]*inventory.Copy, len(models))
	for i := range models {
		copies[i] = toCopyEntity(&models[i])
	}
	return copies, nil
}

// UpdateStatus 批量状态更新
// UPDATE book_copies SET status = ? WHERE id IN ? AND status = ?
// 带上原状态作为条件,影响行数小于批次大小说明有副本状态已变化
func (r *copyRepository) UpdateStatus(ctx context.Context, set inventory.LockSet, from, to inventory.CopyStatus) (int64, error) {
	if set.Empty() {
		return 0, nil
	}
	if !from.CanTransitionTo(to) {
		return 0, inventory.ErrInvalidStatusTransition
	}
	result := updateStatusQuery(getDB(ctx, r.db), set, from, to)
	if result.Error != nil {
		return 0, translateError(result.Error, "更新副本状态失败")
	}
	return result.RowsAffected, nil
}

// copyCategoryRow 副本 → 分类的查询结果
type copyCategoryRow struct {
	CopyID     uint
	CategoryID uint
}

// CategoryIDs 副本ID → 分类ID(经由books表)
func (r *copyRepository) CategoryIDs(ctx context.Context, set inventory.LockSet) (map[uint]uint, error) {
	if set.Empty() {
		return map[uint]uint{}, nil
	}
	var rows []copyCategoryRow
	if err := copyCategoriesQuery(getDB(ctx, r.db), set).Scan(&rows).Error; err != nil {
		return nil, translateError(err, "查询副本分类失败")
	}

	result := make(map[uint]uint, len(rows))
	for _, row := range rows {
		result[row.CopyID] = row.CategoryID
	}
	return result, nil
}

// =========================================
// 查询构造(单独拆出,便于用DryRun校验SQL)
// =========================================

func countCopiesQuery(db *gorm.DB, set inventory.LockSet) *gorm.DB {
	return db.Model(&CopyModel{}).Where("id IN ?", set.IDs())
}

func lockCopiesQuery(db *gorm.DB, set inventory.LockSet) *gorm.DB {
	return db.Clauses(forUpdate).Where("id IN ?", set.IDs()).Order("id ASC")
}

func updateStatusQuery(db *gorm.DB, set inventory.LockSet, from, to inventory.CopyStatus) *gorm.DB {
	return db.Model(&CopyModel{}).
		Where("id IN ? AND status = ?", set.IDs(), string(from)).
		Update("status", string(to))
}

func copyCategoriesQuery(db *gorm.DB, set inventory.LockSet) *gorm.DB {
	return db.Table("book_copies").
		Select("book_copies.id AS copy_id, books.category_id AS category_id").
		Joins("JOIN books ON books.id = book_copies.book_id").
		Where("book_copies.id IN ?", set.IDs())
}

// toCopyEntity GORM模型 → 领域实体
func toCopyEntity(model *CopyModel) *inventory.Copy {
	return &inventory.Copy{
		ID:        model.ID,
		BookID:    model.BookID,
		BranchID:  model.BranchID,
		Barcode:   model.Barcode,
		Status:    inventory.CopyStatus(model.Status),
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}
