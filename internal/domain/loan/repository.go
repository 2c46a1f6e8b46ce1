package loan

import (
	"context"
	"time"

	"github.com/xiebiao/circulation/internal/domain/inventory"
)

// DueQuery 到期提醒查询条件(按借阅ID游标分页)
type DueQuery struct {
	Until   time.Time // due_at <= Until
	AfterID uint      // 游标:只返回ID大于AfterID的记录
	Limit   int       // 每页条数
}

// Repository 借阅台账仓储接口
// 教学要点:
// 1. 写操作必须在事务内调用(context携带事务DB)
// 2. LockActive按副本ID升序加锁,与副本行的加锁顺序一致
type Repository interface {
	// CreateBatch 批量创建借阅记录,回填ID
	CreateBatch(ctx context.Context, loans []*Loan) error

	// FindByID 根据ID查找借阅记录
	// 如果不存在,返回ErrLoanNotFound
	FindByID(ctx context.Context, id uint) (*Loan, error)

	// LockByID 悲观锁读取单条借阅记录
	// 如果不存在,返回ErrLoanNotFound
	LockByID(ctx context.Context, id uint) (*Loan, error)

	// ActiveByUser 用户当前在借记录(按副本ID升序)
	ActiveByUser(ctx context.Context, userID uint) ([]*Loan, error)

	// ActiveCategoryCounts 用户当前在借数,按图书分类聚合(分类ID → 数量)
	ActiveCategoryCounts(ctx context.Context, userID uint) (map[uint]int, error)

	// LockActive 锁定用户在集合内副本上的在借记录
	// SELECT ... WHERE borrowed_user_id = ? AND returned_at IS NULL AND copy_id IN (?)
	// ORDER BY copy_id ASC FOR UPDATE
	LockActive(ctx context.Context, userID uint, set inventory.LockSet) ([]*Loan, error)

	// MarkReturned 批量设置归还时间(仅更新尚未归还的记录),返回更新行数
	MarkReturned(ctx context.Context, loanIDs []uint, at time.Time) (int64, error)

	// ListDue 未归还且 due_at <= Until 的记录(含已逾期),按借阅ID升序
	ListDue(ctx context.Context, q DueQuery) ([]*DueLoan, error)
}
