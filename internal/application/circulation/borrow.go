package circulation

import (
	"context"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xiebiao/circulation/internal/domain/catalog"
	"github.com/xiebiao/circulation/internal/domain/inventory"
	"github.com/xiebiao/circulation/internal/domain/loan"
	"github.com/xiebiao/circulation/pkg/metrics"
)

// borrowPlan 预检查的产物,加锁阶段复用(分类不会在借阅过程中变化)
type borrowPlan struct {
	copyCategory map[uint]uint              // 副本ID → 分类ID
	categories   map[uint]*catalog.Category // 分类ID → 分类
	requested    map[uint]int               // 分类ID → 本批次数量
}

// categoryOf 副本所属分类(未知时为nil,借期取默认值)
func (p *borrowPlan) categoryOf(copyID uint) *catalog.Category {
	categoryID, ok := p.copyCategory[copyID]
	if !ok {
		return nil
	}
	return p.categories[categoryID]
}

// Borrow 批量借阅
//
// 全部成功或全部失败:任一副本不可借、不存在或额度超限,整个批次回滚。
// 错误:
//   - InvalidRequest: 空批次、非法标识
//   - NotFound: 用户/副本/条码不存在
//   - QuotaExceeded: 分类额度超限(Details为[]loan.QuotaViolation)
//   - Conflict: 副本不可借(Details列出副本ID)、锁等待超时(可重试)
func (e *Engine) Borrow(ctx context.Context, req BorrowRequest) (resp *BorrowResponse, err error) {
	ctx, finish := e.startOperation(ctx, opBorrow,
		attribute.Int("user.id", int(req.UserID)),
		attribute.Int("batch.size", len(req.Items)),
	)
	defer func() {
		finish(err, zap.Uint("user_id", req.UserID), zap.Int("items", len(req.Items)), zap.Int("loans", loanCount(resp)))
	}()

	// 1. 用户存在性 + 标识归一化
	if len(req.Items) == 0 {
		return nil, inventory.ErrEmptyBatch
	}
	if err := e.ensureUser(ctx, req.UserID); err != nil {
		return nil, err
	}
	set, err := e.normalize(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	// 2. 预检查(不加锁)
	plan, err := e.precheckBorrow(ctx, req.UserID, set)
	if err != nil {
		return nil, err
	}

	// 3. 加锁事务
	var created []*loan.Loan
	err = e.tx.Transaction(ctx, func(txCtx context.Context) error {
		var txErr error
		created, txErr = e.borrowLocked(txCtx, req.UserID, set, plan)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	metrics.AddCounter(metrics.CopiesBorrowedTotal, len(created))

	resp = &BorrowResponse{Loans: make([]BorrowedLoan, len(created))}
	for i, l := range created {
		resp.Loans[i] = BorrowedLoan{LoanID: l.ID, CopyID: l.CopyID, DueAt: l.DueAt}
	}
	return resp, nil
}

// precheckBorrow 事务外的存在性与额度检查
// 读到的数据可能已过期,只用来尽早拒绝;严格模式下额度在事务内再查一次
func (e *Engine) precheckBorrow(ctx context.Context, userID uint, set inventory.LockSet) (*borrowPlan, error) {
	if err := e.ensureCopiesExist(ctx, set); err != nil {
		return nil, err
	}

	copyCategory, err := e.copies.CategoryIDs(ctx, set)
	if err != nil {
		return nil, err
	}
	categories, err := e.catalog.FindCategories(ctx, lo.Uniq(lo.Values(copyCategory)))
	if err != nil {
		return nil, err
	}

	plan := &borrowPlan{
		copyCategory: copyCategory,
		categories:   categories,
		requested:    make(map[uint]int, len(categories)),
	}
	for _, categoryID := range copyCategory {
		plan.requested[categoryID]++
	}

	if err := e.checkQuota(ctx, userID, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// checkQuota 当前在借数 + 本批次数量不能超过分类上限
// 任一分类超限,整个批次拒绝;所有超限分类都放在错误详情里
func (e *Engine) checkQuota(ctx context.Context, userID uint, plan *borrowPlan) error {
	current, err := e.loans.ActiveCategoryCounts(ctx, userID)
	if err != nil {
		return err
	}
	if violations := e.policy.Evaluate(plan.categories, current, plan.requested); len(violations) > 0 {
		return loan.NewQuotaError(violations)
	}
	return nil
}

// borrowLocked 事务内的借阅步骤
//
//  1. (严格模式)锁定用户行,同一用户的借阅串行执行
//  2. 按ID升序锁定副本行
//  3. 任一副本不是AVAILABLE → Conflict(列出副本ID)
//  4. 锁到的行数少于请求数 → NotFound
//  5. (严格模式)重新统计在借数校验额度
//  6. 写入借阅记录,副本AVAILABLE → BORROWED
func (e *Engine) borrowLocked(ctx context.Context, userID uint, set inventory.LockSet, plan *borrowPlan) ([]*loan.Loan, error) {
	if e.strictQuota {
		if _, err := e.users.LockByID(ctx, userID); err != nil {
			return nil, err
		}
	}

	copies, err := e.copies.LockByIDs(ctx, set)
	if err != nil {
		return nil, err
	}

	var unavailable []uint
	for _, c := range copies {
		if !c.IsAvailable() {
			unavailable = append(unavailable, c.ID)
		}
	}
	if len(unavailable) > 0 {
		return nil, inventory.NewUnavailableError(unavailable)
	}
	if len(copies) != set.Len() {
		return nil, inventory.ErrCopyNotFound
	}

	// 用户行锁之后的第一次普通读,看到的是其他借阅提交后的在借数
	if e.strictQuota {
		if err := e.checkQuota(ctx, userID, plan); err != nil {
			return nil, err
		}
	}

	now := e.now()
	created := make([]*loan.Loan, len(copies))
	for i, c := range copies {
		period := loan.LoanPeriodDays(plan.categoryOf(c.ID), e.defaultPeriodDays)
		created[i] = loan.NewLoan(userID, c.ID, now, period)
	}
	if err := e.loans.CreateBatch(ctx, created); err != nil {
		return nil, err
	}

	updated, err := e.copies.UpdateStatus(ctx, set, inventory.StatusAvailable, inventory.StatusBorrowed)
	if err != nil {
		return nil, err
	}
	if updated != int64(set.Len()) {
		return nil, inventory.ErrCopyUnavailable
	}
	return created, nil
}

func loanCount(resp *BorrowResponse) int {
	if resp == nil {
		return 0
	}
	return len(resp.Loans)
}
