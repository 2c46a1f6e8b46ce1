package circulation

import (
	"context"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xiebiao/circulation/internal/domain/inventory"
	"github.com/xiebiao/circulation/internal/domain/loan"
	"github.com/xiebiao/circulation/pkg/logger"
	"github.com/xiebiao/circulation/pkg/metrics"
)

// Return 批量归还
//
// 请求中的每个副本都必须是该用户的在借记录,否则整个批次拒绝(Conflict,Details列出副本ID)。
// 错误:
//   - InvalidRequest: 空批次、非法标识
//   - NotFound: 用户/副本/条码不存在
//   - Conflict: 副本未被该用户借出、锁等待超时(可重试)
func (e *Engine) Return(ctx context.Context, req ReturnRequest) (resp *ReturnResponse, err error) {
	ctx, finish := e.startOperation(ctx, opReturn,
		attribute.Int("user.id", int(req.UserID)),
		attribute.Int("batch.size", len(req.Items)),
	)
	defer func() {
		returned := 0
		if resp != nil {
			returned = len(resp.Loans)
		}
		finish(err, zap.Uint("user_id", req.UserID), zap.Int("items", len(req.Items)), zap.Int("loans", returned))
	}()

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
	if err := e.ensureCopiesExist(ctx, set); err != nil {
		return nil, err
	}

	var returned []*loan.Loan
	err = e.tx.Transaction(ctx, func(txCtx context.Context) error {
		var txErr error
		returned, txErr = e.returnLocked(txCtx, req.UserID, set)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	metrics.AddCounter(metrics.CopiesReturnedTotal, len(returned))

	resp = &ReturnResponse{Loans: make([]ReturnedLoan, len(returned))}
	for i, l := range returned {
		resp.Loans[i] = ReturnedLoan{LoanID: l.ID, CopyID: l.CopyID, ReturnedAt: *l.ReturnedAt}
	}
	return resp, nil
}

// returnLocked 事务内的归还步骤
//
//  1. 按副本ID升序锁定该用户在集合内的在借记录
//  2. 锁到的记录少于请求数 → Conflict,列出没有在借记录的副本ID(集合差)
//  3. 设置归还时间,副本BORROWED → AVAILABLE
func (e *Engine) returnLocked(ctx context.Context, userID uint, set inventory.LockSet) ([]*loan.Loan, error) {
	active, err := e.loans.LockActive(ctx, userID, set)
	if err != nil {
		return nil, err
	}
	if len(active) < set.Len() {
		found := lo.Map(active, func(l *loan.Loan, _ int) uint { return l.CopyID })
		return nil, loan.NewNotActiveError(set.Missing(found))
	}

	now := e.now()
	loanIDs := make([]uint, len(active))
	for i, l := range active {
		l.MarkReturned(now)
		loanIDs[i] = l.ID
	}

	marked, err := e.loans.MarkReturned(ctx, loanIDs, now)
	if err != nil {
		return nil, err
	}
	if marked != int64(len(loanIDs)) {
		return nil, loan.ErrLoanNotActive
	}

	if err := e.releaseCopies(ctx, set); err != nil {
		return nil, err
	}
	return active, nil
}

// releaseCopies 副本BORROWED → AVAILABLE
// 借出期间被下架(DELETED)的副本不会被恢复,只记录日志
func (e *Engine) releaseCopies(ctx context.Context, set inventory.LockSet) error {
	updated, err := e.copies.UpdateStatus(ctx, set, inventory.StatusBorrowed, inventory.StatusAvailable)
	if err != nil {
		return err
	}
	if updated != int64(set.Len()) {
		logger.WithTrace(ctx, e.logger).Warn("部分归还副本不是借出状态,未恢复为可借",
			zap.Uints("copy_ids", set.IDs()),
			zap.Int64("updated", updated),
		)
	}
	return nil
}
