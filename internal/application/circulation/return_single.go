package circulation

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xiebiao/circulation/internal/domain/inventory"
	"github.com/xiebiao/circulation/internal/domain/loan"
	"github.com/xiebiao/circulation/pkg/metrics"
)

// ReturnSingle 按借阅ID归还(管理端)
//
// 幂等:已归还的记录原样返回第一次的归还时间,不报错。
// 错误:InvalidRequest(ID为0)、NotFound(记录不存在)、Conflict(锁等待超时)
func (e *Engine) ReturnSingle(ctx context.Context, loanID uint) (resp *ReturnSingleResponse, err error) {
	ctx, finish := e.startOperation(ctx, opReturnSingle, attribute.Int("loan.id", int(loanID)))
	defer func() {
		fields := []zap.Field{zap.Uint("loan_id", loanID)}
		if resp != nil {
			fields = append(fields, zap.Bool("already_returned", resp.AlreadyReturned))
		}
		finish(err, fields...)
	}()

	if loanID == 0 {
		return nil, loan.ErrInvalidLoanID
	}

	err = e.tx.Transaction(ctx, func(txCtx context.Context) error {
		// 锁顺序与批量归还一致:先借阅行,后副本行
		l, txErr := e.loans.LockByID(txCtx, loanID)
		if txErr != nil {
			return txErr
		}

		if !l.IsActive() {
			resp = &ReturnSingleResponse{
				LoanID:          l.ID,
				CopyID:          l.CopyID,
				ReturnedAt:      *l.ReturnedAt,
				AlreadyReturned: true,
			}
			return nil
		}

		now := e.now()
		if _, txErr = e.loans.MarkReturned(txCtx, []uint{l.ID}, now); txErr != nil {
			return txErr
		}
		if txErr = e.releaseCopies(txCtx, inventory.NewLockSet(l.CopyID)); txErr != nil {
			return txErr
		}

		resp = &ReturnSingleResponse{LoanID: l.ID, CopyID: l.CopyID, ReturnedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !resp.AlreadyReturned {
		metrics.AddCounter(metrics.CopiesReturnedTotal, 1)
	}
	return resp, nil
}
