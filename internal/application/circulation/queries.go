package circulation

import (
	"context"

	"github.com/xiebiao/circulation/internal/domain/loan"
	apperrors "github.com/xiebiao/circulation/pkg/errors"
)

const defaultDuePageSize = 100

// ActiveLoans 用户当前在借记录(按副本ID升序)
func (e *Engine) ActiveLoans(ctx context.Context, userID uint) ([]ActiveLoan, error) {
	if err := e.ensureUser(ctx, userID); err != nil {
		return nil, err
	}

	loans, err := e.loans.ActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	result := make([]ActiveLoan, len(loans))
	for i, l := range loans {
		result[i] = ActiveLoan{
			LoanID:     l.ID,
			CopyID:     l.CopyID,
			BorrowedAt: l.BorrowedAt,
			DueAt:      l.DueAt,
			Overdue:    l.DueAt.Before(now),
		}
	}
	return result, nil
}

// DueLoans 今天起WithinDays天内到期(含已逾期)的未归还借阅
// 供到期提醒使用:每条记录带上用户名、条码、书名,并按今天的日期分类为due_soon/overdue
func (e *Engine) DueLoans(ctx context.Context, req DueLoansRequest) (*DueLoansResponse, error) {
	if req.WithinDays < 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidParams, "提醒窗口天数不能为负数: %d", req.WithinDays)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultDuePageSize
	}

	now := e.now()
	rows, err := e.loans.ListDue(ctx, loan.DueQuery{
		Until:   loan.DueCutoff(now, req.WithinDays),
		AfterID: req.AfterID,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}

	resp := &DueLoansResponse{Items: make([]DueLoanItem, len(rows))}
	for i, d := range rows {
		resp.Items[i] = DueLoanItem{
			LoanID:    d.LoanID,
			UserID:    d.UserID,
			Username:  d.Username,
			CopyID:    d.CopyID,
			Barcode:   d.Barcode,
			BookTitle: d.BookTitle,
			DueAt:     d.DueAt,
			DaysLeft:  d.DaysLeft(now),
			Kind:      d.Kind(now),
		}
	}
	// 满页才可能还有下一页
	if len(rows) == limit {
		resp.NextAfterID = rows[len(rows)-1].LoanID
	}
	return resp, nil
}
