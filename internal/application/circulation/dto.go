package circulation

import (
	"time"

	"github.com/xiebiao/circulation/internal/domain/inventory"
	"github.com/xiebiao/circulation/internal/domain/loan"
)

// BorrowRequest 借阅请求
type BorrowRequest struct {
	UserID uint                // 借阅者
	Items  []inventory.CopyRef // 副本ID或条码
}

// BorrowedLoan 单个副本的借阅结果
type BorrowedLoan struct {
	LoanID uint      `json:"loan_id"`
	CopyID uint      `json:"copy_id"`
	DueAt  time.Time `json:"due_at"`
}

// BorrowResponse 借阅结果(按副本ID升序)
type BorrowResponse struct {
	Loans []BorrowedLoan `json:"loans"`
}

// ReturnRequest 归还请求
type ReturnRequest struct {
	UserID uint
	Items  []inventory.CopyRef
}

// ReturnedLoan 单个副本的归还结果
type ReturnedLoan struct {
	LoanID     uint      `json:"loan_id"`
	CopyID     uint      `json:"copy_id"`
	ReturnedAt time.Time `json:"returned_at"`
}

// ReturnResponse 归还结果(按副本ID升序)
type ReturnResponse struct {
	Loans []ReturnedLoan `json:"loans"`
}

// ReturnSingleResponse 按借阅ID归还的结果
type ReturnSingleResponse struct {
	LoanID     uint      `json:"loan_id"`
	CopyID     uint      `json:"copy_id"`
	ReturnedAt time.Time `json:"returned_at"`
	// AlreadyReturned 重复归还时为true,ReturnedAt保持第一次归还的时间
	AlreadyReturned bool `json:"already_returned"`
}

// ActiveLoan 在借记录
type ActiveLoan struct {
	LoanID     uint      `json:"loan_id"`
	CopyID     uint      `json:"copy_id"`
	BorrowedAt time.Time `json:"borrowed_at"`
	DueAt      time.Time `json:"due_at"`
	Overdue    bool      `json:"overdue"`
}

// DueLoansRequest 到期查询(按借阅ID游标分页)
type DueLoansRequest struct {
	WithinDays int  // 今天起N天内到期(含已逾期)
	AfterID    uint // 上一页最后一条的LoanID,首页为0
	Limit      int  // 每页条数,默认100
}

// DueLoanItem 到期/逾期借阅
type DueLoanItem struct {
	LoanID    uint         `json:"loan_id"`
	UserID    uint         `json:"user_id"`
	Username  string       `json:"username"`
	CopyID    uint         `json:"copy_id"`
	Barcode   string       `json:"barcode"`
	BookTitle string       `json:"book_title"`
	DueAt     time.Time    `json:"due_at"`
	DaysLeft  int          `json:"days_left"`
	Kind      loan.DueKind `json:"kind"`
}

// DueLoansResponse 到期查询结果
type DueLoansResponse struct {
	Items []DueLoanItem `json:"items"`
	// NextAfterID 下一页游标;为0表示没有更多数据
	NextAfterID uint `json:"next_after_id"`
}
