package loan

import (
	"time"

	"github.com/xiebiao/circulation/internal/domain/catalog"
)

// DefaultLoanPeriodDays 系统默认借期(天)
const DefaultLoanPeriodDays = 30

// Loan 借阅记录(借阅台账的一行)
// 教学要点:
// 1. ReturnedAt为nil表示"在借"; 同一副本任意时刻最多一条在借记录
// 2. 借出时创建,归还时只设置一次ReturnedAt,永不删除
type Loan struct {
	ID         uint
	UserID     uint       // 借阅者
	CopyID     uint       // 借出的副本
	BorrowedAt time.Time  // 借出时间
	DueAt      time.Time  // 应还时间
	ReturnedAt *time.Time // 归还时间(nil=在借)
}

// NewLoan 创建借阅记录(工厂方法)
func NewLoan(userID, copyID uint, borrowedAt time.Time, periodDays int) *Loan {
	return &Loan{
		UserID:     userID,
		CopyID:     copyID,
		BorrowedAt: borrowedAt,
		DueAt:      borrowedAt.AddDate(0, 0, periodDays),
	}
}

// IsActive 是否在借
func (l *Loan) IsActive() bool {
	return l.ReturnedAt == nil
}

// MarkReturned 标记归还
// 已归还的记录保持原归还时间不变,返回false
func (l *Loan) MarkReturned(at time.Time) bool {
	if !l.IsActive() {
		return false
	}
	returned := at
	l.ReturnedAt = &returned
	return true
}

// LoanPeriodDays 计算借期
// 分类配置了RuleLoanPeriodDays(>0)时优先使用,否则使用默认借期
func LoanPeriodDays(category *catalog.Category, defaultDays int) int {
	if category != nil && category.RuleLoanPeriodDays > 0 {
		return category.RuleLoanPeriodDays
	}
	if defaultDays > 0 {
		return defaultDays
	}
	return DefaultLoanPeriodDays
}

// DueKind 到期提醒类型
type DueKind string

const (
	DueSoon DueKind = "due_soon" // 即将到期
	Overdue DueKind = "overdue"  // 已逾期
)

// DueLoan 到期提醒读模型(借阅 + 用户名 + 书名)
type DueLoan struct {
	LoanID    uint
	UserID    uint
	Username  string
	CopyID    uint
	Barcode   string
	BookTitle string
	DueAt     time.Time
}

// DaysLeft 距应还日的自然日天数(按now所在时区的日期计算,负数表示已逾期)
func (d *DueLoan) DaysLeft(now time.Time) int {
	loc := now.Location()
	today := truncateDay(now)
	due := truncateDay(d.DueAt.In(loc))
	return int(due.Sub(today).Hours() / 24)
}

// Kind 逾期或即将到期
func (d *DueLoan) Kind(now time.Time) DueKind {
	if d.DaysLeft(now) < 0 {
		return Overdue
	}
	return DueSoon
}

func truncateDay(t time.Time) time.Time {
	y, m, day := t.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, t.Location())
}

// DueCutoff 提醒窗口的截止时间:今天 + withinDays 那一天的最后一秒
// 例:now=3月1日10:00, withinDays=5 → 3月6日23:59:59(含已逾期)
func DueCutoff(now time.Time, withinDays int) time.Time {
	return truncateDay(now).AddDate(0, 0, withinDays+1).Add(-time.Second)
}
