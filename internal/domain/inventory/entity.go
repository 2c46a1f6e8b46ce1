package inventory

import (
	"time"
)

// CopyStatus 副本状态
// 教学要点:
// 1. 使用字符串存储(与数据库enum列保持一致,日志可读)
// 2. DELETED是终态,任何状态都不能从DELETED流出
type CopyStatus string

const (
	StatusAvailable CopyStatus = "AVAILABLE" // 在架可借
	StatusBorrowed  CopyStatus = "BORROWED"  // 已借出
	StatusDeleted   CopyStatus = "DELETED"   // 已下架(软删除)
)

// String 实现Stringer接口
func (s CopyStatus) String() string {
	return string(s)
}

// Valid 是否为已定义的状态
func (s CopyStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusBorrowed, StatusDeleted:
		return true
	default:
		return false
	}
}

// transitions 合法的状态流转
//
//	AVAILABLE → BORROWED → AVAILABLE (借还循环)
//	AVAILABLE/BORROWED → DELETED    (下架,终态)
var transitions = map[CopyStatus][]CopyStatus{
	StatusAvailable: {StatusBorrowed, StatusDeleted},
	StatusBorrowed:  {StatusAvailable, StatusDeleted},
	StatusDeleted:   {},
}

// CanTransitionTo 检查是否可以转换到目标状态
func (s CopyStatus) CanTransitionTo(target CopyStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Copy 馆藏副本(一本可单独追踪的实体书)
type Copy struct {
	ID        uint
	BookID    uint       // 所属图书
	BranchID  uint       // 所属分馆
	Barcode   string     // 条码(全局唯一)
	Status    CopyStatus // 当前状态
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAvailable 是否可借
func (c *Copy) IsAvailable() bool {
	return c.Status == StatusAvailable
}

// TransitionTo 状态转换
func (c *Copy) TransitionTo(target CopyStatus) error {
	if !c.Status.CanTransitionTo(target) {
		return ErrInvalidStatusTransition
	}
	c.Status = target
	c.UpdatedAt = time.Now()
	return nil
}
