package inventory

import (
	"slices"

	"github.com/samber/lo"
)

// LockSet 去重且升序排列的副本ID集合
// 所有行锁(副本行、借阅行)都必须按LockSet的顺序获取:
// 两个批次无论提交顺序如何,加锁顺序一致,不会形成循环等待
type LockSet struct {
	ids []uint
}

// NewLockSet 去重并升序排序
func NewLockSet(ids ...uint) LockSet {
	uniq := lo.Uniq(ids)
	slices.Sort(uniq)
	return LockSet{ids: uniq}
}

// IDs 返回ID副本(调用方修改不影响集合本身)
func (s LockSet) IDs() []uint {
	return slices.Clone(s.ids)
}

// Len 集合大小
func (s LockSet) Len() int {
	return len(s.ids)
}

// Empty 是否为空
func (s LockSet) Empty() bool {
	return len(s.ids) == 0
}

// Contains 二分查找
func (s LockSet) Contains(id uint) bool {
	_, ok := slices.BinarySearch(s.ids, id)
	return ok
}

// Missing 返回集合中未出现在found里的ID(升序)
func (s LockSet) Missing(found []uint) []uint {
	return lo.Without(s.ids, found...)
}
