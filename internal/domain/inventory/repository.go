package inventory

import (
	"context"
)

// Repository 馆藏副本仓储接口
// 教学要点:
// 1. 所有加锁读取只接受LockSet,保证升序加锁
// 2. 通过context传递事务(见mysql.TxManager),锁在事务提交/回滚时释放
type Repository interface {
	// FindByID 根据ID查找副本
	// 如果不存在,返回ErrCopyNotFound
	FindByID(ctx context.Context, id uint) (*Copy, error)

	// FindByBarcode 根据条码查找副本
	// 如果不存在,返回ErrBarcodeNotFound
	FindByBarcode(ctx context.Context, barcode string) (*Copy, error)

	// CountByIDs 统计集合中实际存在的副本数(不加锁)
	CountByIDs(ctx context.Context, set LockSet) (int64, error)

	// LockByIDs 悲观锁读取副本
	// SELECT ... WHERE id IN (?) ORDER BY id ASC FOR UPDATE
	// 返回结果按ID升序,不存在的ID不会出现在结果中
	LockByIDs(ctx context.Context, set LockSet) ([]*Copy, error)

	// UpdateStatus 批量状态更新(仅更新当前状态为from的行)
	// 返回实际更新的行数
	UpdateStatus(ctx context.Context, set LockSet, from, to CopyStatus) (int64, error)

	// CategoryIDs 副本ID → 所属图书分类ID
	CategoryIDs(ctx context.Context, set LockSet) (map[uint]uint, error)
}
