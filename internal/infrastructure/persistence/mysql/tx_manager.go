package mysql

import (
	"context"

	"gorm.io/gorm"
)

// txKey context中事务DB的键(私有类型,避免与其他包的键冲突)
type txKey struct{}

// TxManager 事务管理器
// 教学要点:
// 1. 封装GORM的Transaction方法
// 2. 通过context传递事务DB(避免全局变量)
// 3. 行锁(FOR UPDATE)在事务提交或回滚时统一释放
type TxManager struct {
	db *gorm.DB
}

// NewTxManager 创建事务管理器
func NewTxManager(db *gorm.DB) *TxManager {
	return &TxManager{db: db}
}

// Transaction 执行事务
// fn返回error时ROLLBACK,返回nil时COMMIT
//
// 使用示例:
//
//	err := txManager.Transaction(ctx, func(ctx context.Context) error {
//	    copies, err := copyRepo.LockByIDs(ctx, set)
//	    if err != nil {
//	        return err // 回滚
//	    }
//	    return loanRepo.CreateBatch(ctx, loans)
//	})
//
// 提交阶段的驱动错误(如死锁牺牲者)同样经过translateError
func (m *TxManager) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
	return translateError(err, "事务执行失败")
}

// getDB 从context获取事务DB,如果没有则使用默认DB
// 所有Repository都必须通过它取DB,才能参与调用方开启的事务
func getDB(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}
