package user

import (
	"context"

	apperrors "github.com/xiebiao/circulation/pkg/errors"
)

// ErrUserNotFound 用户不存在
var ErrUserNotFound = apperrors.ErrUserNotFound

// Repository 用户仓储接口
// DDD设计说明：
// 1. 接口定义在domain层（依赖倒置原则）
// 2. 具体实现在infrastructure/persistence/mysql层
type Repository interface {
	// FindByID 根据ID查找用户
	// 如果不存在，返回ErrUserNotFound
	FindByID(ctx context.Context, id uint) (*User, error)

	// LockByID 悲观锁读取用户行（严格额度模式下串行化同一用户的借阅）
	LockByID(ctx context.Context, id uint) (*User, error)
}
