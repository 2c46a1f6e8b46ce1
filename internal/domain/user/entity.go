package user

import (
	"time"
)

// User 借阅者
// 借还流程只关心用户是否存在;账号/认证属于其他模块
type User struct {
	ID        uint
	Username  string
	Role      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
