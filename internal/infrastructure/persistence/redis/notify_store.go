package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xiebiao/circulation/internal/domain/loan"
	apperrors "github.com/xiebiao/circulation/pkg/errors"
)

// NotifyStore 到期提醒的协调状态
// 设计说明：
// 1. 扫描租约：多实例部署时同一时刻只有一个实例扫描台账
// 2. 去重标记：同一借阅、同一类型、同一天只发布一次提醒
// 3. Key设计：lease:{name}、notified:{loan_id}:{kind}:{yyyymmdd}
type NotifyStore struct {
	client *redis.Client
	// notifiedTTL 去重标记保留时间（跨过自然日后标记自动失效）
	notifiedTTL time.Duration
}

// NewNotifyStore 创建提醒状态存储
func NewNotifyStore(client *redis.Client) *NotifyStore {
	return &NotifyStore{
		client:      client,
		notifiedTTL: 48 * time.Hour,
	}
}

// releaseLeaseScript 只删除自己持有的租约（比较owner后删除，保证原子性）
var releaseLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireLease 获取扫描租约
// SET lease:{name} {owner} NX PX ttl
// 返回false表示其他实例持有租约
func (s *NotifyStore) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, leaseKey(name), owner, ttl).Result()
	if err != nil {
		return false, apperrors.WrapCode(err, apperrors.ErrCodeRedisError, "获取扫描租约失败")
	}
	return ok, nil
}

// ReleaseLease 释放扫描租约（租约已过期或被他人持有时不做任何事）
func (s *NotifyStore) ReleaseLease(ctx context.Context, name, owner string) error {
	if err := releaseLeaseScript.Run(ctx, s.client, []string{leaseKey(name)}, owner).Err(); err != nil {
		return apperrors.WrapCode(err, apperrors.ErrCodeRedisError, "释放扫描租约失败")
	}
	return nil
}

// MarkNotified 占用当天的提醒名额
// 返回false表示当天已经提醒过
func (s *NotifyStore) MarkNotified(ctx context.Context, loanID uint, kind loan.DueKind, day time.Time) (bool, error) {
	ok, err := s.client.SetNX(ctx, notifiedKey(loanID, kind, day), 1, s.notifiedTTL).Result()
	if err != nil {
		return false, apperrors.WrapCode(err, apperrors.ErrCodeRedisError, "写入提醒标记失败")
	}
	return ok, nil
}

// UnmarkNotified 撤销提醒标记（发布失败时调用，下一轮扫描会重试）
func (s *NotifyStore) UnmarkNotified(ctx context.Context, loanID uint, kind loan.DueKind, day time.Time) error {
	if err := s.client.Del(ctx, notifiedKey(loanID, kind, day)).Err(); err != nil {
		return apperrors.WrapCode(err, apperrors.ErrCodeRedisError, "撤销提醒标记失败")
	}
	return nil
}

// Ping 就绪检查
func (s *NotifyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func leaseKey(name string) string {
	return "lease:" + name
}

func notifiedKey(loanID uint, kind loan.DueKind, day time.Time) string {
	return fmt.Sprintf("notified:%d:%s:%s", loanID, kind, day.Format("20060102"))
}
