// Package circulation 借还事务引擎
//
// 一次借阅/归还的处理分三段:
//
//  1. 标识归一化:副本ID或条码 → 去重升序的LockSet
//  2. 预检查(不加锁):副本存在性、分类额度,快速拒绝明显非法的请求
//  3. 加锁事务:按ID升序锁定行 → 重新校验 → 写借阅记录/更新副本状态 → 提交
//
// 预检查只是优化,正确性由第3步保证:两个请求竞争同一副本时,
// 后到者在行锁上等待,拿到锁后看到的已经是BORROWED,以冲突失败。
// 引擎内部不重试;锁等待超时以可重试冲突(apperrors.IsRetryable)返回给调用方。
package circulation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xiebiao/circulation/internal/domain/catalog"
	"github.com/xiebiao/circulation/internal/domain/inventory"
	"github.com/xiebiao/circulation/internal/domain/loan"
	"github.com/xiebiao/circulation/internal/domain/user"
	apperrors "github.com/xiebiao/circulation/pkg/errors"
	"github.com/xiebiao/circulation/pkg/logger"
	"github.com/xiebiao/circulation/pkg/metrics"
	"github.com/xiebiao/circulation/pkg/tracing"
)

const tracerName = "circulation"

// 操作名(指标标签、Span名、日志字段共用)
const (
	opBorrow       = "borrow"
	opReturn       = "return"
	opReturnSingle = "return_single"
)

// Transactor 事务边界
// fn内通过ctx调用的Repository方法都在同一事务中执行,fn返回error时整体回滚
// mysql.TxManager是生产实现
type Transactor interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Options 引擎配置
type Options struct {
	// Policy 分类额度策略
	Policy loan.QuotaPolicy
	// DefaultPeriodDays 分类未配置借期时使用的默认借期
	DefaultPeriodDays int
	// StrictQuota 事务内锁定用户行并重新校验额度
	StrictQuota bool
	Logger      *zap.Logger
	// Now 时钟(测试注入),默认time.Now
	Now func() time.Time
}

// Engine 借还事务引擎
// 无进程内共享状态,可以被任意多个goroutine并发调用
type Engine struct {
	users   user.Repository
	copies  inventory.Repository
	loans   loan.Repository
	catalog catalog.Repository
	tx      Transactor

	policy            loan.QuotaPolicy
	defaultPeriodDays int
	strictQuota       bool
	logger            *zap.Logger
	now               func() time.Time
}

// NewEngine 创建借还引擎
func NewEngine(
	users user.Repository,
	copies inventory.Repository,
	loans loan.Repository,
	catalogRepo catalog.Repository,
	tx Transactor,
	opts Options,
) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultPeriodDays <= 0 {
		opts.DefaultPeriodDays = loan.DefaultLoanPeriodDays
	}
	return &Engine{
		users:             users,
		copies:            copies,
		loans:             loans,
		catalog:           catalogRepo,
		tx:                tx,
		policy:            opts.Policy,
		defaultPeriodDays: opts.DefaultPeriodDays,
		strictQuota:       opts.StrictQuota,
		logger:            opts.Logger,
		now:               opts.Now,
	}
}

// startOperation 开启Span、在途计数,返回结束回调(记录指标、日志、Span状态)
func (e *Engine) startOperation(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(err error, fields ...zap.Field)) {
	ctx, span := tracing.StartSpan(ctx, tracerName, op)
	span.SetAttributes(attrs...)
	start := time.Now()
	metrics.IncGauge(metrics.CirculationInProgress)

	return ctx, func(err error, fields ...zap.Field) {
		metrics.DecGauge(metrics.CirculationInProgress)
		metrics.ObserveOperation(op, start, err)
		e.logOutcome(ctx, op, err, fields...)
		tracing.EndSpan(span, err)
	}
}

// logOutcome 成功Info,业务拒绝Warn,基础设施错误Error
func (e *Engine) logOutcome(ctx context.Context, op string, err error, fields ...zap.Field) {
	log := logger.WithTrace(ctx, e.logger).With(zap.String("operation", op))
	if err == nil {
		log.Info("借还操作完成", fields...)
		return
	}

	kind := apperrors.KindOf(err)
	fields = append(fields, zap.String("kind", kind.String()), zap.Error(err))
	if kind == apperrors.KindInternal {
		log.Error("借还操作失败", fields...)
		return
	}
	log.Warn("借还请求被拒绝", fields...)
}

// ensureUser 用户必须存在
func (e *Engine) ensureUser(ctx context.Context, userID uint) error {
	if userID == 0 {
		return apperrors.New(apperrors.ErrCodeInvalidParams, "用户ID不能为空")
	}
	_, err := e.users.FindByID(ctx, userID)
	return err
}

// ensureCopiesExist 集合内的副本必须全部存在(不加锁)
func (e *Engine) ensureCopiesExist(ctx context.Context, set inventory.LockSet) error {
	count, err := e.copies.CountByIDs(ctx, set)
	if err != nil {
		return err
	}
	if count != int64(set.Len()) {
		return inventory.ErrCopyNotFound
	}
	return nil
}
