// Package notification 到期提醒
//
// DueNotifier定期扫描借阅台账,把即将到期和已逾期的借阅发布到消息队列,
// 由下游(邮件、短信)订阅投递。进程只负责"发布提醒事件",不关心投递方式。
package notification

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xiebiao/circulation/internal/application/circulation"
	"github.com/xiebiao/circulation/internal/domain/loan"
	"github.com/xiebiao/circulation/pkg/circuitbreaker"
	"github.com/xiebiao/circulation/pkg/logger"
	"github.com/xiebiao/circulation/pkg/metrics"
	"github.com/xiebiao/circulation/pkg/tracing"
)

const (
	tracerName  = "notification"
	leaseName   = "due-scan"
	breakerName = "due-publisher"
)

// DueLoanSource 到期借阅来源(circulation.Engine)
type DueLoanSource interface {
	DueLoans(ctx context.Context, req circulation.DueLoansRequest) (*circulation.DueLoansResponse, error)
}

// Store 扫描租约与去重标记(redis.NotifyStore)
type Store interface {
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, owner string) error
	MarkNotified(ctx context.Context, loanID uint, kind loan.DueKind, day time.Time) (bool, error)
	UnmarkNotified(ctx context.Context, loanID uint, kind loan.DueKind, day time.Time) error
}

// Publisher 事件发布(mq.Publisher)
type Publisher interface {
	Publish(ctx context.Context, routingKey string, message interface{}) error
}

// DueLoanEvent 到期提醒事件(消息体)
type DueLoanEvent struct {
	LoanID     uint         `json:"loan_id"`
	UserID     uint         `json:"user_id"`
	Username   string       `json:"username"`
	CopyID     uint         `json:"copy_id"`
	Barcode    string       `json:"barcode"`
	BookTitle  string       `json:"book_title"`
	DueAt      time.Time    `json:"due_at"`
	DaysLeft   int          `json:"days_left"`
	Kind       loan.DueKind `json:"kind"`
	NotifiedAt time.Time    `json:"notified_at"`
}

// RoutingKey 事件路由键:loan.due_soon / loan.overdue
func RoutingKey(kind loan.DueKind) string {
	return "loan." + string(kind)
}

// Options 提醒配置
type Options struct {
	// WindowDays 提前N天提醒(已逾期的始终包含)
	WindowDays int
	// BatchSize 每页读取的借阅数
	BatchSize int
	// Interval 扫描间隔
	Interval time.Duration
	// LeaseTTL 扫描租约有效期,应略小于Interval
	LeaseTTL time.Duration
	// Owner 租约持有者标识,默认 hostname-pid
	Owner   string
	Breaker circuitbreaker.Config
	Logger  *zap.Logger
	Now     func() time.Time
}

// DueNotifier 到期提醒扫描器
type DueNotifier struct {
	source    DueLoanSource
	store     Store
	publisher Publisher
	breaker   *circuitbreaker.CircuitBreaker

	windowDays int
	batchSize  int
	interval   time.Duration
	leaseTTL   time.Duration
	owner      string
	logger     *zap.Logger
	now        func() time.Time
}

// NewDueNotifier 创建提醒扫描器
func NewDueNotifier(source DueLoanSource, store Store, publisher Publisher, opts Options) *DueNotifier {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = opts.Interval
	}
	if opts.Owner == "" {
		opts.Owner = defaultOwner()
	}

	n := &DueNotifier{
		source:     source,
		store:      store,
		publisher:  publisher,
		windowDays: opts.WindowDays,
		batchSize:  opts.BatchSize,
		interval:   opts.Interval,
		leaseTTL:   opts.LeaseTTL,
		owner:      opts.Owner,
		logger:     opts.Logger.With(zap.String("component", "due_notifier")),
		now:        opts.Now,
	}

	breakerCfg := opts.Breaker
	onStateChange := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
		metrics.SetGaugeVec(metrics.CircuitBreakerState, map[string]string{"name": name}, float64(to))
		n.logger.Warn("熔断器状态变化",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		if onStateChange != nil {
			onStateChange(name, from, to)
		}
	}
	// 调用方取消不计入下游失败
	if breakerCfg.IsSuccessful == nil {
		breakerCfg.IsSuccessful = func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		}
	}
	n.breaker = circuitbreaker.NewCircuitBreaker(breakerName, breakerCfg)
	metrics.SetGaugeVec(metrics.CircuitBreakerState, map[string]string{"name": breakerName}, float64(circuitbreaker.StateClosed))

	return n
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Run 按Interval循环扫描,直到ctx结束
// 启动时立即扫描一次
func (n *DueNotifier) Run(ctx context.Context) {
	n.logger.Info("到期提醒已启动",
		zap.Duration("interval", n.interval),
		zap.Int("window_days", n.windowDays),
		zap.String("owner", n.owner),
	)

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		if _, err := n.RunOnce(ctx); err != nil && ctx.Err() == nil {
			n.logger.Error("到期提醒扫描失败", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			n.logger.Info("到期提醒已停止")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce 扫描一轮,返回本轮发布的提醒数
//
// 流程:
//  1. 获取扫描租约,拿不到说明其他实例在扫描,直接返回
//  2. 按借阅ID游标分页读取窗口内的借阅
//  3. 每条借阅先占用当天的去重标记,再发布;发布失败撤销标记,下一轮重试
//  4. 熔断器打开时结束本轮
func (n *DueNotifier) RunOnce(ctx context.Context) (published int, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "due_scan")
	start := time.Now()
	defer func() {
		span.SetAttributes(attribute.Int("notifications.published", published))
		metrics.ObserveHistogram(metrics.DueScanDuration, time.Since(start).Seconds())
		tracing.EndSpan(span, err)
	}()

	log := logger.WithTrace(ctx, n.logger)

	acquired, err := n.store.AcquireLease(ctx, leaseName, n.owner, n.leaseTTL)
	if err != nil {
		return 0, err
	}
	if !acquired {
		log.Debug("其他实例持有扫描租约,跳过本轮")
		return 0, nil
	}
	defer func() {
		if releaseErr := n.store.ReleaseLease(context.WithoutCancel(ctx), leaseName, n.owner); releaseErr != nil {
			log.Warn("释放扫描租约失败", zap.Error(releaseErr))
		}
	}()

	now := n.now()
	var afterID uint
	var duplicates, failed int
	for {
		page, err := n.source.DueLoans(ctx, circulation.DueLoansRequest{
			WithinDays: n.windowDays,
			AfterID:    afterID,
			Limit:      n.batchSize,
		})
		if err != nil {
			return published, err
		}

		for _, item := range page.Items {
			if err := ctx.Err(); err != nil {
				return published, err
			}

			sent, err := n.notify(ctx, item, now)
			switch {
			case err == nil && sent:
				published++
			case err == nil:
				duplicates++
			case errors.Is(err, circuitbreaker.ErrOpenState):
				log.Warn("熔断器已打开,本轮扫描提前结束",
					zap.Int("published", published),
					zap.Uint("loan_id", item.LoanID),
				)
				return published, err
			case isPublishError(err):
				failed++
				log.Warn("提醒发布失败", zap.Uint("loan_id", item.LoanID), zap.Error(err))
			default:
				return published, err
			}
		}

		if page.NextAfterID == 0 {
			break
		}
		afterID = page.NextAfterID
	}

	log.Info("到期提醒扫描完成",
		zap.Int("published", published),
		zap.Int("duplicates", duplicates),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return published, nil
}

// publishError 发布失败(区别于去重存储失败,后者中止本轮扫描)
type publishError struct {
	err error
}

func (e *publishError) Error() string { return e.err.Error() }
func (e *publishError) Unwrap() error { return e.err }

func isPublishError(err error) bool {
	var pe *publishError
	return errors.As(err, &pe)
}

// notify 处理单条借阅,返回是否发布
func (n *DueNotifier) notify(ctx context.Context, item circulation.DueLoanItem, now time.Time) (bool, error) {
	fresh, err := n.store.MarkNotified(ctx, item.LoanID, item.Kind, now)
	if err != nil {
		return false, err
	}
	if !fresh {
		n.count(item.Kind, "duplicate")
		return false, nil
	}

	event := DueLoanEvent{
		LoanID:     item.LoanID,
		UserID:     item.UserID,
		Username:   item.Username,
		CopyID:     item.CopyID,
		Barcode:    item.Barcode,
		BookTitle:  item.BookTitle,
		DueAt:      item.DueAt,
		DaysLeft:   item.DaysLeft,
		Kind:       item.Kind,
		NotifiedAt: now,
	}
	err = n.breaker.Execute(func() error {
		return n.publisher.Publish(ctx, RoutingKey(item.Kind), event)
	})
	n.countBreaker(err)
	if err != nil {
		n.count(item.Kind, "failed")
		if unmarkErr := n.store.UnmarkNotified(context.WithoutCancel(ctx), item.LoanID, item.Kind, now); unmarkErr != nil {
			logger.WithTrace(ctx, n.logger).Error("撤销提醒标记失败,当天不会再提醒",
				zap.Uint("loan_id", item.LoanID),
				zap.Error(unmarkErr),
			)
		}
		if errors.Is(err, circuitbreaker.ErrOpenState) {
			return false, err
		}
		return false, &publishError{err: err}
	}

	n.count(item.Kind, "published")
	return true, nil
}

func (n *DueNotifier) count(kind loan.DueKind, result string) {
	metrics.IncCounterVec(metrics.DueNotificationsTotal, map[string]string{
		"kind":   string(kind),
		"result": result,
	})
}

func (n *DueNotifier) countBreaker(err error) {
	result := "success"
	switch {
	case errors.Is(err, circuitbreaker.ErrOpenState):
		result = "rejected"
	case err != nil:
		result = "failure"
	}
	metrics.IncCounterVec(metrics.CircuitBreakerRequests, map[string]string{
		"name":   breakerName,
		"result": result,
	})
}

// BreakerState 熔断器当前状态(就绪检查、测试使用)
func (n *DueNotifier) BreakerState() circuitbreaker.State {
	return n.breaker.State()
}
