// Package metrics 基于Prometheus的指标
//
// 指标分三类：
//
//  1. 借还操作：请求数（按结果分类）、耗时分布、在途请求数、借出/归还副本数
//  2. 并发：锁等待超时/死锁次数（可重试冲突），用于判断热点副本
//  3. 到期提醒：消息发布数、熔断器状态
//
// 命名规范：Counter以_total结尾，Histogram以单位结尾（_seconds）。
// 标签只使用有限取值（operation、result、kind），不要把user_id等高基数字段做标签。
//
// 使用示例：
//
//	metrics.InitMetrics()
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
//
//	start := time.Now()
//	resp, err := engine.Borrow(ctx, req)
//	metrics.ObserveOperation("borrow", start, err)
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/xiebiao/circulation/pkg/errors"
)

var (
	// initialized 标记是否已初始化（防止重复注册）
	initialized bool

	// 借还操作指标

	// CirculationRequestsTotal 借还请求总数（Counter）
	// 标签：operation（borrow/return/return_single）、result（success/invalid_request/not_found/quota_exceeded/conflict/internal）
	CirculationRequestsTotal *prometheus.CounterVec

	// CirculationDuration 借还请求耗时（Histogram）
	// 桶设置：5ms～5s，覆盖锁等待超时前的范围
	CirculationDuration *prometheus.HistogramVec

	// CirculationInProgress 正在处理的借还请求数（Gauge）
	CirculationInProgress prometheus.Gauge

	// CopiesBorrowedTotal 借出副本总数（Counter）
	CopiesBorrowedTotal prometheus.Counter

	// CopiesReturnedTotal 归还副本总数（Counter）
	CopiesReturnedTotal prometheus.Counter

	// LockContentionTotal 锁等待超时/死锁次数（Counter）
	// 标签：operation
	LockContentionTotal *prometheus.CounterVec

	// 熔断器指标

	// CircuitBreakerState 熔断器状态（Gauge）
	// 0=CLOSED, 1=OPEN, 2=HALF_OPEN
	CircuitBreakerState *prometheus.GaugeVec

	// CircuitBreakerRequests 熔断器请求总数（Counter）
	// 标签：name（熔断器名称）、result（success/failure/rejected）
	CircuitBreakerRequests *prometheus.CounterVec

	// 消息与提醒指标

	// MessagesPublishedTotal 消息发布总数（Counter）
	// 标签：exchange（交换机）、routing_key（路由键）
	MessagesPublishedTotal *prometheus.CounterVec

	// DueNotificationsTotal 到期提醒处理数（Counter）
	// 标签：kind（due_soon/overdue）、result（published/duplicate/failed）
	DueNotificationsTotal *prometheus.CounterVec

	// DueScanDuration 到期扫描耗时（Histogram）
	DueScanDuration prometheus.Histogram
)

// InitMetrics 初始化所有Prometheus指标
// 必须在程序启动时调用一次（重复调用无副作用）
func InitMetrics() {
	if initialized {
		return
	}
	initialized = true

	CirculationRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circulation_requests_total",
			Help: "借还请求总数",
		},
		[]string{"operation", "result"},
	)

	CirculationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "circulation_request_duration_seconds",
			Help:    "借还请求耗时（秒）",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"operation"},
	)

	CirculationInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "circulation_requests_in_progress",
			Help: "正在处理的借还请求数",
		},
	)

	CopiesBorrowedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "circulation_copies_borrowed_total",
			Help: "借出副本总数",
		},
	)

	CopiesReturnedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "circulation_copies_returned_total",
			Help: "归还副本总数",
		},
	)

	LockContentionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circulation_lock_contention_total",
			Help: "行锁等待超时或死锁次数",
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "熔断器状态（0=CLOSED, 1=OPEN, 2=HALF_OPEN）",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "熔断器请求总数",
		},
		[]string{"name", "result"},
	)

	MessagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_published_total",
			Help: "消息发布总数",
		},
		[]string{"exchange", "routing_key"},
	)

	DueNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "due_notifications_total",
			Help: "到期提醒处理数",
		},
		[]string{"kind", "result"},
	)

	DueScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "due_scan_duration_seconds",
			Help:    "到期扫描耗时（秒）",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30},
		},
	)
}

// ResultLabel 把错误转换为result标签取值
func ResultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return strings.ToLower(apperrors.KindOf(err).String())
}

// ObserveOperation 记录一次借还操作的结果与耗时
func ObserveOperation(operation string, start time.Time, err error) {
	if !initialized {
		return
	}
	CirculationRequestsTotal.With(prometheus.Labels{
		"operation": operation,
		"result":    ResultLabel(err),
	}).Inc()
	CirculationDuration.With(prometheus.Labels{"operation": operation}).Observe(time.Since(start).Seconds())
	if apperrors.IsRetryable(err) {
		LockContentionTotal.With(prometheus.Labels{"operation": operation}).Inc()
	}
}

// AddCounter 累加Counter（未初始化时忽略）
func AddCounter(counter prometheus.Counter, n int) {
	if counter == nil || n <= 0 {
		return
	}
	counter.Add(float64(n))
}

// IncCounterVec 递增CounterVec（带标签，未初始化时忽略）
func IncCounterVec(counter *prometheus.CounterVec, labels map[string]string) {
	if counter == nil {
		return
	}
	counter.With(labels).Inc()
}

// IncGauge 递增Gauge
func IncGauge(gauge prometheus.Gauge) {
	if gauge != nil {
		gauge.Inc()
	}
}

// DecGauge 递减Gauge
func DecGauge(gauge prometheus.Gauge) {
	if gauge != nil {
		gauge.Dec()
	}
}

// SetGaugeVec 设置GaugeVec值（带标签）
func SetGaugeVec(gauge *prometheus.GaugeVec, labels map[string]string, value float64) {
	if gauge != nil {
		gauge.With(labels).Set(value)
	}
}

// ObserveHistogram 记录Histogram观测值
func ObserveHistogram(histogram prometheus.Histogram, value float64) {
	if histogram != nil {
		histogram.Observe(value)
	}
}
