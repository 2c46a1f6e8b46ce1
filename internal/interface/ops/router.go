// Package ops 运维HTTP端点
//
// 借还操作由调用方进程内直接调用Engine,这里只提供运维入口:
//
//	GET /ping                 存活检查
//	GET /readyz               就绪检查(MySQL、Redis、RabbitMQ)
//	GET /metrics              Prometheus指标
//	GET /loans/due            到期/逾期借阅(只读,游标分页)
//	GET /users/:id/loans      用户在借记录(只读)
package ops

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xiebiao/circulation/internal/application/circulation"
)

// Check 就绪检查项,返回nil表示依赖可用
type Check func(ctx context.Context) error

// LoanQueries 只读台账查询(circulation.Engine)
type LoanQueries interface {
	ActiveLoans(ctx context.Context, userID uint) ([]circulation.ActiveLoan, error)
	DueLoans(ctx context.Context, req circulation.DueLoansRequest) (*circulation.DueLoansResponse, error)
}

// Options 路由配置
type Options struct {
	// Mode gin运行模式 debug | release | test
	Mode string
	// Checks 就绪检查项(名称 → 检查函数)
	Checks map[string]Check
	// CheckTimeout 单个检查的超时,默认2秒
	CheckTimeout time.Duration
	Logger       *zap.Logger
}

// NewRouter 创建运维路由
func NewRouter(queries LoanQueries, opts Options) *gin.Engine {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 2 * time.Second
	}

	h := &handler{
		queries:      queries,
		checks:       opts.Checks,
		checkTimeout: opts.CheckTimeout,
	}

	r := gin.New()
	// 中间件执行顺序:RequestLogger → Recovery → Handler
	r.Use(RequestLogger(opts.Logger))
	r.Use(gin.Recovery())

	r.GET("/ping", h.Ping)
	r.GET("/readyz", h.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/loans/due", h.DueLoans)
	r.GET("/users/:id/loans", h.ActiveLoans)

	return r
}
