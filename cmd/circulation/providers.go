package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/xiebiao/circulation/internal/application/circulation"
	"github.com/xiebiao/circulation/internal/application/notification"
	"github.com/xiebiao/circulation/internal/domain/loan"
	"github.com/xiebiao/circulation/internal/infrastructure/config"
	"github.com/xiebiao/circulation/internal/infrastructure/persistence/mysql"
	"github.com/xiebiao/circulation/internal/infrastructure/persistence/redis"
	"github.com/xiebiao/circulation/internal/interface/ops"
	"github.com/xiebiao/circulation/pkg/circuitbreaker"
	"github.com/xiebiao/circulation/pkg/logger"
	"github.com/xiebiao/circulation/pkg/metrics"
	"github.com/xiebiao/circulation/pkg/mq"
	"github.com/xiebiao/circulation/pkg/tracing"
)

// =========================================
// Providers
// =========================================
// main.go手动组装和wire.go注入器共用同一组构造函数。
// 返回cleanup的Provider在初始化失败或进程退出时按相反顺序释放资源。

// provideLogger 由log配置段创建zap Logger
func provideLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	log, err := logger.New(logger.Options{
		Level:        cfg.Log.Level,
		Format:       cfg.Log.Format,
		Output:       cfg.Log.Output,
		EnableCaller: cfg.Log.EnableCaller,
		ServiceName:  cfg.Tracing.ServiceName,
	})
	if err != nil {
		return nil, nil, err
	}
	return log, func() { _ = log.Sync() }, nil
}

// observability 标记指标与追踪已初始化
type observability struct{}

// provideObservability 初始化指标和链路追踪
// 追踪未启用时使用OTel默认的空实现,Span调用没有开销
func provideObservability(cfg *config.Config, log *zap.Logger) (observability, func(), error) {
	metrics.InitMetrics()

	if !cfg.Tracing.Enabled {
		return observability{}, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdown, err := tracing.InitTracer(ctx, tracing.Options{
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		Endpoint:    cfg.Tracing.CollectorURL,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return observability{}, nil, err
	}
	log.Info("链路追踪已启用", zap.String("collector", cfg.Tracing.CollectorURL))
	return observability{}, func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("关闭Tracer失败", zap.Error(err))
		}
	}, nil
}

// provideDB 创建MySQL连接池
func provideDB(cfg *config.Config, log *zap.Logger) (*gorm.DB, func(), error) {
	db, err := mysql.NewDB(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return db, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}, nil
}

// provideRedis 创建Redis客户端(启动时Ping,最多等待10秒)
func provideRedis(cfg *config.Config, log *zap.Logger) (*goredis.Client, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

// providePublisher 创建RabbitMQ发布者;到期提醒关闭时返回nil
func providePublisher(cfg *config.Config, log *zap.Logger) (*mq.Publisher, func(), error) {
	if !cfg.Notification.Enabled {
		return nil, func() {}, nil
	}
	publisher, err := mq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.ExchangeType, log)
	if err != nil {
		return nil, nil, err
	}
	return publisher, func() { _ = publisher.Close() }, nil
}

// provideEngine 组装借还引擎
func provideEngine(db *gorm.DB, cfg *config.Config, log *zap.Logger) *circulation.Engine {
	return circulation.NewEngine(
		mysql.NewUserRepository(db),
		mysql.NewCopyRepository(db),
		mysql.NewLoanRepository(db),
		mysql.NewCatalogRepository(db),
		mysql.NewTxManager(db),
		circulation.Options{
			Policy:            loan.NewQuotaPolicy(cfg.Quota.Limits),
			DefaultPeriodDays: cfg.Loan.DefaultPeriodDays,
			StrictQuota:       cfg.Loan.StrictQuota,
			Logger:            log.With(zap.String("component", "circulation")),
		},
	)
}

// provideNotifier 组装到期提醒扫描器;未启用时返回nil
func provideNotifier(
	cfg *config.Config,
	engine *circulation.Engine,
	store *redis.NotifyStore,
	publisher *mq.Publisher,
	log *zap.Logger,
) *notification.DueNotifier {
	if !cfg.Notification.Enabled || publisher == nil {
		return nil
	}
	return notification.NewDueNotifier(engine, store, publisher, notification.Options{
		WindowDays: cfg.Notification.WindowDays,
		BatchSize:  cfg.Notification.BatchSize,
		Interval:   cfg.Notification.Interval,
		LeaseTTL:   cfg.Notification.LeaseTTL,
		Breaker: circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
		},
		Logger: log,
	})
}

// provideChecks 就绪检查项
func provideChecks(db *gorm.DB, store *redis.NotifyStore, publisher *mq.Publisher) (map[string]ops.Check, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取SQL DB失败: %w", err)
	}
	checks := map[string]ops.Check{
		"mysql": sqlDB.PingContext,
		"redis": store.Ping,
	}
	if publisher != nil {
		checks["rabbitmq"] = publisher.Ping
	}
	return checks, nil
}

// provideServer 运维HTTP服务
func provideServer(cfg *config.Config, engine *circulation.Engine, checks map[string]ops.Check, log *zap.Logger) *http.Server {
	router := ops.NewRouter(engine, ops.Options{
		Mode:   cfg.Server.Mode,
		Checks: checks,
		Logger: log.With(zap.String("component", "ops")),
	})
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}
