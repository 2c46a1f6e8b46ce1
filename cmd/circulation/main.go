package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiebiao/circulation/internal/application/circulation"
	"github.com/xiebiao/circulation/internal/application/notification"
	"github.com/xiebiao/circulation/internal/infrastructure/config"
	"github.com/xiebiao/circulation/internal/infrastructure/persistence/redis"
)

const shutdownTimeout = 10 * time.Second

// app 进程内的长期组件
type app struct {
	logger   *zap.Logger
	engine   *circulation.Engine
	notifier *notification.DueNotifier // 到期提醒关闭时为nil
	server   *http.Server
}

func newAppInstance(
	log *zap.Logger,
	_ observability,
	engine *circulation.Engine,
	notifier *notification.DueNotifier,
	server *http.Server,
) *app {
	return &app{logger: log, engine: engine, notifier: notifier, server: server}
}

// main 借还服务入口
//
// 启动顺序:配置 → 日志 → 指标/追踪 → MySQL → Redis → RabbitMQ → 引擎 → 到期提醒 → 运维端点
// 收到SIGINT/SIGTERM后停止扫描、关闭HTTP服务,再按相反顺序释放连接
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	application, cleanup, err := newApp(cfg)
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = application.run(ctx)
	stop()

	if err != nil {
		application.logger.Error("服务异常退出", zap.Error(err))
		cleanup()
		os.Exit(1)
	}
	application.logger.Info("服务已关闭")
	cleanup()
}

// newApp 手动依赖注入(与wire.go中的InitializeApp等价)
func newApp(cfg *config.Config) (*app, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*app, func(), error) {
		cleanup()
		return nil, nil, err
	}

	logger, loggerCleanup, err := provideLogger(cfg)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, loggerCleanup)

	observed, obsCleanup, err := provideObservability(cfg, logger)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, obsCleanup)

	db, dbCleanup, err := provideDB(cfg, logger)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, dbCleanup)

	redisClient, redisCleanup, err := provideRedis(cfg, logger)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, redisCleanup)

	publisher, publisherCleanup, err := providePublisher(cfg, logger)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, publisherCleanup)

	engine := provideEngine(db, cfg, logger)
	notifyStore := redis.NewNotifyStore(redisClient)
	notifier := provideNotifier(cfg, engine, notifyStore, publisher, logger)

	checks, err := provideChecks(db, notifyStore, publisher)
	if err != nil {
		return fail(err)
	}
	server := provideServer(cfg, engine, checks, logger)

	return newAppInstance(logger, observed, engine, notifier, server), cleanup, nil
}

// run 运行直到ctx结束或HTTP服务失败
func (a *app) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("运维端点已启动", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("开始优雅关闭")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.notifier != nil {
		g.Go(func() error {
			a.notifier.Run(ctx)
			return nil
		})
	} else {
		a.logger.Info("到期提醒未启用")
	}

	return g.Wait()
}
