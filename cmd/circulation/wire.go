//go:build wireinject
// +build wireinject

// Wire依赖注入配置文件
//
// 与main.go中的newApp等价,运行 `wire gen ./cmd/circulation` 生成wire_gen.go后
// 可以用InitializeApp替换手动组装。
//
// 依赖链:
//
//	*app → *http.Server → *circulation.Engine → Repository → *gorm.DB → *config.Config
//	     → *notification.DueNotifier → *redis.NotifyStore / *mq.Publisher

package main

import (
	"github.com/google/wire"

	"github.com/xiebiao/circulation/internal/infrastructure/config"
	"github.com/xiebiao/circulation/internal/infrastructure/persistence/redis"
)

// infrastructureSet 基础设施:日志、指标/追踪、MySQL、Redis、RabbitMQ
var infrastructureSet = wire.NewSet(
	provideLogger,
	provideObservability,
	provideDB,
	provideRedis,
	providePublisher,
	redis.NewNotifyStore,
)

// applicationSet 应用层:借还引擎、到期提醒
var applicationSet = wire.NewSet(
	provideEngine,
	provideNotifier,
)

// interfaceSet 接口层:就绪检查、运维HTTP服务
var interfaceSet = wire.NewSet(
	provideChecks,
	provideServer,
)

// InitializeApp 初始化整个应用
// newAppInstance依赖observability,保证指标与追踪先于其他组件初始化
func InitializeApp(cfg *config.Config) (*app, func(), error) {
	wire.Build(
		infrastructureSet,
		applicationSet,
		interfaceSet,
		newAppInstance,
	)
	return nil, nil, nil
}
