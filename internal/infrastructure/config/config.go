package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
// 设计说明：使用Viper管理配置，支持YAML文件、环境变量覆盖
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	RabbitMQ     RabbitMQConfig     `mapstructure:"rabbitmq"`
	Log          LogConfig          `mapstructure:"log"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	Loan         LoanConfig         `mapstructure:"loan"`
	Quota        QuotaConfig        `mapstructure:"quota"`
	Notification NotificationConfig `mapstructure:"notification"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // debug | release | test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	Charset         string        `mapstructure:"charset"`
	ParseTime       bool          `mapstructure:"parse_time"`
	Loc             string        `mapstructure:"loc"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// LockWaitTimeout 行锁等待超时（秒），通过会话变量innodb_lock_wait_timeout下发
	// 超时的借还请求以可重试冲突返回
	LockWaitTimeout int  `mapstructure:"lock_wait_timeout"`
	AutoMigrate     bool `mapstructure:"auto_migrate"`
}

// DSN 生成MySQL连接字符串
// 格式：user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local&innodb_lock_wait_timeout=5
// 注意：loc参数需要URL编码（Asia/Shanghai → Asia%2FShanghai）
func (d DatabaseConfig) DSN() string {
	loc := url.QueryEscape(d.Loc)
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.Charset, d.ParseTime, loc)
	// go-sql-driver会把未识别的参数作为SET系统变量下发到每个连接
	if d.LockWaitTimeout > 0 {
		dsn += fmt.Sprintf("&innodb_lock_wait_timeout=%d", d.LockWaitTimeout)
	}
	return dsn
}

type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr 返回Redis地址
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type RabbitMQConfig struct {
	URL          string `mapstructure:"url"`
	Exchange     string `mapstructure:"exchange"`
	ExchangeType string `mapstructure:"exchange_type"` // topic | direct | fanout
}

type LogConfig struct {
	Level        string `mapstructure:"level"`  // debug | info | warn | error
	Format       string `mapstructure:"format"` // console | json
	Output       string `mapstructure:"output"` // stdout | stderr | /path/to/file
	EnableCaller bool   `mapstructure:"enable_caller"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	CollectorURL string `mapstructure:"collector_url"` // OTLP gRPC端点，如localhost:4317
	Environment  string `mapstructure:"environment"`
	// SampleRatio 根Span采样率，0表示全量
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoanConfig 借阅规则
type LoanConfig struct {
	DefaultPeriodDays int `mapstructure:"default_period_days"`
	// StrictQuota 为true时在事务内锁定用户行并重新校验额度
	// 为false时只做事务外的预检查（并发请求可能突破上限）
	StrictQuota bool `mapstructure:"strict_quota"`
}

// QuotaConfig 分类额度（分类标签 → 上限）
// 注意：Viper会把map的键转成小写，构造策略时统一转回大写
type QuotaConfig struct {
	Limits map[string]int `mapstructure:"limits"`
}

// NotificationConfig 到期提醒
type NotificationConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	WindowDays int           `mapstructure:"window_days"` // 提前N天提醒
	BatchSize  int           `mapstructure:"batch_size"`
	LeaseTTL   time.Duration `mapstructure:"lease_ttl"` // 多实例部署时的扫描租约
}

// Load 加载配置文件
// 支持：
// 1. 默认加载config/config.yaml
// 2. 通过环境变量CIRCULATION_ENV指定环境（如config.prod.yaml）
// 3. 环境变量覆盖（如CIRCULATION_DATABASE_PASSWORD）
func Load() (*Config, error) {
	return LoadFrom("./config", ".")
}

// LoadFrom 从指定目录加载配置（测试时指向临时目录）
func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	// 环境特定配置（如config.prod.yaml）
	if env := os.Getenv("CIRCULATION_ENV"); env != "" {
		v.SetConfigName("config." + env)
	}

	setDefaults(v)

	// 环境变量绑定（如CIRCULATION_DATABASE_PASSWORD → database.password）
	// 必须在ReadInConfig/Unmarshal之前设置
	v.SetEnvPrefix("CIRCULATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults 默认值（配置文件中缺失的项）
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.parse_time", true)
	v.SetDefault("database.loc", "Local")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.lock_wait_timeout", 5)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("rabbitmq.exchange", "circulation.events")
	v.SetDefault("rabbitmq.exchange_type", "topic")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("tracing.service_name", "circulation")
	v.SetDefault("tracing.collector_url", "localhost:4317")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("loan.default_period_days", 30)
	v.SetDefault("loan.strict_quota", true)
	v.SetDefault("quota.limits", map[string]interface{}{"book": 10, "journal": 5})
	v.SetDefault("notification.enabled", true)
	v.SetDefault("notification.interval", time.Minute)
	v.SetDefault("notification.window_days", 5)
	v.SetDefault("notification.batch_size", 200)
	v.SetDefault("notification.lease_ttl", 50*time.Second)
}

// validate 配置校验
func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("无效的服务端口: %d", cfg.Server.Port)
	}

	if cfg.Loan.DefaultPeriodDays <= 0 {
		return fmt.Errorf("默认借期必须大于0: %d", cfg.Loan.DefaultPeriodDays)
	}

	for label, limit := range cfg.Quota.Limits {
		if limit < 0 {
			return fmt.Errorf("分类%s的额度不能为负数: %d", label, limit)
		}
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		return fmt.Errorf("采样率必须在[0,1]之间: %v", cfg.Tracing.SampleRatio)
	}

	if cfg.Notification.Enabled {
		if cfg.Notification.Interval <= 0 {
			return fmt.Errorf("提醒扫描间隔必须大于0: %s", cfg.Notification.Interval)
		}
		if cfg.Notification.WindowDays < 0 {
			return fmt.Errorf("提醒窗口天数不能为负数: %d", cfg.Notification.WindowDays)
		}
		if cfg.Notification.BatchSize <= 0 {
			return fmt.Errorf("提醒批量大小必须大于0: %d", cfg.Notification.BatchSize)
		}
	}

	return nil
}
