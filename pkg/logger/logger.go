// Package logger 基于zap的结构化日志
//
// 设计说明：
// 1. 由配置文件的log段构建（level/format/output/enable_caller）
// 2. console格式用于本地开发，json格式用于生产环境采集
// 3. WithTrace把当前Span的trace_id附加到日志字段，日志与链路可互相跳转
package logger

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xiebiao/circulation/pkg/tracing"
)

// Options 日志配置
type Options struct {
	Level        string // debug | info | warn | error
	Format       string // console | json
	Output       string // stdout | stderr | /path/to/file
	EnableCaller bool
	ServiceName  string
}

// New 创建Logger
func New(opts Options) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil {
		return nil, fmt.Errorf("无效的日志级别 %q: %w", opts.Level, err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch opts.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "", "console":
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("无效的日志格式: %s", opts.Format)
	}

	sink, err := openSink(opts.Output)
	if err != nil {
		return nil, err
	}

	zapOpts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if opts.EnableCaller {
		zapOpts = append(zapOpts, zap.AddCaller())
	}
	if opts.ServiceName != "" {
		zapOpts = append(zapOpts, zap.Fields(zap.String("service.name", opts.ServiceName)))
	}

	return zap.New(zapcore.NewCore(encoder, sink, level), zapOpts...), nil
}

// openSink 打开日志输出目标
func openSink(output string) (zapcore.WriteSyncer, error) {
	switch output {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("打开日志文件失败: %w", err)
		}
		return zapcore.AddSync(f), nil
	}
}

// WithTrace 附加trace_id/span_id（ctx中没有有效Span时原样返回）
func WithTrace(ctx context.Context, l *zap.Logger) *zap.Logger {
	traceID := tracing.ExtractTraceID(ctx)
	if traceID == "" {
		return l
	}
	return l.With(
		zap.String("trace_id", traceID),
		zap.String("span_id", tracing.ExtractSpanID(ctx)),
	)
}
