// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger 是全局的结构化日志实例。
// 各服务在启动时通过 Init 注入自己的服务名。
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 初始化全局日志实例，附加服务名字段。
func Init(serviceName string) {
	Logger = zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// Ctx 返回一个带有追踪上下文的日志实例。
// 如果 ctx 中存在有效的 TraceID，会自动附加 trace_id 字段，
// 便于在日志系统中与 Jaeger 的链路对齐。
func Ctx(ctx context.Context) *zerolog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l := Logger.With().Str("trace_id", sc.TraceID().String()).Logger()
		return &l
	}
	return &Logger
}
