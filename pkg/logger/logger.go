package logger

import (
	"context"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Context 里的链路字段 key。gin.Context 的 Value 也会按字符串 key 查 c.Keys，所以 handler 里可以直接传 c。
const (
	TraceIdKey   = "trace_id"
	RequestIdKey = "request_id"
)

// Log 全局 Logger，未 Init 前是 Nop，避免测试里空指针
var Log = zap.NewNop()

// Init 初始化日志：stdout + logs/{service}.log
func Init(serviceName string, level string) {
	InitWithFile(serviceName, level, "")
}

// InitWithFile logFile 为空时写 logs/{serviceName}.log；"-" 表示只写 stdout
func InitWithFile(serviceName string, level string, logFile string) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if logFile == "" {
		logFile = filepath.Join("logs", serviceName+".log")
	}
	if logFile != "-" {
		if f, err := openLogFile(logFile); err == nil {
			sinks = append(sinks, zapcore.AddSync(f))
		}
		// 文件打不开就只写控制台，不影响启动
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.NewMultiWriteSyncer(sinks...),
		zapLevel,
	)
	// 封装了一层，caller 要跳过 1
	Log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("service", serviceName))
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.MessageKey = "msg"
	return cfg
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Info(msg, withCtx(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Error(msg, withCtx(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Warn(msg, withCtx(ctx, fields)...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Debug(msg, withCtx(ctx, fields)...)
}

// Fatal 会 os.Exit
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Fatal(msg, withCtx(ctx, fields)...)
}

// withCtx 从 ctx 里取 trace_id / request_id 追加到字段
func withCtx(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	if v, ok := ctx.Value(TraceIdKey).(string); ok && v != "" {
		fields = append(fields, zap.String(TraceIdKey, v))
	} else if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		// otelgin 打开后，请求里的 span 自带 trace id
		fields = append(fields, zap.String(TraceIdKey, sc.TraceID().String()))
	}
	if v, ok := ctx.Value(RequestIdKey).(string); ok && v != "" {
		fields = append(fields, zap.String(RequestIdKey, v))
	}
	return fields
}

// Sync 刷新缓冲区，main 里 defer 调用
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
