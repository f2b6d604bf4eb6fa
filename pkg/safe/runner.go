package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"stockx.com/pkg/logger"
)

// Go 启动协程，panic 只记日志不拖垮进程
func Go(fn func()) {
	go func() {
		defer recoverWith(context.Background(), "")
		fn()
	}()
}

// GoCtx 带 ctx 启动，日志里保留链路字段
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	GoNamed(ctx, "", fn)
}

// GoNamed 后台常驻循环用，name 会出现在 panic 日志里
func GoNamed(ctx context.Context, name string, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer recoverWith(ctx, name)
		fn(ctx)
	}()
}

func recoverWith(ctx context.Context, name string) {
	r := recover()
	if r == nil {
		return
	}
	logger.Error(ctx, "🚨 GOROUTINE PANIC RECOVERED",
		zap.String("goroutine", name),
		zap.Any("panic", r),
		zap.ByteString("stack", debug.Stack()),
	)
}
