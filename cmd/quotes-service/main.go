package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"stockx.com/internal/quotes/app"
	quotesConfig "stockx.com/internal/quotes/config"
	"stockx.com/pkg/config"
	"stockx.com/pkg/logger"
)

const serviceName = "quotes-service"

func main() {
	// 1. 支持 Ctrl+C / kubernetes 停止信号的 context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 加载配置，热更新只影响限流参数
	cfg := quotesConfig.Default()
	var quotesApp *app.App
	if _, err := config.LoadAndWatch(serviceName, &cfg, config.WithOnChange(func() {
		if quotesApp != nil {
			quotesApp.Reload()
		}
	})); err != nil {
		log.Fatalf("load config error: %v", err)
	}
	if cfg.Name == "" {
		cfg.Name = serviceName
	}
	logger.InitWithFile(cfg.Name, cfg.Log.Level, cfg.Log.File)

	// 3. 初始化 App
	quotesApp = app.New(&cfg)
	cleanUp, err := quotesApp.Start(ctx)
	if err != nil {
		logger.Fatal(ctx, "start quotes service error", zap.Error(err))
	}
	defer cleanUp()

	// 4. 启动 http
	srv := quotesApp.StartHttp()
	go func() {
		logger.Info(ctx, "🚀 quotes service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(ctx, "quotes ListenAndServe error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "quotes shutdown error", zap.Error(err))
	}
	logger.Info(shutdownCtx, "quotes service exit")
}
