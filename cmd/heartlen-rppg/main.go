package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	logpkg "heartlen/common/logger"
	"heartlen/internal/config"
	"heartlen/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "heartlen-rppg")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting heartlen-rppg service",
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.String("capture_source", cfg.Capture.Source),
		zap.Float64("fps", cfg.Capture.FPS),
		zap.String("combination_mode", cfg.Pipeline.CombinationMode),
		zap.Bool("database", cfg.Database.Enabled),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("mqtt", cfg.MQTT.Enabled),
	)

	// 创建服务
	rppgService, err := service.NewRPPGService(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create rPPG service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := rppgService.Start(ctx); err != nil {
			logger.Fatal("Failed to start rPPG service", zap.Error(err))
		}
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := rppgService.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Service stopped")
}
