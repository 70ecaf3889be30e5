package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/clock"
	"github.com/habitflow/internal/config"
	"github.com/habitflow/internal/db"
	"github.com/habitflow/internal/handler"
	"github.com/habitflow/internal/middleware"
	"github.com/habitflow/internal/notify"
	"github.com/habitflow/internal/router"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}

func main() {
	cfg := config.Load()
	gin.SetMode(cfg.GinMode)

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	middleware.InitMetrics()

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}

	notifier := notify.NewTelegram(cfg.TelegramAPIBase, cfg.TelegramBotToken, logger)
	api := handler.NewAPI(db.DB, clock.System(), cfg.TelegramBotToken, cfg.TelegramBotUsername, notifier, logger)

	// 设置并运行 Gin 服务器
	r := router.SetupRouter(api, cfg.SessionSecret, logger)
	logger.Info("server starting", zap.String("addr", cfg.ListenAddr))
	if err := r.Run(cfg.ListenAddr); err != nil {
		logger.Fatal("failed to run server", zap.Error(err))
	}
}
