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

	"github.com/gin-gonic/gin"
	"github.com/mindcompanion/internal/cache"
	"github.com/mindcompanion/internal/config"
	"github.com/mindcompanion/internal/db"
	"github.com/mindcompanion/internal/handler"
	"github.com/mindcompanion/internal/logging"
	"github.com/mindcompanion/internal/router"
	"github.com/mindcompanion/internal/service"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()

	logger, err := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Path:       cfg.LogPath,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   cfg.LogCompress,
	})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// 初始化数据库
	gdb, err := db.Open(db.Options{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseDSN, LogLevel: cfg.LogLevel})
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 未配置 Redis 时使用进程内缓存，仅适合单实例部署
	var store cache.Store = cache.NewMemory()
	if cfg.RedisAddr != "" {
		redisStore := cache.NewRedisStore(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   "mindcompanion:",
		}, logger.Named("cache"))
		defer redisStore.Close()
		store = redisStore
	}

	var responder service.Responder
	if cfg.AIAPIKey != "" {
		responder = service.NewChatResponder(service.ResponderOptions{
			Provider: cfg.AIProvider,
			BaseURL:  cfg.AIBaseURL,
			Model:    cfg.AIModel,
			APIKey:   cfg.AIAPIKey,
			Timeout:  cfg.AITimeout,
		}, logger.Named("ai"))
	} else {
		logger.Warn("AI_API_KEY not set, chat will use fallback replies")
	}

	gin.SetMode(cfg.GinMode)
	api := handler.NewAPI(gdb, handler.Options{
		Cache:       store,
		CacheTTL:    cfg.CacheTTL,
		Responder:   responder,
		ChatHistory: cfg.ChatHistory,
		Logger:      logger,
	})
	r := router.SetupRouter(api, router.Options{
		JWTSecret:         cfg.JWTSecret,
		AllowedOrigins:    cfg.AllowedOrigins,
		ChatRatePerMinute: cfg.ChatRatePerMinute,
		Logger:            logger,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to run server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
