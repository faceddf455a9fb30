package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/config"
	"github.com/ashwinyue/family-health/internal/database"
	"github.com/ashwinyue/family-health/internal/handler"
	"github.com/ashwinyue/family-health/internal/logger"
	"github.com/ashwinyue/family-health/internal/repository"
	"github.com/ashwinyue/family-health/internal/router"
	"github.com/ashwinyue/family-health/internal/service"
	"github.com/ashwinyue/family-health/internal/service/callback"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fh-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	// 设置 Gin 模式
	gin.SetMode(cfg.Server.Mode)
	callback.SetupGlobalCallbacks(log.Named("eino"), cfg.App.Debug)

	// 初始化数据库
	db, err := database.New(cfg, log.Named("database"))
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()
	log.Info("database connected", zap.String("driver", cfg.Database.Driver))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis 可选，不可用时历史缓存退化为进程内存
	redisClient := connectRedis(ctx, cfg, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// 初始化各层
	repos := repository.NewRepositories(db.DB)
	services, err := service.NewServices(ctx, repos, cfg, redisClient, log)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}
	services.Start(ctx)
	defer services.Stop()

	handlers := handler.NewHandlers(services, log.Named("http"))
	r := router.SetupRouter(handlers, services.Auth, cfg, log.Named("http"))

	// 创建 HTTP 服务器，writeTimeout 默认 0，SSE 需要长连接
	srv := &http.Server{
		Addr:         cfg.Server.GetAddr(),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}

	log.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}

func connectRedis(ctx context.Context, cfg *config.Config, log *zap.Logger) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unavailable, using in-memory history", zap.String("addr", cfg.Redis.GetAddr()), zap.Error(err))
		_ = client.Close()
		return nil
	}
	return client
}
