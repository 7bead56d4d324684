package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/alert-engine/internal/channel"
	"github.com/kursadbilgin/alert-engine/internal/config"
	"github.com/kursadbilgin/alert-engine/internal/dispatch"
	"github.com/kursadbilgin/alert-engine/internal/handler"
	"github.com/kursadbilgin/alert-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/alert-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/alert-engine/internal/infra/redis"
	"github.com/kursadbilgin/alert-engine/internal/observability"
	"github.com/kursadbilgin/alert-engine/internal/ratelimit"
	"github.com/kursadbilgin/alert-engine/internal/repository"
	"github.com/kursadbilgin/alert-engine/internal/service"
	"github.com/kursadbilgin/alert-engine/internal/transport"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	var rdb *goredis.Client
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()
	}

	limiter, err := newDispatchRateLimiter(rdb, cfg.DispatchRatePerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	senders, err := newGatewaySenders(cfg)
	if err != nil {
		logger.Fatal("gateway initialization failed", zap.Error(err))
	}

	attemptRepo := repository.NewGormAttemptRepo(db)
	alertRepo := repository.NewGormAlertRepo(db)
	recipientRepo := repository.NewGormRecipientRepo(db)

	txManager, err := repository.NewGormTxManager(db)
	if err != nil {
		logger.Fatal("transaction manager initialization failed", zap.Error(err))
	}

	dispatcher, err := dispatch.NewDispatcher(senders, attemptRepo, logger)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}

	alertService, err := service.NewAlertService(alertRepo, recipientRepo, attemptRepo, dispatcher, txManager,
		service.AlertServiceOptions{
			BatchSize:            cfg.BatchSize,
			InterBatchDelay:      cfg.InterBatchDelay(),
			RetryBatchSize:       cfg.RetryBatchSize,
			RetryInterBatchDelay: cfg.RetryInterBatchDelay(),
		}, logger)
	if err != nil {
		logger.Fatal("alert service initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	dispatcher.SetMetrics(metrics)
	alertService.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(transport.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterAlertRoutes(app, alertService, limiter); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	go func() {
		logger.Info("alert-engine api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	if err := app.Shutdown(); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
}

func newDispatchRateLimiter(rdb *goredis.Client, limitPerSec int) (ratelimit.RateLimiter, error) {
	if rdb != nil {
		return infraredis.NewRedisRateLimiter(rdb, limitPerSec)
	}
	return ratelimit.NewMemoryRateLimiter(limitPerSec), nil
}

func newGatewaySenders(cfg *config.Config) ([]channel.Sender, error) {
	email, err := channel.NewEmailGateway(cfg.EmailGatewayURL)
	if err != nil {
		return nil, fmt.Errorf("email gateway: %w", err)
	}
	sms, err := channel.NewSMSGateway(cfg.SMSGatewayURL)
	if err != nil {
		return nil, fmt.Errorf("sms gateway: %w", err)
	}
	push, err := channel.NewPushGateway(cfg.PushGatewayURL)
	if err != nil {
		return nil, fmt.Errorf("push gateway: %w", err)
	}
	return []channel.Sender{email, sms, push}, nil
}
