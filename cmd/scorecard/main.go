package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/scorecard/internal/app"
	"github.com/odyssey-erp/scorecard/internal/mentorship"
	"github.com/odyssey-erp/scorecard/internal/observability"
	"github.com/odyssey-erp/scorecard/internal/periods"
	periodshttp "github.com/odyssey-erp/scorecard/internal/periods/http"
	"github.com/odyssey-erp/scorecard/internal/platform/cache"
	"github.com/odyssey-erp/scorecard/internal/platform/db"
	"github.com/odyssey-erp/scorecard/internal/scorecard"
	"github.com/odyssey-erp/scorecard/internal/shared"
	"github.com/odyssey-erp/scorecard/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The read cache degrades to direct loads, so a missing Redis is not fatal.
	var periodCache *periods.Cache
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, period cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		periodCache = periods.NewCache(redisClient, cfg.CacheTTL)
	}

	metrics := observability.NewMetrics()
	service := periods.NewService(
		periods.NewRepository(pool),
		mentorship.NewRepository(pool),
		scorecard.NewRepository(pool),
		shared.NewAuditLogger(pool),
		periods.ServiceConfig{
			Logger:   logger,
			Cache:    periodCache,
			Metrics:  metrics,
			Location: cfg.Location(),
		},
	)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		PeriodsHandler: periodshttp.NewHandler(logger, service),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("timezone", cfg.Timezone))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
