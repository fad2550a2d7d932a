package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/scorecard/internal/app"
	"github.com/odyssey-erp/scorecard/internal/mentorship"
	"github.com/odyssey-erp/scorecard/internal/periods"
	"github.com/odyssey-erp/scorecard/internal/platform/cache"
	"github.com/odyssey-erp/scorecard/internal/platform/db"
	"github.com/odyssey-erp/scorecard/internal/scorecard"
	"github.com/odyssey-erp/scorecard/internal/shared"
	"github.com/odyssey-erp/scorecard/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	// Worker writes bump the same cache versions the API reads.
	service := periods.NewService(
		periods.NewRepository(pool),
		mentorship.NewRepository(pool),
		scorecard.NewRepository(pool),
		shared.NewAuditLogger(pool),
		periods.ServiceConfig{
			Logger:   logger,
			Cache:    periods.NewCache(redisClient, cfg.CacheTTL),
			Location: cfg.Location(),
		},
	)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	autoFreeze := jobs.NewAutoFreezeJob(service, logger, nil)
	sweep := jobs.NewAutoFreezeSweepJob(service, client, logger, nil)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Location:  cfg.Location(),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAutoFreeze, Handler: autoFreeze.Handle},
			{Type: jobs.TaskAutoFreezeSweep, Handler: sweep.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.AutoFreezeCron, Task: jobs.NewAutoFreezeSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("cron", cfg.AutoFreezeCron), slog.String("timezone", cfg.Timezone))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
