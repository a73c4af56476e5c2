package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/armada-fleet/armada/internal/app"
	"github.com/armada-fleet/armada/internal/clock"
	jobmetrics "github.com/armada-fleet/armada/internal/jobs"
	"github.com/armada-fleet/armada/internal/observability"
	"github.com/armada-fleet/armada/internal/platform/cache"
	"github.com/armada-fleet/armada/internal/policy"
	"github.com/armada-fleet/armada/jobs"
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
	clk := clock.System{}

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

	keyring, err := policy.NewPersistentKeyRing(ctx, clk, policy.NewRedisKeyStore(redisClient))
	if err != nil {
		logger.Error("load keyring", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	jm := jobmetrics.NewMetrics(metrics.Registerer())

	pruneJob := jobs.NewKeysPruneJob(keyring, cfg.KeyRotateGrace, logger, jm)
	sweepJob := jobs.NewAbuseSweepJob(redisClient, cfg.LockoutRetention, logger, jm)

	pruneTask, err := jobs.NewKeysPruneTask(jobs.KeysPrunePayload{})
	if err != nil {
		logger.Error("build prune task", slog.Any("error", err))
		os.Exit(1)
	}
	sweepTask, err := jobs.NewAbuseSweepTask(jobs.AbuseSweepPayload{})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskKeysPruneRotated, Handler: pruneJob.Handle},
			{Type: jobs.TaskAbuseSweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "17 * * * *", Task: pruneTask, Options: []asynq.Option{asynq.Queue(jobs.QueueDefault)}},
			{Spec: "43 3 * * *", Task: sweepTask, Options: []asynq.Option{asynq.Queue(jobs.QueueDefault)}},
		},
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		logger.Info("metrics listening", slog.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", slog.Any("error", err))
		}
	}()
	defer func() { _ = metricsServer.Close() }()

	logger.Info("worker starting", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
