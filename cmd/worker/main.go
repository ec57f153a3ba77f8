package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-inventory/internal/app"
	"github.com/odyssey-erp/odyssey-inventory/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-inventory/internal/jobs"
	"github.com/odyssey-erp/odyssey-inventory/internal/observability"
	"github.com/odyssey-erp/odyssey-inventory/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-inventory/internal/platform/db"
	"github.com/odyssey-erp/odyssey-inventory/internal/shared"
	"github.com/odyssey-erp/odyssey-inventory/jobs"
)

const metricsAddr = ":9091"

func main() {
	if app.SkipStartup(nil, "worker") {
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.DBOptions())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := cache.NewClient(cfg.RedisOptions())
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := (cache.HealthCheck{Client: redisClient}).Ping(ctx); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	metrics := observability.NewMetrics(observability.ProcessWorker)
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	service := app.NewInventoryService(cfg, logger, pool, redisClient, metrics.Registerer())

	verifyJob := jobs.NewHistoryVerifyJob(inventory.NewRepository(pool), logger, jobMetrics)
	expiryJob := jobs.NewLotExpiryJob(service, logger, jobMetrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger, jobMetrics)

	verifyTask, err := jobs.NewHistoryVerifyTask(jobs.HistoryVerifyPayload{})
	if err != nil {
		logger.Error("build history verify task", slog.Any("error", err))
		os.Exit(1)
	}
	expiryTask, err := jobs.NewLotExpiryTask(jobs.LotExpiryPayload{})
	if err != nil {
		logger.Error("build lot expiry task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(jobs.IdempotencyCleanupPayload{Retention: cfg.IdempotencyRetention})
	if err != nil {
		logger.Error("build idempotency cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:       asynq.RedisClientOpt{Addr: cfg.RedisAddr, PoolSize: cfg.RedisPoolSize},
		Logger:          logger,
		Concurrency:     cfg.JobsConcurrency,
		ShutdownTimeout: cfg.TxTimeout,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskHistoryVerify, Handler: verifyJob.Handle},
			{Type: jobs.TaskLotExpiry, Handler: expiryJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.JobsHistoryVerifyCron, Task: verifyTask, Options: jobs.DefaultOptions(jobs.TaskHistoryVerify)},
			{Spec: cfg.JobsLotExpiryCron, Task: expiryTask, Options: jobs.DefaultOptions(jobs.TaskLotExpiry)},
			{Spec: cfg.JobsIdempotencyCleanupCron, Task: cleanupTask, Options: jobs.DefaultOptions(jobs.TaskIdempotencyCleanup)},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: metricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting worker", slog.Int("cron_entries", worker.Scheduled()))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
