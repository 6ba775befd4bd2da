package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/stockpilot/stockpilot/internal/app"
	jobmetrics "github.com/stockpilot/stockpilot/internal/jobs"
	"github.com/stockpilot/stockpilot/internal/ledger"
	"github.com/stockpilot/stockpilot/internal/platform/db"
	"github.com/stockpilot/stockpilot/internal/shared"
	"github.com/stockpilot/stockpilot/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	ledgerRepo := ledger.NewRepository(pool, ledger.RepositoryConfig{LockTimeout: cfg.LedgerLockTimeout})
	ledgerService := ledger.NewService(ledgerRepo, auditLogger)

	metrics := jobmetrics.NewMetrics(nil)
	anomalyJob := jobs.NewAnomalyScanJob(ledgerService, logger, metrics)
	retentionJob := jobs.NewRetentionCleanupJob(ledgerRepo, idempotencyStore, logger, metrics, cfg.MovementRetentionDays)

	anomalyTask, err := jobs.NewAnomalyScanTask(jobs.AnomalyScanPayload{
		WindowDays:      cfg.AnomalyWindowDays,
		AbsQtyThreshold: cfg.AnomalyAbsQtyThreshold,
		CountThreshold:  cfg.AnomalyCountThreshold,
	})
	if err != nil {
		logger.Error("build anomaly task", slog.Any("error", err))
		os.Exit(1)
	}
	retentionTask, err := jobs.NewRetentionCleanupTask(jobs.RetentionCleanupPayload{
		RetentionDays: cfg.MovementRetentionDays,
	})
	if err != nil {
		logger.Error("build retention task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAnomalyScan, Handler: anomalyJob.Handle},
			{Type: jobs.TaskRetentionCleanup, Handler: retentionJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.AnomalyScanCron, Task: anomalyTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.RetentionCleanupCron, Task: retentionTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
