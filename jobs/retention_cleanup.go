package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/stockpilot/stockpilot/internal/jobs"
)

// MovementPurger removes expired movements. Sale and return movements are
// never purged; the ledger keeps order history intact.
type MovementPurger interface {
	PurgeMovements(ctx context.Context, cutoff time.Time) (int64, error)
}

// KeyCleaner removes stale idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// RetentionCleanupJob enforces the movement retention policy.
type RetentionCleanupJob struct {
	Purger  MovementPurger
	Keys    KeyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics

	// DefaultRetentionDays applies when the payload carries no value.
	DefaultRetentionDays int
}

// NewRetentionCleanupJob initialises the retention handler.
func NewRetentionCleanupJob(purger MovementPurger, keys KeyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics, retentionDays int) *RetentionCleanupJob {
	return &RetentionCleanupJob{
		Purger:               purger,
		Keys:                 keys,
		Logger:               logger,
		Metrics:              metrics,
		DefaultRetentionDays: retentionDays,
	}
}

// Handle executes the cleanup.
func (j *RetentionCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Purger == nil {
		return errors.New("retention cleanup: handler not configured")
	}
	var payload RetentionCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	days := payload.RetentionDays
	if days <= 0 {
		days = j.DefaultRetentionDays
	}
	if days <= 0 {
		days = 365
	}

	tracker := j.metrics().Track(TaskRetentionCleanup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int("retention_days", days))
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	purged, err := j.Purger.PurgeMovements(ctx, cutoff)
	if err != nil {
		resultErr = err
		logger.Error("purge failed", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddPurged(purged)

	if j.Keys != nil {
		if err := j.Keys.Cleanup(ctx, time.Duration(days)*24*time.Hour); err != nil {
			logger.Warn("idempotency cleanup failed", slog.Any("error", err))
		}
	}

	logger.Info("completed retention cleanup",
		slog.Int64("purged", purged),
		slog.Time("cutoff", cutoff),
	)
	return resultErr
}

func (j *RetentionCleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRetentionCleanup))
	}
	return slog.Default().With(slog.String("job", TaskRetentionCleanup))
}

func (j *RetentionCleanupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}
