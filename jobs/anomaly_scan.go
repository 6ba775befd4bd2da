package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/stockpilot/stockpilot/internal/jobs"
	"github.com/stockpilot/stockpilot/internal/ledger"
)

// AnomalyScanner is the slice of the ledger the scan job needs.
type AnomalyScanner interface {
	Anomalies(ctx context.Context, window time.Duration, absQtyThreshold, countThreshold int64) ([]ledger.Anomaly, error)
}

// AnomalyScanJob flags products whose movement volume over a trailing window
// exceeds configured thresholds.
type AnomalyScanJob struct {
	Scanner AnomalyScanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAnomalyScanJob initialises the anomaly scan handler.
func NewAnomalyScanJob(scanner AnomalyScanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *AnomalyScanJob {
	return &AnomalyScanJob{Scanner: scanner, Logger: logger, Metrics: metrics}
}

// Handle executes the anomaly scan.
func (j *AnomalyScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Scanner == nil {
		return errors.New("anomaly scan: handler not configured")
	}
	var payload AnomalyScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskAnomalyScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.Int("window_days", payload.WindowDays),
		slog.Int64("abs_qty_threshold", payload.AbsQtyThreshold),
		slog.Int64("count_threshold", payload.CountThreshold),
	)
	logger.Info("starting anomaly scan")

	window := time.Duration(payload.WindowDays) * 24 * time.Hour
	anomalies, err := j.Scanner.Anomalies(ctx, window, payload.AbsQtyThreshold, payload.CountThreshold)
	if err != nil {
		resultErr = err
		logger.Error("scan failed", slog.Any("error", err))
		return resultErr
	}

	for _, a := range anomalies {
		logger.Warn("stock anomaly detected",
			slog.Int64("product_id", a.ProductID),
			slog.String("sku", a.SKU),
			slog.String("severity", a.Severity),
			slog.Int64("abs_quantity", a.AbsQuantity),
			slog.Int64("movements", a.Movements),
		)
		j.metrics().AddAnomalies(a.Severity, a.ProductID, 1)
	}

	logger.Info("completed anomaly scan",
		slog.Int("anomalies", len(anomalies)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *AnomalyScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAnomalyScan))
	}
	return slog.Default().With(slog.String("job", TaskAnomalyScan))
}

func (j *AnomalyScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}
