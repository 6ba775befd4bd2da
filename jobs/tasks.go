package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAnomalyScan flags products with unusual movement volume.
	TaskAnomalyScan = "ledger:anomaly_scan"
	// TaskRetentionCleanup purges expired movements and idempotency keys.
	TaskRetentionCleanup = "ledger:retention_cleanup"
)

// AnomalyScanPayload configures one anomaly scan run. Zero values fall back
// to the configured defaults.
type AnomalyScanPayload struct {
	WindowDays      int   `json:"window_days"`
	AbsQtyThreshold int64 `json:"abs_qty_threshold"`
	CountThreshold  int64 `json:"count_threshold"`
}

// NewAnomalyScanTask constructs the anomaly scan task.
func NewAnomalyScanTask(payload AnomalyScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAnomalyScan, data), nil
}

// RetentionCleanupPayload configures one retention run.
type RetentionCleanupPayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewRetentionCleanupTask constructs the retention cleanup task.
func NewRetentionCleanupTask(payload RetentionCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRetentionCleanup, data), nil
}
