package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/stockpilot/stockpilot/internal/jobs"
	"github.com/stockpilot/stockpilot/internal/ledger"
)

type stubScanner struct {
	anomalies []ledger.Anomaly
	err       error
	window    time.Duration
}

func (s *stubScanner) Anomalies(ctx context.Context, window time.Duration, absQty, count int64) ([]ledger.Anomaly, error) {
	s.window = window
	return s.anomalies, s.err
}

type stubPurger struct {
	cutoff time.Time
	purged int64
	err    error
}

func (s *stubPurger) PurgeMovements(ctx context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return s.purged, s.err
}

type stubKeys struct {
	called bool
}

func (s *stubKeys) Cleanup(ctx context.Context, olderThan time.Duration) error {
	s.called = true
	return nil
}

type stubEnqueuer struct {
	scan      *AnomalyScanPayload
	retention *RetentionCleanupPayload
	err       error
}

func (s *stubEnqueuer) EnqueueAnomalyScan(ctx context.Context, payload AnomalyScanPayload) (*asynq.TaskInfo, error) {
	s.scan = &payload
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault}, s.err
}

func (s *stubEnqueuer) EnqueueRetentionCleanup(ctx context.Context, payload RetentionCleanupPayload) (*asynq.TaskInfo, error) {
	s.retention = &payload
	return &asynq.TaskInfo{ID: "task-2", Queue: QueueDefault}, s.err
}

func newTestMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

func newJobsRouter(enq Enqueuer) http.Handler {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, enq, nil).MountRoutes)
	return r
}

func TestAnomalyScanHandle(t *testing.T) {
	scanner := &stubScanner{anomalies: []ledger.Anomaly{
		{ProductID: 1, SKU: "SKU-1", AbsQuantity: 900, Movements: 12, Severity: "HIGH"},
	}}
	job := NewAnomalyScanJob(scanner, nil, newTestMetrics())

	task, err := NewAnomalyScanTask(AnomalyScanPayload{WindowDays: 7, AbsQtyThreshold: 500, CountThreshold: 100})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 7*24*time.Hour, scanner.window)
}

func TestAnomalyScanPropagatesFailure(t *testing.T) {
	scanner := &stubScanner{err: errors.New("query failed")}
	job := NewAnomalyScanJob(scanner, nil, newTestMetrics())

	task, err := NewAnomalyScanTask(AnomalyScanPayload{})
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
}

func TestAnomalyScanRejectsMalformedPayload(t *testing.T) {
	job := NewAnomalyScanJob(&stubScanner{}, nil, newTestMetrics())
	err := job.Handle(context.Background(), asynq.NewTask(TaskAnomalyScan, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRetentionCleanupHandle(t *testing.T) {
	purger := &stubPurger{purged: 42}
	keys := &stubKeys{}
	job := NewRetentionCleanupJob(purger, keys, nil, newTestMetrics(), 90)

	task, err := NewRetentionCleanupTask(RetentionCleanupPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	// Default retention applies when the payload carries no value.
	expected := time.Now().UTC().AddDate(0, 0, -90)
	require.WithinDuration(t, expected, purger.cutoff, time.Minute)
	require.True(t, keys.called)
}

func TestTriggerAnomalyScanEnqueues(t *testing.T) {
	enq := &stubEnqueuer{}
	router := newJobsRouter(enq)

	req := httptest.NewRequest(http.MethodPost, "/jobs/anomaly-scan", strings.NewReader(`{"window_days":3}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, enq.scan)
	require.Equal(t, 3, enq.scan.WindowDays)
	require.Contains(t, rec.Body.String(), `"task_id":"task-1"`)
}

func TestTriggerRetentionCleanupAllowsEmptyBody(t *testing.T) {
	enq := &stubEnqueuer{}
	router := newJobsRouter(enq)

	req := httptest.NewRequest(http.MethodPost, "/jobs/retention-cleanup", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// Zero payload; the job handler falls back to configured defaults.
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, enq.retention)
	require.Zero(t, enq.retention.RetentionDays)
}

func TestTriggerRejectsMalformedPayload(t *testing.T) {
	enq := &stubEnqueuer{}
	router := newJobsRouter(enq)

	req := httptest.NewRequest(http.MethodPost, "/jobs/anomaly-scan", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Nil(t, enq.scan)
}

func TestTriggerWithoutEnqueuerUnavailable(t *testing.T) {
	router := newJobsRouter(nil)

	req := httptest.NewRequest(http.MethodPost, "/jobs/anomaly-scan", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRetentionCleanupPayloadOverridesDefault(t *testing.T) {
	purger := &stubPurger{}
	job := NewRetentionCleanupJob(purger, nil, nil, newTestMetrics(), 90)

	task, err := NewRetentionCleanupTask(RetentionCleanupPayload{RetentionDays: 30})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	expected := time.Now().UTC().AddDate(0, 0, -30)
	require.WithinDuration(t, expected, purger.cutoff, time.Minute)
}
