package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSweeper struct {
	swept []int64
	err   error
	calls int
}

func (f *fakeSweeper) SweepOrphans(ctx context.Context) ([]int64, error) {
	f.calls++
	return f.swept, f.err
}

type fakePurger struct {
	got     time.Duration
	removed int64
	err     error
}

func (f *fakePurger) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.got = olderThan
	return f.removed, f.err
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			match := true
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					match = false
				}
			}
			if match {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestOrphanSweepJobRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	sweeper := &fakeSweeper{swept: []int64{3, 8}}
	job := NewOrphanSweepJob(sweeper, quietLogger, metrics)

	task, err := NewOrphanSweepTask("cron")
	require.NoError(t, err)
	require.Equal(t, TaskOrphanSweep, task.Type())
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, sweeper.calls)
	require.Equal(t, float64(2), counterValue(t, reg, "stock_job_rows_processed_total", map[string]string{"job": TaskOrphanSweep}))
	require.Equal(t, float64(1), counterValue(t, reg, "stock_jobs_total", map[string]string{"job": TaskOrphanSweep, "status": "success"}))

	sweeper.err = errors.New("db down")
	require.Error(t, job.Handle(context.Background(), task))
	require.Equal(t, float64(1), counterValue(t, reg, "stock_job_failures_total", map[string]string{"job": TaskOrphanSweep}))
}

func TestOrphanSweepJobSkipsMalformedPayload(t *testing.T) {
	job := NewOrphanSweepJob(&fakeSweeper{}, quietLogger, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskOrphanSweep, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	var unconfigured *OrphanSweepJob
	require.Error(t, unconfigured.Handle(context.Background(), asynq.NewTask(TaskOrphanSweep, nil)))
}

func TestIdempotencyCleanupRetention(t *testing.T) {
	purger := &fakePurger{removed: 4}
	job := NewIdempotencyCleanupJob(purger, 48*time.Hour, quietLogger, nil)

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, purger.got)

	task, err = NewIdempotencyCleanupTask(6 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 6*time.Hour, purger.got)

	purger.err = errors.New("boom")
	require.Error(t, job.Handle(context.Background(), task))
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

type fakeEnqueuer struct {
	err error
}

func (f fakeEnqueuer) EnqueueOrphanSweep(ctx context.Context, reason string) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault}, nil
}

func serve(h *Handler, method, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestJobsHealth(t *testing.T) {
	rec := serve(NewHandler(nil, nil, quietLogger), http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(NewHandler(fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Failed: 1}}, nil, quietLogger), http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, queueHealth{Queue: QueueDefault, Pending: 3, Failed: 1}, body)

	rec = serve(NewHandler(fakeInspector{err: errors.New("redis down")}, nil, quietLogger), http.MethodGet, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTriggerOrphanSweep(t *testing.T) {
	rec := serve(NewHandler(nil, fakeEnqueuer{}, quietLogger), http.MethodPost, "/orphan-sweep")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var body enqueued
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "task-1", body.TaskID)

	rec = serve(NewHandler(nil, nil, quietLogger), http.MethodPost, "/orphan-sweep")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(NewHandler(nil, fakeEnqueuer{err: errors.New("x")}, quietLogger), http.MethodPost, "/orphan-sweep")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
