package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

// Sweeper removes orders without lines and reports their ids.
type Sweeper interface {
	SweepOrphans(ctx context.Context) ([]int64, error)
}

// OrphanSweepJob runs the orphan sweep outside of request handling. The API
// already sweeps after item deletions; this catches rows written by other
// tools against the same database.
type OrphanSweepJob struct {
	Sweeper Sweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewOrphanSweepJob initialises the sweep handler.
func NewOrphanSweepJob(sweeper Sweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *OrphanSweepJob {
	return &OrphanSweepJob{Sweeper: sweeper, Logger: logger, Metrics: metrics}
}

// Handle executes the sweep.
func (j *OrphanSweepJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Sweeper == nil {
		return errors.New("orphan sweep: handler not configured")
	}
	var payload OrphanSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.Metrics.Track(TaskOrphanSweep)
	defer func() { err = tracker.End(err) }()

	logger := j.logger().With(slog.String("job", TaskOrphanSweep))
	swept, err := j.Sweeper.SweepOrphans(ctx)
	if err != nil {
		logger.Error("orphan sweep failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddProcessed(TaskOrphanSweep, int64(len(swept)))
	logger.Info("orphan sweep finished", slog.Int("swept", len(swept)), slog.String("reason", payload.Reason))
	return nil
}

func (j *OrphanSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
