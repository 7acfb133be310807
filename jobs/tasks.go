package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOrphanSweep removes orders left without lines.
	TaskOrphanSweep = "stock:orphan_sweep"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "stock:idempotency_cleanup"
)

// OrphanSweepPayload is empty today; it exists so producers and consumers agree on JSON.
type OrphanSweepPayload struct {
	Reason string `json:"reason,omitempty"`
}

// IdempotencyCleanupPayload optionally overrides the configured retention.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

// NewOrphanSweepTask constructs an orphan sweep task.
func NewOrphanSweepTask(reason string) (*asynq.Task, error) {
	body, err := json.Marshal(OrphanSweepPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrphanSweep, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(time.Minute)), nil
}

// NewIdempotencyCleanupTask constructs a cleanup task. A zero retention keeps the worker default.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
