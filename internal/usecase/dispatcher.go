package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cv-optimizer/internal/domain"

	"github.com/google/uuid"
)

// InlineDispatcher runs jobs on a goroutine inside this process. The
// trigger returns as soon as the goroutine is started.
type InlineDispatcher struct {
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

type InlineOption func(*InlineDispatcher)

// WithRunTimeout bounds a whole inline run.
func WithRunTimeout(d time.Duration) InlineOption {
	return func(i *InlineDispatcher) {
		if d > 0 {
			i.timeout = d
		}
	}
}

func NewInlineDispatcher(logger *slog.Logger, opts ...InlineOption) *InlineDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &InlineDispatcher{logger: logger, timeout: 10 * time.Minute}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, job *domain.Job, run RunFunc) (string, error) {
	if run == nil {
		return "", fmt.Errorf("inline dispatch for %s: no runner", job.ID)
	}
	taskID := uuid.NewString()
	// The request context ends with the HTTP response; the run must not.
	base := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func(jobID string) {
		defer d.wg.Done()
		rctx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()
		if err := run(rctx, jobID); err != nil {
			d.logger.Error("dispatch.inline.run_failed", "job_id", jobID, "task_id", taskID, "error", err)
		}
	}(job.ID)
	d.logger.Info("dispatch.inline.started", "job_id", job.ID, "task_id", taskID)
	return taskID, nil
}

// Wait blocks until every started run has returned.
func (d *InlineDispatcher) Wait() { d.wg.Wait() }

// TaskPayload is the body the queue posts back to the task endpoint.
type TaskPayload struct {
	JobID  string `json:"jobId"`
	TaskID string `json:"taskId"`
}

// QueuedDispatcher hands jobs to an external queue. An enqueue error is
// reported to the trigger synchronously.
type QueuedDispatcher struct {
	queue  TaskQueue
	logger *slog.Logger
}

func NewQueuedDispatcher(q TaskQueue, logger *slog.Logger) *QueuedDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueuedDispatcher{queue: q, logger: logger}
}

func (d *QueuedDispatcher) Dispatch(ctx context.Context, job *domain.Job, _ RunFunc) (string, error) {
	taskID := uuid.NewString()
	body, err := json.Marshal(TaskPayload{JobID: job.ID, TaskID: taskID})
	if err != nil {
		return "", err
	}
	name, err := d.queue.Enqueue(ctx, job.ID, body)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", job.ID, err)
	}
	d.logger.Info("dispatch.queued", "job_id", job.ID, "task_id", taskID, "task_name", name)
	return taskID, nil
}
