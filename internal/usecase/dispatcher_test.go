package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cv-optimizer/internal/domain"
	"cv-optimizer/internal/usecase"
)

type fakeQueue struct {
	err      error
	payloads [][]byte
}

func (q *fakeQueue) Enqueue(_ context.Context, jobID string, payload []byte) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.payloads = append(q.payloads, payload)
	return "tasks/" + jobID, nil
}

func TestQueuedDispatcherEnqueuesPayload(t *testing.T) {
	q := &fakeQueue{}
	d := usecase.NewQueuedDispatcher(q, discardLogger())
	taskID, err := d.Dispatch(context.Background(), &domain.Job{ID: "job-7"}, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var p usecase.TaskPayload
	if err := json.Unmarshal(q.payloads[0], &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.JobID != "job-7" || p.TaskID != taskID {
		t.Fatalf("unexpected payload %+v (task %s)", p, taskID)
	}
}

func TestQueuedDispatchFailureLeavesJobQueued(t *testing.T) {
	q := &fakeQueue{err: errors.New("quota exceeded")}
	h := newHarness(t, usecase.NewQueuedDispatcher(q, discardLogger()), nil)
	j := h.createJob(t)

	res, err := h.coord.StartRefinement(context.Background(), j.ID, usecase.Trigger{Kind: usecase.TriggerDirect})
	if err != nil || res.Outcome != usecase.OutcomeDispatchFailed {
		t.Fatalf("expected dispatch failure, got %+v %v", res, err)
	}
	if got := h.job(t, j.ID); got.Status != domain.StatusQueued {
		t.Fatalf("expected queued, got %s", got.Status)
	}
}

func TestInlineDispatcherRunTimeout(t *testing.T) {
	d := usecase.NewInlineDispatcher(discardLogger(), usecase.WithRunTimeout(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var runErr error
	_, err := d.Dispatch(ctx, &domain.Job{ID: "job-8"}, func(rctx context.Context, jobID string) error {
		<-rctx.Done()
		runErr = rctx.Err()
		return nil
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	d.Wait()
	if !errors.Is(runErr, context.DeadlineExceeded) {
		t.Fatalf("run should outlive the caller context and stop at its own deadline, got %v", runErr)
	}
}
