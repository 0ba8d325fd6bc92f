package usecase

import (
	"context"
	"errors"
	"time"

	"cv-optimizer/internal/domain"
)

// RunJob executes a queued job. A job that is not queued (already claimed,
// finished, or never triggered) is left alone, so redelivered tasks are
// harmless. The returned error is reserved for store failures.
func (c *Coordinator) RunJob(ctx context.Context, jobID string) error {
	job, claimed, err := c.claim(ctx, jobID)
	if err != nil || !claimed {
		return err
	}

	start := c.now()
	out, runErr := c.pipeline(ctx, job)
	if runErr != nil && ctx.Err() != nil {
		// Interrupted (shutdown or queue deadline). The job stays in
		// processing and the staleness rule resolves it.
		c.logger.Warn("refinement.interrupted", "job_id", jobID, "error", ctx.Err())
		return ctx.Err()
	}
	return c.finish(ctx, jobID, out, runErr, start)
}

func (c *Coordinator) claim(ctx context.Context, jobID string) (*domain.Job, bool, error) {
	unlock := c.locks.Lock(jobID)
	defer unlock()

	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.logger.Warn("refinement.run.missing", "job_id", jobID)
			return nil, false, nil
		}
		return nil, false, storeError("load job", err)
	}
	if job.Status != domain.StatusQueued {
		c.logger.Info("refinement.run.skipped", "job_id", jobID, "status", string(job.Status))
		return nil, false, nil
	}
	if err := job.Transition(domain.StatusProcessing, c.now()); err != nil {
		return nil, false, err
	}
	if err := c.jobs.Put(ctx, job); err != nil {
		if errors.Is(err, domain.ErrStaleWrite) {
			c.logger.Info("refinement.run.claim_lost", "job_id", jobID)
			return nil, false, nil
		}
		return nil, false, storeError("claim job", err)
	}
	c.logger.Info("refinement.run.claimed", "job_id", jobID, "refinement_level", job.RefinementLevel)
	return job.Clone(), true, nil
}

// finish records the outcome unless the job left processing meanwhile;
// in that case the late result is dropped.
func (c *Coordinator) finish(ctx context.Context, jobID string, out *stageOutput, runErr error, start time.Time) error {
	unlock := c.locks.Lock(jobID)
	defer unlock()

	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return storeError("load job", err)
	}
	if job.Status != domain.StatusProcessing {
		c.logger.Warn("refinement.result.discarded", "job_id", jobID, "status", string(job.Status))
		return nil
	}

	now := c.now()
	if runErr != nil {
		stage, msg := StageProcessing, runErr.Error()
		var se *domain.StageError
		if errors.As(runErr, &se) {
			stage, msg = se.Stage, se.Err.Error()
		}
		if err := job.Fail(stage, msg, now); err != nil {
			return err
		}
	} else {
		if err := job.Complete(out.Refined, out.Keywords, out.Changes, now); err != nil {
			return err
		}
	}

	if err := c.jobs.Put(ctx, job); err != nil {
		if errors.Is(err, domain.ErrStaleWrite) {
			c.logger.Warn("refinement.result.discarded", "job_id", jobID, "reason", "stale write")
			return nil
		}
		return storeError("record result", err)
	}
	c.logger.Info("refinement.finished", "job_id", jobID, "status", string(job.Status), "elapsed_ms", now.Sub(start).Milliseconds())
	return nil
}
