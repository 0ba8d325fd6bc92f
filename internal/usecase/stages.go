package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cv-optimizer/internal/domain"
	"cv-optimizer/pkg/ai"
	"cv-optimizer/pkg/retry"
)

// Stage names recorded in JobError.Stage.
const (
	StageFetch      = "fetch_job_page"
	StageKeywords   = "extract_keywords"
	StageRefine     = "refine_document"
	StageDiff       = "render_diff"
	StageProcessing = "processing"
)

// stageOutput collects what the pipeline produced so far.
type stageOutput struct {
	JobText  string
	Keywords string
	Refined  string
	Changes  *string
}

func (c *Coordinator) policy(timeout time.Duration, attempts int, stage, jobID string) retry.Policy {
	return retry.Policy{
		MaxAttempts: attempts,
		BaseDelay:   c.baseDelay,
		MaxDelay:    c.maxDelay,
		Timeout:     timeout,
		Sleep:       c.sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			c.logger.Warn("refinement.stage.retry", "job_id", jobID, "stage", stage, "attempt", attempt, "delay", delay.String(), "error", err)
		},
	}
}

// runStage runs op under the stage's retry policy and converts the final
// error into a StageError. Only the value of the winning attempt comes back.
func runStage[T any](ctx context.Context, c *Coordinator, stage, jobID string, timeout time.Duration, attempts int, op func(ctx context.Context) (T, error)) (T, error) {
	start := c.now()
	v, n, err := retry.Do(ctx, c.policy(timeout, attempts, stage, jobID), op)
	elapsed := c.now().Sub(start)
	if err != nil {
		kind := domain.ErrStageFailed
		if errors.Is(err, retry.ErrTimeout) {
			kind = domain.ErrStageTimeout
			err = fmt.Errorf("%w after %s", kind, timeout)
		} else {
			err = fmt.Errorf("%w: %v", kind, err)
		}
		c.logger.Error("refinement.stage.failed", "job_id", jobID, "stage", stage, "attempts", n, "elapsed_ms", elapsed.Milliseconds(), "error", err)
		return v, &domain.StageError{Stage: stage, Attempts: n, Err: err}
	}
	c.logger.Info("refinement.stage.done", "job_id", jobID, "stage", stage, "attempts", n, "elapsed_ms", elapsed.Milliseconds())
	return v, nil
}

func (c *Coordinator) fetchStage(ctx context.Context, job *domain.Job, out *stageOutput) error {
	text, err := runStage(ctx, c, StageFetch, job.ID, c.fetchTimeout, 1, func(ctx context.Context) (string, error) {
		text, err := c.fetcher.FetchText(ctx, job.JobURL)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) == "" {
			return "", errors.New("job page has no readable text")
		}
		return text, nil
	})
	if err != nil {
		return err
	}
	out.JobText = text
	return nil
}

func (c *Coordinator) keywordsStage(ctx context.Context, job *domain.Job, out *stageOutput) error {
	jobText := out.JobText
	kw, err := runStage(ctx, c, StageKeywords, job.ID, c.keywordsTimeout, c.maxAttempts, func(ctx context.Context) (string, error) {
		kw, err := c.engine.ExtractKeywords(ctx, jobText)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(kw) == "" {
			return "", errors.New("empty keyword list")
		}
		return kw, nil
	})
	if err != nil {
		return err
	}
	out.Keywords = kw
	return nil
}

func (c *Coordinator) refineStage(ctx context.Context, job *domain.Job, out *stageOutput) error {
	prompt := ai.RefinementPrompt(out.Keywords, job.OriginalDocument, job.RefinementLevel)
	doc, err := runStage(ctx, c, StageRefine, job.ID, c.refineTimeout, c.maxAttempts, func(ctx context.Context) (string, error) {
		doc, err := c.engine.RefineDocument(ctx, prompt)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(doc) == "" {
			return "", errors.New("empty refined document")
		}
		return doc, nil
	})
	if err != nil {
		return err
	}
	out.Refined = doc
	return nil
}

// diffStage never fails the job; a missing diff only hides the changes view.
func (c *Coordinator) diffStage(job *domain.Job, out *stageOutput) {
	if c.differ == nil {
		return
	}
	view, err := c.differ.Render(job.OriginalDocument, out.Refined)
	if err != nil {
		c.logger.Warn("refinement.stage.diff_skipped", "job_id", job.ID, "stage", StageDiff, "error", err)
		return
	}
	out.Changes = &view
}

// pipeline runs every stage in order and stops at the first failure.
func (c *Coordinator) pipeline(ctx context.Context, job *domain.Job) (*stageOutput, error) {
	out := &stageOutput{}
	for _, st := range []func(context.Context, *domain.Job, *stageOutput) error{
		c.fetchStage,
		c.keywordsStage,
		c.refineStage,
	} {
		if err := st(ctx, job, out); err != nil {
			return out, err
		}
	}
	c.diffStage(job, out)
	return out, nil
}
