package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"cv-optimizer/internal/domain"
	"cv-optimizer/pkg/retry"

	"github.com/google/uuid"
)

// Deps are the collaborators every Coordinator needs.
type Deps struct {
	Jobs       JobStore
	Credits    CreditStore
	Keys       IdempotencyStore
	FreePasses FreePassStore
	Dispatcher Dispatcher
	Fetcher    PageFetcher
	Engine     RefinementEngine
	Differ     DiffRenderer
}

// Coordinator owns the job lifecycle: triggers, execution and status
// polling. Transitions on a single job are serialized in-process; stores
// reject stale versions for writers in other processes.
type Coordinator struct {
	jobs       JobStore
	credits    CreditStore
	keys       IdempotencyStore
	freePasses FreePassStore
	dispatcher Dispatcher
	fetcher    PageFetcher
	engine     RefinementEngine
	differ     DiffRenderer

	locks  *keyedMutex
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger

	fetchTimeout    time.Duration
	keywordsTimeout time.Duration
	refineTimeout   time.Duration
	staleAfter      time.Duration
	maxAttempts     int
	baseDelay       time.Duration
	maxDelay        time.Duration
	bundleCredits   int
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithStageTimeouts(fetch, keywords, refine time.Duration) Option {
	return func(c *Coordinator) {
		if fetch > 0 {
			c.fetchTimeout = fetch
		}
		if keywords > 0 {
			c.keywordsTimeout = keywords
		}
		if refine > 0 {
			c.refineTimeout = refine
		}
	}
}

func WithRetry(attempts int, base, max time.Duration) Option {
	return func(c *Coordinator) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
		if base > 0 {
			c.baseDelay = base
		}
		if max > 0 {
			c.maxDelay = max
		}
	}
}

func WithStaleAfter(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.staleAfter = d
		}
	}
}

func WithBundleCredits(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.bundleCredits = n
		}
	}
}

func NewCoordinator(d Deps, opts ...Option) *Coordinator {
	c := &Coordinator{
		jobs:            d.Jobs,
		credits:         d.Credits,
		keys:            d.Keys,
		freePasses:      d.FreePasses,
		dispatcher:      d.Dispatcher,
		fetcher:         d.Fetcher,
		engine:          d.Engine,
		differ:          d.Differ,
		locks:           newKeyedMutex(),
		now:             time.Now,
		sleep:           retry.SleepContext,
		logger:          slog.Default(),
		fetchTimeout:    30 * time.Second,
		keywordsTimeout: 60 * time.Second,
		refineTimeout:   3 * time.Minute,
		staleAfter:      5 * time.Minute,
		maxAttempts:     3,
		baseDelay:       time.Second,
		maxDelay:        10 * time.Second,
		bundleCredits:   10,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CreateJob validates the submission and stores it as pending.
func (c *Coordinator) CreateJob(ctx context.Context, in JobInput) (*domain.Job, error) {
	if strings.TrimSpace(in.OriginalDocument) == "" {
		return nil, domain.InvalidJob("original document is required")
	}
	if err := validateJobURL(in.JobURL); err != nil {
		return nil, err
	}
	bundle := in.BundleType
	if bundle == "" {
		bundle = domain.BundleSingle
	}
	if bundle != domain.BundleSingle && bundle != domain.BundleMulti {
		return nil, domain.InvalidJob("unknown bundle type " + bundle)
	}

	id := in.JobID
	if id == "" {
		id = domain.NewJobID()
	} else if !domain.ValidJobID(id) {
		return nil, domain.InvalidJob("job id must be 1-128 letters, digits, '-' or '_'")
	}
	tab := in.TabSessionID
	if tab == "" {
		tab = uuid.NewString()
	}

	unlock := c.locks.Lock(id)
	defer unlock()

	if in.JobID != "" {
		if _, err := c.jobs.Get(ctx, id); err == nil {
			return nil, domain.NewAppError(domain.CodeConflict, "job "+id+" already exists", domain.ErrJobExists)
		} else if !errors.Is(err, domain.ErrJobNotFound) {
			return nil, storeError("load job", err)
		}
	}

	now := c.now()
	job := &domain.Job{
		ID:               id,
		Status:           domain.StatusPending,
		JobURL:           strings.TrimSpace(in.JobURL),
		OriginalDocument: in.OriginalDocument,
		RefinementLevel:  domain.ParseRefinementLevel(in.RefinementLevel),
		TabSessionID:     tab,
		OwnerKey:         in.OwnerKey,
		BundleType:       bundle,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := c.jobs.Put(ctx, job); err != nil {
		return nil, storeError("store job", err)
	}
	c.logger.Info("job.created", "job_id", id, "refinement_level", job.RefinementLevel, "bundle_type", bundle)
	return job.Clone(), nil
}

// Job returns a snapshot of the stored record.
func (c *Coordinator) Job(ctx context.Context, id string) (*domain.Job, error) {
	j, err := c.jobs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, domain.NotFound(id)
		}
		return nil, storeError("load job", err)
	}
	return j.Clone(), nil
}

// StartRefinement is the single entry point for every trigger. Side
// effects (debit, dispatch) happen at most once per idempotency key.
func (c *Coordinator) StartRefinement(ctx context.Context, jobID string, trig Trigger) (Result, error) {
	unlock := c.locks.Lock(jobID)
	defer unlock()

	log := c.logger.With("job_id", jobID, "trigger", string(trig.Kind))

	if trig.IdempotencyKey != "" {
		done, err := c.keys.HasProcessed(ctx, trig.IdempotencyKey)
		if err != nil {
			return Result{}, storeError("check idempotency key", err)
		}
		if done {
			log.Info("refinement.trigger.duplicate", "key", trig.IdempotencyKey)
			snap, _ := c.jobs.Get(ctx, jobID)
			return Result{Outcome: OutcomeDuplicate, Job: snap.Clone()}, nil
		}
	}

	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return Result{}, domain.NotFound(jobID)
		}
		return Result{}, storeError("load job", err)
	}

	switch {
	case job.Status == domain.StatusProcessing:
		log.Info("refinement.trigger.in_progress")
		return Result{Outcome: OutcomeAlreadyInProgress, Job: job.Clone()}, nil
	case job.Status.IsTerminal():
		log.Info("refinement.trigger.already_done", "status", string(job.Status))
		return Result{Outcome: OutcomeAlreadyDone, Job: job.Clone()}, nil
	case job.Dispatched():
		log.Info("refinement.trigger.already_dispatched", "task_id", job.TaskID)
		return Result{Outcome: OutcomeAlreadyInProgress, Job: job.Clone(), TaskID: job.TaskID}, nil
	}

	if job.JobURL == "" || job.OriginalDocument == "" {
		return Result{}, domain.InvalidJob("job " + jobID + " is missing its URL or document")
	}

	if !job.AttachTabSession(trig.TabSessionID) {
		log.Warn("refinement.trigger.tab_session_kept", "stored", job.TabSessionID, "offered", trig.TabSessionID)
	}
	if job.OwnerKey == "" {
		job.OwnerKey = trig.OwnerKey
	}

	owner := trig.OwnerKey
	if owner == "" {
		owner = job.OwnerKey
	}
	debited := false
	if trig.RedeemCredit {
		if owner == "" {
			return Result{}, domain.InvalidJob("credit redemption requires an owner")
		}
		ok, err := c.credits.Debit(ctx, owner, jobID)
		if err != nil {
			return Result{}, storeError("debit credit", err)
		}
		if !ok {
			log.Info("refinement.trigger.no_credits", "owner", owner)
			return Result{Outcome: OutcomeNoCredits, Job: job.Clone()}, nil
		}
		debited = true
	}

	if err := job.Transition(domain.StatusQueued, c.now()); err != nil {
		c.refund(ctx, debited, owner, jobID, log)
		return Result{}, err
	}
	job.TriggerIdempotencyKey = trig.IdempotencyKey
	if err := c.jobs.Put(ctx, job); err != nil {
		c.refund(ctx, debited, owner, jobID, log)
		return Result{}, storeError("queue job", err)
	}

	taskID, err := c.dispatcher.Dispatch(ctx, job.Clone(), c.RunJob)
	if err != nil {
		c.refund(ctx, debited, owner, jobID, log)
		log.Error("refinement.dispatch.failed", "error", err, "refunded", debited)
		return Result{
			Outcome: OutcomeDispatchFailed,
			Job:     job.Clone(),
			Err:     domain.NewAppError(domain.CodeDispatchFailed, "unable to dispatch job", fmt.Errorf("%w: %v", domain.ErrDispatchFailed, err)),
		}, nil
	}

	// Inline runs wait on this job's lock, so the record lands before the
	// run claims it. A stale write means another instance already claimed.
	if err := job.MarkDispatched(taskID, c.now()); err == nil {
		if err := c.jobs.Put(ctx, job); err != nil && !errors.Is(err, domain.ErrStaleWrite) {
			log.Error("refinement.dispatch.record_failed", "task_id", taskID, "error", err)
		}
	}

	if trig.IdempotencyKey != "" {
		if err := c.keys.MarkProcessed(ctx, trig.IdempotencyKey); err != nil {
			// The job is already dispatched; a redelivery will see the
			// queued/processing status instead.
			log.Error("refinement.trigger.mark_failed", "key", trig.IdempotencyKey, "error", err)
		}
	}

	res := Result{Outcome: OutcomeStarted, Job: job.Clone(), TaskID: taskID}
	if debited {
		if bal, err := c.credits.Balance(ctx, owner); err == nil {
			res.RemainingCredits = bal
		}
	}
	log.Info("refinement.dispatched", "task_id", taskID, "credit", debited)
	return res, nil
}

func (c *Coordinator) refund(ctx context.Context, debited bool, owner, jobID string, log *slog.Logger) {
	if !debited {
		return
	}
	if _, err := c.credits.Credit(ctx, owner, 1, domain.ReasonRefund, jobID); err != nil {
		log.Error("credit.refund.failed", "owner", owner, "error", err)
		return
	}
	log.Info("credit.refunded", "owner", owner)
}

// CheckStatus answers a poll. A job stuck in processing past staleAfter
// is failed by this call.
func (c *Coordinator) CheckStatus(ctx context.Context, jobID, tabSessionID string) (StatusView, error) {
	unlock := c.locks.Lock(jobID)
	defer unlock()

	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return StatusView{}, domain.NotFound(jobID)
		}
		return StatusView{}, storeError("load job", err)
	}

	now := c.now()
	if job.Status == domain.StatusProcessing && job.ProcessingStartedAt != nil && now.Sub(*job.ProcessingStartedAt) > c.staleAfter {
		msg := fmt.Sprintf("refinement timed out after %s", c.staleAfter)
		if err := job.Fail(StageProcessing, msg, now); err != nil {
			return StatusView{}, err
		}
		if err := c.jobs.Put(ctx, job); err != nil {
			return StatusView{}, storeError("fail stale job", err)
		}
		c.logger.Warn("refinement.stale", "job_id", jobID, "stale_after", c.staleAfter.String())
	}

	view := StatusView{JobID: job.ID, Status: string(job.Status)}
	if tabSessionID != "" && job.TabSessionID != "" && tabSessionID != job.TabSessionID {
		view.Status = StatusWrongTab
		view.Message = "This refinement belongs to another browser tab"
		return view, nil
	}

	switch job.Status {
	case domain.StatusBundlePurchase:
		view.BundleCredits = job.BundleCredits
		view.Message = fmt.Sprintf("%d credits added to your account", job.BundleCredits)
	case domain.StatusCompleted:
		if job.RefinedDocument != nil {
			view.RefinedDocument = *job.RefinedDocument
		}
		view.Changes = job.ChangesView
		view.Keywords = job.ExtractedKeywords
	case domain.StatusFailed:
		if job.Error != nil {
			view.Error = &ErrorView{Stage: job.Error.Stage, Message: job.Error.Message}
			view.Message = job.Error.Message
		}
	case domain.StatusProcessing:
		view.Message = "Refinement in progress"
	case domain.StatusQueued:
		view.Message = "Refinement queued"
		if !job.Dispatched() && job.QueuedAt != nil && now.Sub(*job.QueuedAt) > c.staleAfter {
			view.Message = "Refinement could not be started, please retry"
			view.Retryable = true
		}
	default:
		view.Message = "Waiting for payment confirmation"
	}
	return view, nil
}

// RecordBundlePurchase credits the owner and marks the carrying job as a
// purchase rather than a refinement.
func (c *Coordinator) RecordBundlePurchase(ctx context.Context, g BundleGrant) (Result, error) {
	lockKey := g.JobID
	if lockKey == "" {
		lockKey = "bundle:" + g.IdempotencyKey
	}
	unlock := c.locks.Lock(lockKey)
	defer unlock()

	log := c.logger.With("job_id", g.JobID, "owner", g.OwnerKey)
	if g.IdempotencyKey != "" {
		done, err := c.keys.HasProcessed(ctx, g.IdempotencyKey)
		if err != nil {
			return Result{}, storeError("check idempotency key", err)
		}
		if done {
			log.Info("bundle.duplicate", "key", g.IdempotencyKey)
			return Result{Outcome: OutcomeDuplicate}, nil
		}
	}

	var job *domain.Job
	if g.JobID != "" {
		j, err := c.jobs.Get(ctx, g.JobID)
		switch {
		case err == nil:
			job = j
		case errors.Is(err, domain.ErrJobNotFound):
			log.Warn("bundle.job_missing")
		default:
			return Result{}, storeError("load job", err)
		}
	}
	owner := g.OwnerKey
	if owner == "" && job != nil {
		owner = job.OwnerKey
	}
	if owner == "" {
		return Result{}, domain.InvalidJob("bundle purchase requires an owner")
	}

	n := g.Credits
	if n <= 0 {
		n = c.bundleCredits
	}
	ref := g.Reference
	if ref == "" {
		ref = g.IdempotencyKey
	}
	balance, err := c.credits.Credit(ctx, owner, n, domain.ReasonBundlePurchase, ref)
	if err != nil {
		return Result{}, storeError("credit bundle", err)
	}

	if job != nil && !job.Dispatched() && domain.CanTransition(job.Status, domain.StatusBundlePurchase) {
		if err := job.Transition(domain.StatusBundlePurchase, c.now()); err != nil {
			return Result{}, err
		}
		job.BundleCredits = n
		job.TriggerIdempotencyKey = g.IdempotencyKey
		if err := c.jobs.Put(ctx, job); err != nil {
			log.Error("bundle.job_update_failed", "error", err)
		}
	}

	if g.IdempotencyKey != "" {
		if err := c.keys.MarkProcessed(ctx, g.IdempotencyKey); err != nil {
			log.Error("bundle.mark_failed", "error", err)
		}
	}
	log.Info("bundle.credited", "credits", n, "balance", balance)
	return Result{Outcome: OutcomeCredited, Job: job.Clone(), RemainingCredits: balance}, nil
}

var ErrFreePassUsed = errors.New("free pass already used")

// ClaimFreePass records the one-time pass and starts the job. The claim is
// released again unless this call actually started the job.
func (c *Coordinator) ClaimFreePass(ctx context.Context, claim domain.FreePassClaim, tabSessionID string) (Result, error) {
	claim.Email = strings.ToLower(strings.TrimSpace(claim.Email))
	if strings.TrimSpace(claim.FirstName) == "" || strings.TrimSpace(claim.LastName) == "" || claim.JobID == "" {
		return Result{}, domain.InvalidJob("first name, last name and job id are required")
	}
	if _, err := mail.ParseAddress(claim.Email); err != nil || !strings.Contains(claim.Email, ".") {
		return Result{}, domain.InvalidJob("invalid email address")
	}
	claim.ClaimedAt = c.now()

	ok, err := c.freePasses.Claim(ctx, claim)
	if err != nil {
		return Result{}, storeError("claim free pass", err)
	}
	if !ok {
		return Result{}, domain.NewAppError(domain.CodeConflict, "free pass already used", ErrFreePassUsed)
	}

	res, err := c.StartRefinement(ctx, claim.JobID, Trigger{
		Kind:           TriggerFreePass,
		IdempotencyKey: "free-pass:" + claim.JobID,
		OwnerKey:       claim.OwnerKey,
		TabSessionID:   tabSessionID,
	})
	if err != nil || res.Outcome != OutcomeStarted {
		c.logger.Info("free_pass.released", "job_id", claim.JobID, "outcome", string(res.Outcome))
		if rerr := c.freePasses.Release(ctx, claim.Email); rerr != nil {
			c.logger.Error("free_pass.release_failed", "job_id", claim.JobID, "error", rerr)
		}
	}
	return res, err
}

func validateJobURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.InvalidJob("job URL is required")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.InvalidJob("job URL must be an absolute http(s) URL")
	}
	return nil
}

func storeError(op string, err error) error {
	return domain.NewAppError(domain.CodeStore, op, err)
}
