package usecase

import (
	"context"

	"cv-optimizer/internal/domain"
)

// JobStore persists job records. Put rejects a write whose Version is not
// newer than the stored one with domain.ErrStaleWrite.
type JobStore interface {
	Get(ctx context.Context, id string) (*domain.Job, error)
	Put(ctx context.Context, j *domain.Job) error
}

// CreditStore is the prepaid credit account. Debit is atomic and fails
// closed, returning false when the balance is zero.
type CreditStore interface {
	Balance(ctx context.Context, owner string) (int, error)
	Debit(ctx context.Context, owner, reference string) (bool, error)
	Credit(ctx context.Context, owner string, amount int, reason, reference string) (int, error)
}

type IdempotencyStore interface {
	HasProcessed(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string) error
}

type FreePassStore interface {
	HasUsed(ctx context.Context, owner string) (bool, error)
	// Claim records the pass and returns false if the email or owner
	// already holds one.
	Claim(ctx context.Context, c domain.FreePassClaim) (bool, error)
	Release(ctx context.Context, email string) error
	List(ctx context.Context) ([]domain.FreePassClaim, error)
}

type PageFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

type RefinementEngine interface {
	ExtractKeywords(ctx context.Context, jobText string) (string, error)
	RefineDocument(ctx context.Context, prompt string) (string, error)
}

type DiffRenderer interface {
	Render(original, refined string) (string, error)
}

// RunFunc executes one job. The coordinator hands its RunJob to the
// dispatcher so inline dispatch does not need a loopback call.
type RunFunc func(ctx context.Context, jobID string) error

type Dispatcher interface {
	Dispatch(ctx context.Context, job *domain.Job, run RunFunc) (taskID string, err error)
}

// TaskQueue hands work to an external queue that later calls back the
// task endpoint. The queue owns its own delivery retries.
type TaskQueue interface {
	Enqueue(ctx context.Context, jobID string, payload []byte) (string, error)
}

type TriggerKind string

const (
	TriggerDirect   TriggerKind = "direct"
	TriggerPayment  TriggerKind = "payment"
	TriggerCredit   TriggerKind = "credit"
	TriggerFreePass TriggerKind = "free_pass"
)

type Trigger struct {
	Kind           TriggerKind
	IdempotencyKey string
	OwnerKey       string
	TabSessionID   string
	RedeemCredit   bool
}

type Outcome string

const (
	OutcomeStarted           Outcome = "started"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomeAlreadyInProgress Outcome = "already_in_progress"
	OutcomeAlreadyDone       Outcome = "already_done"
	OutcomeNoCredits         Outcome = "no_credits"
	OutcomeDispatchFailed    Outcome = "dispatch_failed"
	OutcomeCredited          Outcome = "credited"
)

// Result is what a trigger produced. Job is a snapshot and may be nil
// for a duplicate whose job is gone.
type Result struct {
	Outcome          Outcome
	Job              *domain.Job
	TaskID           string
	RemainingCredits int
	Err              error
}

type JobInput struct {
	JobID            string
	JobURL           string
	OriginalDocument string
	RefinementLevel  any
	TabSessionID     string
	OwnerKey         string
	BundleType       string
}

type BundleGrant struct {
	JobID          string
	OwnerKey       string
	IdempotencyKey string
	Credits        int
	Reference      string
}

type ErrorView struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// StatusView is the polling answer. Status is one of the job statuses or
// "wrong_tab". Retryable marks a queued job whose dispatch never went
// through; the client can send the same trigger again.
type StatusView struct {
	JobID           string     `json:"jobId"`
	Status          string     `json:"status"`
	Message         string     `json:"message,omitempty"`
	RefinedDocument string     `json:"refinedDocument,omitempty"`
	Changes         *string    `json:"changes,omitempty"`
	Keywords        string     `json:"keywords,omitempty"`
	BundleCredits   int        `json:"bundleCredits,omitempty"`
	Retryable       bool       `json:"retryable,omitempty"`
	Error           *ErrorView `json:"error,omitempty"`
}

const StatusWrongTab = "wrong_tab"
