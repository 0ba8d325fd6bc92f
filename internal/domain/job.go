package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type JobStatus string

const (
	StatusPending        JobStatus = "pending"
	StatusQueued         JobStatus = "queued"
	StatusProcessing     JobStatus = "processing"
	StatusCompleted      JobStatus = "completed"
	StatusFailed         JobStatus = "failed"
	StatusBundlePurchase JobStatus = "bundle_purchase"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBundlePurchase:
		return true
	}
	return false
}

func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusBundlePurchase:
		return true
	}
	return false
}

// CanTransition encodes the forward-only lifecycle. queued -> queued is
// allowed so a job whose dispatch failed can be dispatched again; callers
// check Dispatched before taking it.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusQueued || to == StatusBundlePurchase
	case StatusQueued:
		return to == StatusQueued || to == StatusProcessing || to == StatusBundlePurchase
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

const (
	BundleSingle = "single"
	BundleMulti  = "bundle"
)

// JobError records which stage failed and why.
type JobError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

type Job struct {
	ID                    string     `json:"jobId"`
	Status                JobStatus  `json:"status"`
	JobURL                string     `json:"jobUrl"`
	OriginalDocument      string     `json:"originalDocument"`
	RefinementLevel       int        `json:"refinementLevel"`
	TabSessionID          string     `json:"tabSessionId,omitempty"`
	OwnerKey              string     `json:"ownerKey,omitempty"`
	BundleType            string     `json:"bundleType,omitempty"`
	RefinedDocument       *string    `json:"refinedDocument,omitempty"`
	ChangesView           *string    `json:"changesView,omitempty"`
	ExtractedKeywords     string     `json:"extractedKeywords,omitempty"`
	BundleCredits         int        `json:"bundleCredits,omitempty"`
	Error                 *JobError  `json:"error,omitempty"`
	TriggerIdempotencyKey string     `json:"triggerIdempotencyKey,omitempty"`
	TaskID                string     `json:"taskId,omitempty"`
	Version               int64      `json:"version"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
	QueuedAt              *time.Time `json:"queuedAt,omitempty"`
	DispatchedAt          *time.Time `json:"dispatchedAt,omitempty"`
	ProcessingStartedAt   *time.Time `json:"processingStartedAt,omitempty"`
	CompletedAt           *time.Time `json:"completedAt,omitempty"`
	FailedAt              *time.Time `json:"failedAt,omitempty"`
}

// Clone returns a deep copy so callers can mutate it without touching a
// cached instance.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.RefinedDocument = cloneString(j.RefinedDocument)
	c.ChangesView = cloneString(j.ChangesView)
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	c.QueuedAt = cloneTime(j.QueuedAt)
	c.DispatchedAt = cloneTime(j.DispatchedAt)
	c.ProcessingStartedAt = cloneTime(j.ProcessingStartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.FailedAt = cloneTime(j.FailedAt)
	return &c
}

// Transition moves the job to next and stamps the matching timestamp.
// It enforces the forward-only graph and bumps Version.
func (j *Job) Transition(next JobStatus, now time.Time) error {
	if !CanTransition(j.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, next)
	}
	t := now
	switch next {
	case StatusQueued:
		j.QueuedAt = &t
		j.DispatchedAt = nil
		j.TaskID = ""
	case StatusProcessing:
		j.ProcessingStartedAt = &t
	case StatusCompleted:
		j.CompletedAt = &t
	case StatusFailed:
		j.FailedAt = &t
	}
	j.Status = next
	j.UpdatedAt = now
	j.Version++
	return nil
}

// MarkDispatched records that a dispatcher accepted the queued job.
func (j *Job) MarkDispatched(taskID string, now time.Time) error {
	if j.Status != StatusQueued {
		return fmt.Errorf("%w: dispatch recorded on %s job", ErrInvalidTransition, j.Status)
	}
	t := now
	j.DispatchedAt = &t
	j.TaskID = taskID
	j.UpdatedAt = now
	j.Version++
	return nil
}

// Dispatched reports whether a queued job already has an accepted dispatch.
func (j *Job) Dispatched() bool {
	return j.Status == StatusQueued && j.DispatchedAt != nil
}

// Complete stores the refinement result. refinedDocument only exists on
// completed jobs.
func (j *Job) Complete(refined, keywords string, changes *string, now time.Time) error {
	if err := j.Transition(StatusCompleted, now); err != nil {
		return err
	}
	j.RefinedDocument = &refined
	j.ExtractedKeywords = keywords
	j.ChangesView = changes
	j.Error = nil
	return nil
}

func (j *Job) Fail(stage, message string, now time.Time) error {
	if err := j.Transition(StatusFailed, now); err != nil {
		return err
	}
	j.Error = &JobError{Stage: stage, Message: message}
	j.RefinedDocument = nil
	return nil
}

// AttachTabSession records a tab session when none is set. It never
// replaces an existing one and reports whether the value was accepted.
func (j *Job) AttachTabSession(id string) bool {
	if id == "" {
		return true
	}
	if j.TabSessionID == "" {
		j.TabSessionID = id
		return true
	}
	return j.TabSessionID == id
}

// CheckConsistency verifies the result/status coupling.
func (j *Job) CheckConsistency() error {
	if !j.Status.Valid() {
		return fmt.Errorf("unknown status %q", j.Status)
	}
	if (j.Status == StatusCompleted) != (j.RefinedDocument != nil) {
		return fmt.Errorf("refined document presence does not match status %s", j.Status)
	}
	if (j.Status == StatusFailed) != (j.Error != nil) {
		return fmt.Errorf("error presence does not match status %s", j.Status)
	}
	return nil
}

const (
	MinRefinementLevel     = 1
	MaxRefinementLevel     = 10
	DefaultRefinementLevel = 5
)

// ParseRefinementLevel coerces a loosely typed client value into [1,10].
// Anything missing, non-numeric or out of range becomes the default.
func ParseRefinementLevel(v any) int {
	var n int
	switch x := v.(type) {
	case int:
		n = x
	case int64:
		n = int(x)
	case float64:
		if x != math.Trunc(x) {
			return DefaultRefinementLevel
		}
		n = int(x)
	case string:
		p, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return DefaultRefinementLevel
		}
		n = p
	default:
		return DefaultRefinementLevel
	}
	if n < MinRefinementLevel || n > MaxRefinementLevel {
		return DefaultRefinementLevel
	}
	return n
}

type InstructionTier string

const (
	TierMinimal    InstructionTier = "minimal"
	TierModerate   InstructionTier = "moderate"
	TierAggressive InstructionTier = "aggressive"
)

func TierForLevel(level int) InstructionTier {
	switch {
	case level <= 3:
		return TierMinimal
	case level <= 7:
		return TierModerate
	default:
		return TierAggressive
	}
}

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidJobID reports whether a client-supplied id is safe to use as a
// storage key.
func ValidJobID(id string) bool {
	return jobIDPattern.MatchString(id)
}

// NewJobID returns 16 random bytes as hex.
func NewJobID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
