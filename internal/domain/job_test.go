package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseRefinementLevel(t *testing.T) {
	cases := []struct {
		in   any
		want int
	}{
		{nil, 5},
		{"3", 3},
		{" 8 ", 8},
		{"abc", 5},
		{37, 5},
		{0, 5},
		{10, 10},
		{float64(1), 1},
		{float64(2.5), 5},
		{true, 5},
	}
	for _, c := range cases {
		if got := ParseRefinementLevel(c.in); got != c.want {
			t.Fatalf("ParseRefinementLevel(%#v): got %d want %d", c.in, got, c.want)
		}
	}
}

func TestTierForLevel(t *testing.T) {
	if TierForLevel(3) != TierMinimal || TierForLevel(4) != TierModerate || TierForLevel(7) != TierModerate || TierForLevel(8) != TierAggressive {
		t.Fatalf("unexpected tier boundaries")
	}
}

func TestTerminalStatesNeverMoveBack(t *testing.T) {
	all := []JobStatus{StatusPending, StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusBundlePurchase}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			if CanTransition(from, to) {
				t.Fatalf("terminal %s must not transition to %s", from, to)
			}
		}
	}
	if CanTransition(StatusPending, StatusCompleted) || CanTransition(StatusPending, StatusFailed) {
		t.Fatalf("pending must pass through processing before a result")
	}
	if CanTransition(StatusQueued, StatusCompleted) {
		t.Fatalf("queued must not skip processing")
	}
}

func TestTransitionStampsAndVersions(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j := &Job{ID: "j1", Status: StatusPending}
	if err := j.Transition(StatusQueued, now); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if j.QueuedAt == nil || !j.QueuedAt.Equal(now) || j.Version != 1 {
		t.Fatalf("queued stamp/version not set: %+v", j)
	}
	if err := j.Transition(StatusCompleted, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	_ = j.Transition(StatusProcessing, now)
	if err := j.Complete("refined", "go, sql", nil, now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := j.CheckConsistency(); err != nil {
		t.Fatalf("consistency: %v", err)
	}
	if err := j.Fail("refine_document", "boom", now); err == nil {
		t.Fatalf("completed job must not fail afterwards")
	}
}

func TestFailClearsResult(t *testing.T) {
	now := time.Now()
	j := &Job{Status: StatusProcessing}
	if err := j.Fail("extract_keywords", "timeout", now); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if j.RefinedDocument != nil || j.Error == nil || j.Error.Stage != "extract_keywords" {
		t.Fatalf("unexpected failed job: %+v", j)
	}
	if err := j.CheckConsistency(); err != nil {
		t.Fatalf("consistency: %v", err)
	}
}

func TestAttachTabSessionNeverOverwrites(t *testing.T) {
	j := &Job{}
	if !j.AttachTabSession("A") || j.TabSessionID != "A" {
		t.Fatalf("first session should be recorded")
	}
	if j.AttachTabSession("B") {
		t.Fatalf("different session must be rejected")
	}
	if j.TabSessionID != "A" {
		t.Fatalf("session overwritten: %s", j.TabSessionID)
	}
}

func TestCloneIsDeep(t *testing.T) {
	doc := "x"
	j := &Job{RefinedDocument: &doc, Error: &JobError{Stage: "s"}}
	c := j.Clone()
	*c.RefinedDocument = "y"
	c.Error.Stage = "t"
	if *j.RefinedDocument != "x" || j.Error.Stage != "s" {
		t.Fatalf("clone shares pointers")
	}
}

func TestNewJobID(t *testing.T) {
	a, b := NewJobID(), NewJobID()
	if len(a) != 32 || a == b {
		t.Fatalf("unexpected ids %q %q", a, b)
	}
}

func TestMarkDispatched(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j := &Job{ID: "j1", Status: StatusPending}
	if err := j.MarkDispatched("t1", now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending job cannot be dispatched, got %v", err)
	}
	_ = j.Transition(StatusQueued, now)
	if j.Dispatched() {
		t.Fatalf("fresh queued job is not dispatched yet")
	}
	if err := j.MarkDispatched("t1", now); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !j.Dispatched() || j.TaskID != "t1" || j.Version != 2 {
		t.Fatalf("dispatch not recorded: %+v", j)
	}
	_ = j.Transition(StatusProcessing, now)
	if j.Dispatched() {
		t.Fatalf("only queued jobs report a pending dispatch")
	}
}
