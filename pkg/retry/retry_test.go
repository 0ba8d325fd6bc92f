package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func recordingSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestDoSucceedsOnThirdAttempt(t *testing.T) {
	var delays []time.Duration
	calls := 0
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: recordingSleep(&delays)}
	v, n, err := Do(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil || n != 3 || v != "ok" {
		t.Fatalf("got v=%q attempts=%d err=%v", v, n, err)
	}
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Fatalf("unexpected delays %v", delays)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	var delays []time.Duration
	calls := 0
	want := errors.New("down")
	p := Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, Sleep: recordingSleep(&delays)}
	_, n, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, want
	})
	if !errors.Is(err, want) || n != 3 || calls != 3 {
		t.Fatalf("got attempts=%d calls=%d err=%v", n, calls, err)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, Sleep: recordingSleep(new([]time.Duration))}
	_, n, err := Do(context.Background(), p, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, Permanent(errors.New("bad request"))
	})
	if n != 1 || calls != 1 || !IsPermanent(err) {
		t.Fatalf("got attempts=%d calls=%d err=%v", n, calls, err)
	}
}

func TestDoAbandonsSlowAttempt(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := Policy{MaxAttempts: 1, Timeout: 20 * time.Millisecond}
	start := time.Now()
	_, _, err := Do(context.Background(), p, func(context.Context) (string, error) {
		<-release
		return "late", nil
	})
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("slow attempt was not abandoned")
	}
}

// The first attempt ignores its context and returns only after the second
// attempt has started. Its value must not be the one Do hands back.
func TestDoDropsLateResult(t *testing.T) {
	release := make(chan struct{})
	lateReturned := make(chan struct{})
	var calls atomic.Int32
	p := Policy{MaxAttempts: 2, Timeout: 20 * time.Millisecond, Sleep: recordingSleep(new([]time.Duration))}
	v, n, err := Do(context.Background(), p, func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			<-release
			defer close(lateReturned)
			return "stale", nil
		}
		close(release)
		<-lateReturned
		return "fresh", nil
	})
	if err != nil || n != 2 || v != "fresh" {
		t.Fatalf("got v=%q attempts=%d err=%v", v, n, err)
	}
}

func TestDelayCapped(t *testing.T) {
	p := Policy{BaseDelay: time.Minute, MaxDelay: 5 * time.Minute}
	got := []time.Duration{p.Delay(1), p.Delay(2), p.Delay(3), p.Delay(4)}
	want := []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute, 5 * time.Minute}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delay %d: got %v want %v", i+1, got[i], want[i])
		}
	}
}
