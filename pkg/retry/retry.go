// Package retry runs an operation with a per-attempt timeout and
// exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when an attempt overruns Policy.Timeout.
var ErrTimeout = fmt.Errorf("attempt timed out: %w", context.DeadlineExceeded)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Timeout bounds a single attempt. Zero means no per-attempt bound.
	Timeout time.Duration
	// Sleep waits between attempts. Defaults to a ctx-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each backoff with the attempt that failed.
	OnRetry func(attempt int, delay time.Duration, err error)
}

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p)
}

// Delay returns the backoff before attempt n+1, n starting at 1.
func (p Policy) Delay(n int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs op until it succeeds, returns a permanent error, the attempt
// budget is spent or ctx is done. It returns the value of the successful
// attempt and the number of attempts made.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var zero T
	var lastErr error
	for i := 1; i <= attempts; i++ {
		v, err := attempt(ctx, p.Timeout, op)
		if err == nil {
			return v, i, nil
		}
		lastErr = err
		if IsPermanent(lastErr) {
			return zero, i, lastErr
		}
		if ctx.Err() != nil {
			return zero, i, lastErr
		}
		if i == attempts {
			break
		}
		delay := p.Delay(i)
		if p.OnRetry != nil {
			p.OnRetry(i, delay, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, i, lastErr
		}
	}
	return zero, attempts, lastErr
}

type outcome[T any] struct {
	v   T
	err error
}

// attempt runs op in its own goroutine so an overrunning call is abandoned
// once the deadline passes. The value only leaves through the channel, so
// a late result dies with the abandoned goroutine.
func attempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	actx := ctx
	cancel := func() {}
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		v, err := op(actx)
		done <- outcome[T]{v: v, err: err}
	}()

	var zero T
	select {
	case o := <-done:
		if o.err != nil && timeout > 0 && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, ErrTimeout
		}
		return o.v, o.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, ErrTimeout
	}
}

func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
