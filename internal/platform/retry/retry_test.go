package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func noSleep(context.Context, time.Duration) error { return nil }

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 4}, noSleep,
		func(err error) bool { return errors.Is(err, errTransient) },
		func(context.Context, int) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5}, noSleep,
		func(err error) bool { return errors.Is(err, errTransient) },
		func(context.Context, int) error {
			calls++
			return permanent
		})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestDoReportsExhaustion(t *testing.T) {
	var pauses []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}
	err := Do(context.Background(), Policy{MaxAttempts: 3, Initial: time.Millisecond, Max: 4 * time.Millisecond}, sleep,
		func(error) bool { return true },
		func(context.Context, int) error { return errTransient })
	if !errors.Is(err, ErrAttemptsExhausted) || !errors.Is(err, errTransient) {
		t.Fatalf("expected exhausted wrapping transient, got %v", err)
	}
	if len(pauses) != 2 {
		t.Fatalf("expected 2 pauses, got %d", len(pauses))
	}
	for _, pause := range pauses {
		if pause > 4*time.Millisecond {
			t.Fatalf("pause %s exceeds max", pause)
		}
	}
}

func TestDoHonoursCancelledSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 3}, func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
		func(error) bool { return true },
		func(context.Context, int) error {
			calls++
			return errTransient
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}
