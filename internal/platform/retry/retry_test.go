package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/prehensile/vidille/internal/platform/retry"
)

var fastPolicy = retry.Policy{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
}

func alwaysRetry(error) retry.Action { return retry.Retry }
func alwaysStop(error) retry.Action  { return retry.Stop }

func TestDo_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	val, err := retry.Do(context.Background(), fastPolicy, alwaysRetry, func(context.Context) (string, error) {
		calls++
		return "connected", nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if val != "connected" || calls != 1 {
		t.Fatalf("expected one call returning connected, got %d calls, %q", calls, val)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	var backoffs []time.Duration
	p := fastPolicy
	p.OnRetry = func(_ int, _ error, backoff time.Duration) { backoffs = append(backoffs, backoff) }

	err := retry.DoVoid(context.Background(), p, alwaysRetry, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(backoffs) != 2 || backoffs[1] != 2*backoffs[0] {
		t.Fatalf("expected doubling backoff, got %v", backoffs)
	}
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	permanent := errors.New("bad credentials")
	calls := 0
	err := retry.DoVoid(context.Background(), fastPolicy, alwaysStop, func(context.Context) error {
		calls++
		return permanent
	})

	var permErr *retry.PermanentError
	if !errors.As(err, &permErr) {
		t.Fatalf("expected PermanentError, got %T: %v", err, err)
	}
	if !errors.Is(err, permanent) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_ExhaustedRetries(t *testing.T) {
	calls := 0
	err := retry.DoVoid(context.Background(), fastPolicy, alwaysRetry, func(context.Context) error {
		calls++
		return errors.New("timeout")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_BackoffCappedOnFakeClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := retry.Policy{
		MaxAttempts:    4,
		InitialBackoff: time.Second,
		MaxBackoff:     1500 * time.Millisecond,
		Clock:          clock,
	}
	var backoffs []time.Duration
	p.OnRetry = func(_ int, _ error, backoff time.Duration) { backoffs = append(backoffs, backoff) }

	done := make(chan error, 1)
	go func() {
		done <- retry.DoVoid(context.Background(), p, alwaysRetry, func(context.Context) error {
			return errors.New("unreachable")
		})
	}()

	for i := 0; i < 3; i++ {
		if err := clock.BlockUntilContext(context.Background(), 1); err != nil {
			t.Fatal(err)
		}
		clock.Advance(2 * time.Second)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error")
		}
	case <-time.After(time.Second):
		t.Fatal("retry did not finish")
	}
	want := []time.Duration{time.Second, 1500 * time.Millisecond, 1500 * time.Millisecond}
	for i := range want {
		if backoffs[i] != want[i] {
			t.Fatalf("backoff %d: want %v, got %v", i, want[i], backoffs[i])
		}
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := retry.Policy{MaxAttempts: 3, InitialBackoff: time.Hour, Clock: clockwork.NewFakeClock()}
	p.OnRetry = func(int, error, time.Duration) { cancel() }

	err := retry.DoVoid(ctx, p, alwaysRetry, func(context.Context) error {
		return errors.New("unreachable")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTransient(t *testing.T) {
	if retry.Transient(errors.New("dial tcp: refused")) != retry.Retry {
		t.Fatal("plain errors should be retried")
	}
	if retry.Transient(context.Canceled) != retry.Stop {
		t.Fatal("cancellation should stop")
	}
	if retry.Transient(&retry.PermanentError{Err: errors.New("auth")}) != retry.Stop {
		t.Fatal("permanent errors should stop")
	}
}

func TestDo_InvalidPolicy(t *testing.T) {
	err := retry.DoVoid(context.Background(), retry.Policy{}, alwaysRetry, func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for zero MaxAttempts")
	}
}
