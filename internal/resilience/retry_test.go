package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errTransient = errors.New("transient failure")
	errFatal     = errors.New("fatal failure")
	errThrottled = errors.New("throttled")
)

func TestRetrier_SucceedsFirstAttempt(t *testing.T) {
	r := NewRetrier(RetryConfig{Name: "test", BaseDelay: time.Millisecond})
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetrier_RetriesUntilSuccess(t *testing.T) {
	r := NewRetrier(RetryConfig{Name: "test", MaxAttempts: 3, BaseDelay: time.Millisecond})
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetrier_ExhaustsBudget(t *testing.T) {
	r := NewRetrier(RetryConfig{Name: "test", MaxAttempts: 3, BaseDelay: time.Millisecond})
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("err = %v, want wrapped errTransient", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetrier_NonRetryableStopsImmediately(t *testing.T) {
	r := NewRetrier(RetryConfig{
		Name:        "test",
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, errFatal) },
	})
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errFatal
	})
	if !errors.Is(err, errFatal) {
		t.Fatalf("err = %v, want errFatal", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (fatal error must not retry)", calls)
	}
}

func TestRetrier_DelayDoublesPerAttempt(t *testing.T) {
	r := NewRetrier(RetryConfig{Name: "test", BaseDelay: 2 * time.Second})

	if got := r.Delay(1, errTransient); got != 2*time.Second {
		t.Errorf("delay after attempt 1 = %v, want 2s", got)
	}
	if got := r.Delay(2, errTransient); got != 4*time.Second {
		t.Errorf("delay after attempt 2 = %v, want 4s", got)
	}
	if got := r.Delay(3, errTransient); got != 8*time.Second {
		t.Errorf("delay after attempt 3 = %v, want 8s", got)
	}
}

func TestRetrier_OverloadEnforcesMinimumDelay(t *testing.T) {
	r := NewRetrier(RetryConfig{
		Name:          "test",
		BaseDelay:     2 * time.Second,
		OverloadDelay: 30 * time.Second,
		IsOverload:    func(err error) bool { return errors.Is(err, errThrottled) },
	})

	if got := r.Delay(1, errThrottled); got != 30*time.Second {
		t.Errorf("overload delay = %v, want 30s minimum", got)
	}
	// Exponential term wins once it exceeds the minimum.
	if got := r.Delay(5, errThrottled); got != 32*time.Second {
		t.Errorf("overload delay after attempt 5 = %v, want 32s", got)
	}
	// Non-overload errors keep the short exponential delay.
	if got := r.Delay(1, errTransient); got != 2*time.Second {
		t.Errorf("transient delay = %v, want 2s", got)
	}
}

func TestRetrier_ContextCancelDuringBackoff(t *testing.T) {
	r := NewRetrier(RetryConfig{Name: "test", MaxAttempts: 3, BaseDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := r.Do(ctx, func(context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
