package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayGrowsAndCaps(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2}

	if d := p.Delay(1); d != 100*time.Millisecond {
		t.Errorf("Delay(1) = %v, want 100ms", d)
	}
	if d := p.Delay(2); d != 200*time.Millisecond {
		t.Errorf("Delay(2) = %v, want 200ms", d)
	}
	if d := p.Delay(10); d != time.Second {
		t.Errorf("Delay(10) = %v, want cap 1s", d)
	}
}

func TestDelayJitterBounded(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.5}
	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		if d < 100*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("Delay(1) = %v, want within [100ms, 150ms]", d)
		}
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	transient := errors.New("transient")
	attempts := 0
	err := Retry(context.Background(), Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1}, 5,
		func(error) bool { return true },
		func() error {
			attempts++
			if attempts < 3 {
				return transient
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryNonRetryableAbortsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	attempts := 0
	err := Retry(context.Background(), DefaultPolicy(), 5,
		func(err error) bool { return !errors.Is(err, fatal) },
		func() error {
			attempts++
			return fatal
		})
	if !errors.Is(err, fatal) {
		t.Fatalf("Retry() error = %v, want fatal", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	transient := errors.New("still broken")
	attempts := 0
	err := Retry(context.Background(), Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1}, 3,
		func(error) bool { return true },
		func() error {
			attempts++
			return transient
		})
	if !errors.Is(err, transient) {
		t.Fatalf("Retry() error = %v, want last error", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryObservesContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Retry(ctx, Policy{Initial: time.Minute, Max: time.Minute, Factor: 1}, 5,
		func(error) bool { return true },
		func() error {
			attempts++
			cancel()
			return errors.New("transient")
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry() error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}
