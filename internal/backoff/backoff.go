// Package backoff provides bounded exponential backoff with jitter for
// retrying transient provider failures.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrAttemptsExhausted is returned when every retry attempt has failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Policy defines the parameters for exponential backoff.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64 // randomization factor in [0,1]
}

// DefaultPolicy returns the backoff used for provider retries:
// 250ms initial, 10s cap, factor 2, 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 250 * time.Millisecond,
		Max:     10 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay computes the sleep before retrying attempt n (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	base += base * p.Jitter * rand.Float64() // #nosec G404 -- jitter needs no crypto randomness
	if max := float64(p.Max); base > max {
		base = max
	}
	return time.Duration(base)
}

// Retry runs op up to maxAttempts times, sleeping per the policy between
// failures. A non-retryable error (per retryable) aborts immediately, as does
// context cancellation. Deadline-bounded callers should set a deadline on ctx.
func Retry(ctx context.Context, policy Policy, maxAttempts int, retryable func(error) bool, op func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		if err := sleep(ctx, policy.Delay(attempt)); err != nil {
			return err
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return ErrAttemptsExhausted
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
