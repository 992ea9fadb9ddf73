// Package backoff provides exponential backoff with jitter for retrying
// provider requests.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Max caps any single delay.
	Max time.Duration
	// Factor is the exponential factor applied to each attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) added on top of the base delay.
	Jitter float64
}

// DefaultPolicy is used for LLM requests: 1s, 2s, 4s ... capped at 30s with 20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial: time.Second,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// Delay calculates the delay after the given attempt. Attempt numbers start at 1.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// delayWithRand computes min(max, base + base*jitter*r) where
// base = initial * factor^(attempt-1).
func (p Policy) delayWithRand(attempt int, r float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*p.Jitter*r
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	return time.Duration(math.Round(total))
}

// RetryAfterer is implemented by errors that carry a server supplied delay hint.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// Retry runs fn up to maxAttempts times. It stops early when fn succeeds, when
// retryable reports false for the returned error, or when ctx is done. The
// last error from fn is returned unchanged so callers can inspect it. A
// RetryAfter hint larger than the computed delay takes precedence.
func Retry[T any](
	ctx context.Context,
	policy Policy,
	maxAttempts int,
	retryable func(error) bool,
	fn func(attempt int) (T, error),
) (T, int, error) {
	var zero T
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, attempt - 1, lastErr
			}
			return zero, attempt - 1, err
		}

		value, err := fn(attempt)
		if err == nil {
			return value, attempt, nil
		}
		lastErr = err
		if attempt == maxAttempts || (retryable != nil && !retryable(err)) {
			return zero, attempt, err
		}

		delay := policy.Delay(attempt)
		var hinted RetryAfterer
		if errors.As(err, &hinted) && hinted.RetryAfter() > delay {
			delay = hinted.RetryAfter()
			if policy.Max > 0 && delay > policy.Max {
				delay = policy.Max
			}
		}
		if err := Sleep(ctx, delay); err != nil {
			return zero, attempt, lastErr
		}
	}
	return zero, maxAttempts, lastErr
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
