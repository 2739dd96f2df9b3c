package pms

import (
	"context"
	"time"

	"pmsync/internal/domain"
)

// RetryPolicy is the delay schedule for WithRetry, kept separate from call
// sites so jitter or caps can be added in one place.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Delay returns the wait before retry attempt i (0-based), doubling each time
// and capped at MaxDelay when set.
func (p RetryPolicy) Delay(i int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	if i > 30 {
		i = 30
	}
	d := base << uint(i)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// WithRetry calls fn, retrying on any error with the policy's exponentially
// growing delay, up to maxRetries additional attempts. Once exhausted the
// final error is returned wrapped in RetryExhaustedError.
func WithRetry(ctx context.Context, maxRetries int, policy RetryPolicy, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt >= maxRetries {
			break
		}
		if !sleepCtx(ctx, policy.Delay(attempt)) {
			return ctx.Err()
		}
	}
	return &domain.RetryExhaustedError{Attempts: maxRetries + 1, Err: lastErr}
}
