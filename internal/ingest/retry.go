package ingest

import (
	"context"
	"math/rand"
	"time"

	"github.com/naseerahmed599/enprom-reconciler/pkg/errors"
)

// RetryPolicy controls retries of transient upstream failures.
// Delays grow exponentially from BaseDelay by Factor, are capped at MaxDelay,
// and get +/- JitterFrac of random jitter so concurrent workers do not
// hammer a recovering service in lockstep.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	JitterFrac  float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the standard policy: three attempts starting at
// 500ms, doubling, capped at 8s, with 20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Factor:      2,
		JitterFrac:  0.2,
		MaxDelay:    8 * time.Second,
	}
}

// delay computes the backoff before the given attempt (1-based; attempt 1
// has no delay).
func (p RetryPolicy) delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := float64(p.BaseDelay)
	for i := 2; i < attempt; i++ {
		d *= p.Factor
	}
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	if p.JitterFrac > 0 {
		d += d * p.JitterFrac * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

// retry invokes fn up to MaxAttempts times, backing off between attempts.
// Only transient failures are retried; auth, schema and not-found errors
// surface immediately. Context cancellation aborts the wait.
func retry(ctx context.Context, policy RetryPolicy, fn func() error) (attempts int, err error) {
	attempts = 0
	for attempts < policy.MaxAttempts {
		attempts++
		if wait := policy.delay(attempts); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempts, errors.CancelledError("retry backoff", ctx.Err())
			case <-timer.C:
			}
		}
		err = fn()
		if err == nil {
			return attempts, nil
		}
		if errors.IsCancelled(err) || ctx.Err() != nil {
			return attempts, err
		}
		if !errors.IsTransient(err) {
			return attempts, err
		}
	}
	return attempts, errors.TransientError(errors.CodeRetriesExhausted, "retry", err)
}
