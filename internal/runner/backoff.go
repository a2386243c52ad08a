package runner

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// maxBackoff only guards against overflow for very large attempt counts.
const maxBackoff = 24 * time.Hour

// newBackOff returns a jitter-free exponential policy whose n-th interval
// (0-indexed) is 2^n * base.
func newBackOff(base time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = maxBackoff
	b.Reset()
	return b
}

// BackoffDelay returns the wait before retrying after the given 0-indexed
// attempt.
func BackoffDelay(attempt int, base time.Duration) time.Duration {
	b := newBackOff(base)
	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
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
