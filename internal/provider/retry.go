package provider

import (
	"context"
	"time"
)

// MaxRetries is how many times a provider retries a failed send after the
// first attempt.
const MaxRetries = 3

// BaseRetryDelay is the first step of the exponential backoff.
const BaseRetryDelay = time.Second

// Backoff returns base doubled once per attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// Wait blocks for d or until ctx is done, returning ctx.Err() in that case.
func Wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
