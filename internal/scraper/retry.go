package scraper

import (
	"context"
	"time"
)

// RetryPolicy controls the automatic retry loop for transport-level
// failures. Application errors (4xx/5xx bodies received) are never retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy retries up to 3 attempts with exponential backoff
// starting at 4s, capped at 10s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   4 * time.Second,
	MaxDelay:    10 * time.Second,
}

// Delay returns the backoff preceding the given attempt: BaseDelay before
// attempt 2, doubling for each attempt after, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// sleepFunc abstracts backoff sleeps so retry behavior is testable without
// real delays.
type sleepFunc func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
