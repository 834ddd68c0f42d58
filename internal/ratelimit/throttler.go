package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Throttler bounds the outbound request rate to at most quota requests per
// rolling period. Acquire never rejects, it only delays. A single instance is
// shared by every caller hitting the same upstream.
type Throttler struct {
	mu     sync.Mutex
	quota  int
	period time.Duration
	window []time.Time // request timestamps within the trailing period, oldest first

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewThrottler creates a Throttler allowing quota requests per period.
func NewThrottler(quota int, period time.Duration) *Throttler {
	return &Throttler{
		quota:  quota,
		period: period,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Acquire blocks until one more request may be issued without exceeding the
// quota over the trailing period, then records it. It returns early only if
// the context is cancelled.
func (t *Throttler) Acquire(ctx context.Context) error {
	for {
		t.mu.Lock()
		now := t.now()
		t.prune(now)
		if len(t.window) < t.quota {
			t.window = append(t.window, now)
			t.mu.Unlock()
			return nil
		}
		// Window is full: wait until the oldest entry exits, then re-check.
		// Other goroutines may run (and take the slot) in the meantime.
		wait := t.window[0].Add(t.period).Sub(now)
		t.mu.Unlock()

		if err := t.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// InFlight returns the number of requests recorded in the current window.
func (t *Throttler) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(t.now())
	return len(t.window)
}

func (t *Throttler) prune(now time.Time) {
	cutoff := now.Add(-t.period)
	i := 0
	for i < len(t.window) && !t.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		t.window = append(t.window[:0], t.window[i:]...)
	}
}
