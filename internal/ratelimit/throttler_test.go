package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// TestThrottler_UnderQuota verifies that acquires below the quota do not block.
func TestThrottler_UnderQuota(t *testing.T) {
	th := NewThrottler(5, time.Second)

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := th.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("expected no blocking under quota, took %v", elapsed)
	}
}

// TestThrottler_ThirdAcquireWaits verifies that with quota 2 per period the
// third acquire completes only after the first entry has left the window.
func TestThrottler_ThirdAcquireWaits(t *testing.T) {
	period := 300 * time.Millisecond
	th := NewThrottler(2, period)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := th.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < period {
		t.Errorf("third acquire returned after %v, want >= %v", elapsed, period)
	}
}

// TestThrottler_WindowInvariant hammers the throttler from many goroutines
// and verifies the recorded window never exceeds the quota.
func TestThrottler_WindowInvariant(t *testing.T) {
	quota := 3
	th := NewThrottler(quota, 100*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := th.Acquire(context.Background()); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if n := th.InFlight(); n > quota {
				t.Errorf("window holds %d entries, quota is %d", n, quota)
			}
		}()
	}
	wg.Wait()
}

// TestThrottler_ContextCancelled verifies that a blocked acquire returns when
// its context is cancelled instead of waiting out the window.
func TestThrottler_ContextCancelled(t *testing.T) {
	th := NewThrottler(1, 10*time.Second)
	if err := th.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := th.Acquire(ctx)
	if err == nil {
		t.Fatal("expected context error from blocked acquire")
	}
	if err != context.DeadlineExceeded {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
}

// TestThrottler_PruneExpired verifies old entries fall out of the window.
func TestThrottler_PruneExpired(t *testing.T) {
	th := NewThrottler(2, 50*time.Millisecond)
	_ = th.Acquire(context.Background())
	_ = th.Acquire(context.Background())

	time.Sleep(80 * time.Millisecond)
	if n := th.InFlight(); n != 0 {
		t.Errorf("expected empty window after period elapsed, got %d", n)
	}
}
