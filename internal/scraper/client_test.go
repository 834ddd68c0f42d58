package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/user/scraper-service/internal/breaker"
	"github.com/user/scraper-service/internal/cache"
	"github.com/user/scraper-service/internal/monitoring"
	"github.com/user/scraper-service/internal/ratelimit"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func testMetrics() *monitoring.Metrics {
	return monitoring.NewMetricsWith(prometheus.NewRegistry())
}

// noSleep records requested sleeps instead of performing them.
type noSleep struct {
	mu     sync.Mutex
	slept  []time.Duration
	cancel bool
}

func (n *noSleep) sleep(ctx context.Context, d time.Duration) error {
	n.mu.Lock()
	n.slept = append(n.slept, d)
	n.mu.Unlock()
	if n.cancel {
		return context.Canceled
	}
	return nil
}

func newTestClient(t *testing.T, baseURL string) (*Client, *noSleep) {
	t.Helper()
	ns := &noSleep{}
	c := NewClient(ClientConfig{
		BaseURL:   baseURL,
		Token:     "test-token",
		Throttler: ratelimit.NewThrottler(100, time.Second),
		Breaker:   breaker.New(5, time.Minute),
		Cache:     cache.New(cache.NewMemoryStore(), testLogger()),
		Retry:     RetryPolicy{MaxAttempts: 3, BaseDelay: 4 * time.Second, MaxDelay: 10 * time.Second},
		Metrics:   testMetrics(),
		Logger:    testLogger(),
	})
	c.sleep = ns.sleep
	return c, ns
}

func TestClient_SuccessDecodesAndCaches(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"data":{"id":"m1"}}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	opts := RequestOptions{CacheKey: "match:m1:summary", CacheTTL: time.Minute, Kind: "summary"}

	out := c.Get(context.Background(), "/matches/m1", opts)
	if !out.Success || out.StatusCode != 200 {
		t.Fatalf("outcome = %+v, want success 200", out)
	}
	if !strings.Contains(string(out.Payload), "m1") {
		t.Fatalf("payload = %s", out.Payload)
	}

	// Second call must be served from cache without network I/O.
	out2 := c.Get(context.Background(), "/matches/m1", opts)
	if !out2.FromCache {
		t.Fatal("second call did not hit the cache")
	}
	if hits != 1 {
		t.Fatalf("server hit %d times, want 1", hits)
	}
}

// TestClient_TransportErrorRetried verifies transport failures are retried
// with the policy's backoff and eventually succeed.
func TestClient_TransportErrorRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			// Drop the connection: a transport-level failure for the client.
			hj, _ := w.(http.Hijacker)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c, ns := newTestClient(t, srv.URL)
	out := c.Get(context.Background(), "/matches/live", RequestOptions{Kind: "discovery"})

	if !out.Success {
		t.Fatalf("outcome = %+v, want success after retries", out)
	}
	if attempts != 3 {
		t.Fatalf("server saw %d attempts, want 3", attempts)
	}
	// Backoff before attempts 2 and 3: base, then doubled.
	if len(ns.slept) != 2 || ns.slept[0] != 4*time.Second || ns.slept[1] != 8*time.Second {
		t.Fatalf("backoff sleeps = %v, want [4s 8s]", ns.slept)
	}
}

// TestClient_ApplicationErrorNotRetried verifies 4xx responses fail
// immediately without a retry.
func TestClient_ApplicationErrorNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "no such match", http.StatusNotFound)
	}))
	defer srv.Close()

	c, ns := newTestClient(t, srv.URL)
	out := c.Get(context.Background(), "/matches/gone", RequestOptions{Kind: "summary"})

	if out.Success || out.StatusCode != 404 {
		t.Fatalf("outcome = %+v, want 404 failure", out)
	}
	if attempts != 1 {
		t.Fatalf("server saw %d attempts, want 1", attempts)
	}
	if len(ns.slept) != 0 {
		t.Fatalf("unexpected backoff sleeps: %v", ns.slept)
	}
}

// TestClient_RateLimitedHonorsRetryAfter verifies a 429 sleeps for the
// Retry-After duration and reports a rate-limited failure without retrying.
func TestClient_RateLimitedHonorsRetryAfter(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, ns := newTestClient(t, srv.URL)
	out := c.Get(context.Background(), "/matches/live", RequestOptions{Kind: "discovery"})

	if out.Success || !out.RateLimited {
		t.Fatalf("outcome = %+v, want rate-limited failure", out)
	}
	if attempts != 1 {
		t.Fatalf("server saw %d attempts, want 1: a 429 must not self-retry", attempts)
	}
	if len(ns.slept) != 1 || ns.slept[0] != 30*time.Second {
		t.Fatalf("sleeps = %v, want [30s]", ns.slept)
	}
}

func TestClient_RateLimitedDefaultWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, ns := newTestClient(t, srv.URL)
	c.Get(context.Background(), "/matches/live", RequestOptions{Kind: "discovery"})

	if len(ns.slept) != 1 || ns.slept[0] != 60*time.Second {
		t.Fatalf("sleeps = %v, want the 60s default", ns.slept)
	}
}

// TestClient_CircuitOpenFailsFast verifies an open breaker short-circuits
// the call before any network I/O.
func TestClient_CircuitOpenFailsFast(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	// Trip the breaker: threshold is 5.
	for i := 0; i < 5; i++ {
		c.Get(context.Background(), "/matches/m1", RequestOptions{Kind: "summary"})
	}
	hitsBefore := hits

	out := c.Get(context.Background(), "/matches/m1", RequestOptions{Kind: "summary"})
	if out.Success {
		t.Fatal("expected failure from open breaker")
	}
	if !strings.Contains(out.Err, "circuit breaker") {
		t.Fatalf("err = %q, want circuit breaker rejection", out.Err)
	}
	if hits != hitsBefore {
		t.Fatal("open breaker still issued a network call")
	}
}

func TestClient_ServerErrorTruncatesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	out := c.Get(context.Background(), "/matches/m1", RequestOptions{Kind: "summary"})

	if out.Success || out.StatusCode != 502 {
		t.Fatalf("outcome = %+v, want 502 failure", out)
	}
	if len(out.Err) > 300 {
		t.Fatalf("error message not truncated: %d chars", len(out.Err))
	}
}

func TestClient_StatsTrackOutcomes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "bad") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	c.Get(context.Background(), "/good", RequestOptions{Kind: "summary"})
	c.Get(context.Background(), "/good", RequestOptions{Kind: "summary"})
	c.Get(context.Background(), "/bad", RequestOptions{Kind: "summary"})

	var good, bad *EndpointStats
	for _, s := range c.Stats() {
		s := s
		if strings.HasSuffix(s.Endpoint, "good") {
			good = &s
		} else if strings.HasSuffix(s.Endpoint, "bad") {
			bad = &s
		}
	}
	if good == nil || good.Total != 2 || good.SuccessRate != 1.0 {
		t.Fatalf("good stats = %+v", good)
	}
	if bad == nil || bad.Failed != 1 {
		t.Fatalf("bad stats = %+v", bad)
	}
}

// TestClient_RetriesTakeThrottleSlots verifies every retry attempt is
// counted against the rate window, not just the first.
func TestClient_RetriesTakeThrottleSlots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, _ := w.(http.Hijacker)
		conn, _, _ := hj.Hijack()
		conn.Close()
	}))
	defer srv.Close()

	th := ratelimit.NewThrottler(100, time.Minute)
	ns := &noSleep{}
	c := NewClient(ClientConfig{
		BaseURL:   srv.URL,
		Throttler: th,
		Breaker:   breaker.New(5, time.Minute),
		Retry:     RetryPolicy{MaxAttempts: 3, BaseDelay: 4 * time.Second, MaxDelay: 10 * time.Second},
		Metrics:   testMetrics(),
		Logger:    testLogger(),
	})
	c.sleep = ns.sleep

	out := c.Get(context.Background(), "/matches/live", RequestOptions{Kind: "discovery"})
	if out.Success {
		t.Fatalf("outcome = %+v, want failure", out)
	}
	if got := th.InFlight(); got != 3 {
		t.Fatalf("rate window holds %d slots, want one per attempt (3)", got)
	}
}

// TestClient_BreakerOpensBetweenRetries verifies the breaker is re-checked
// on every attempt, so a breaker tripped by the retries themselves stops
// the loop.
func TestClient_BreakerOpensBetweenRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		hj, _ := w.(http.Hijacker)
		conn, _, _ := hj.Hijack()
		conn.Close()
	}))
	defer srv.Close()

	ns := &noSleep{}
	c := NewClient(ClientConfig{
		BaseURL:   srv.URL,
		Throttler: ratelimit.NewThrottler(100, time.Minute),
		Breaker:   breaker.New(2, time.Minute),
		Retry:     RetryPolicy{MaxAttempts: 3, BaseDelay: 4 * time.Second, MaxDelay: 10 * time.Second},
		Metrics:   testMetrics(),
		Logger:    testLogger(),
	})
	c.sleep = ns.sleep

	out := c.Get(context.Background(), "/matches/live", RequestOptions{Kind: "discovery"})
	if out.Success {
		t.Fatalf("outcome = %+v, want failure", out)
	}
	// Attempts 1 and 2 fail and trip the breaker; attempt 3 must be
	// rejected before any network I/O.
	if attempts != 2 {
		t.Fatalf("server saw %d attempts, want 2", attempts)
	}
	if !strings.Contains(out.Err, "circuit breaker") {
		t.Fatalf("err = %q, want circuit breaker rejection", out.Err)
	}
}

// TestClient_RateLimitWaitExcludedFromDuration verifies the 429 cooldown
// happens after the outcome's duration is measured.
func TestClient_RateLimitWaitExcludedFromDuration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{
		BaseURL:   srv.URL,
		Throttler: ratelimit.NewThrottler(100, time.Second),
		Breaker:   breaker.New(5, time.Minute),
		Metrics:   testMetrics(),
		Logger:    testLogger(),
	})
	c.rateLimitWait = 200 * time.Millisecond

	start := time.Now()
	out := c.Get(context.Background(), "/matches/live", RequestOptions{Kind: "discovery"})
	elapsed := time.Since(start)

	if !out.RateLimited {
		t.Fatalf("outcome = %+v, want rate-limited", out)
	}
	if elapsed < 200*time.Millisecond {
		t.Fatalf("call returned after %v, want the 200ms cooldown honored", elapsed)
	}
	if out.Duration >= 200*time.Millisecond {
		t.Fatalf("outcome duration %v includes the cooldown", out.Duration)
	}
}

// TestClient_NilMetricsDefaulted verifies a client built without a metrics
// struct still serves requests.
func TestClient_NilMetricsDefaulted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{
		BaseURL:   srv.URL,
		Throttler: ratelimit.NewThrottler(100, time.Second),
		Breaker:   breaker.New(5, time.Minute),
		Logger:    testLogger(),
	})

	out := c.Get(context.Background(), "/matches/live", RequestOptions{
		CacheKey: "feed:live", CacheTTL: time.Minute, Kind: "discovery",
	})
	if !out.Success {
		t.Fatalf("outcome = %+v, want success", out)
	}
}

func TestRetryPolicy_DelayCap(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 4 * time.Second, MaxDelay: 10 * time.Second}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{5, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay before attempt %d = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
