package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/user/scraper-service/internal/breaker"
	"github.com/user/scraper-service/internal/cache"
	"github.com/user/scraper-service/internal/domain"
	"github.com/user/scraper-service/internal/monitoring"
	"github.com/user/scraper-service/internal/ratelimit"
)

const (
	maxResponseBodySize  = 6 << 20
	maxErrorBodySize     = 200
	defaultRateLimitWait = 60 * time.Second
)

// Client issues one logical GET against the sports API through the full
// resilience pipeline: cache lookup, throttling, circuit breaking, and
// retry with backoff for transport failures.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	throttler  *ratelimit.Throttler
	breaker    *breaker.CircuitBreaker
	cache      *cache.Cache
	retry      RetryPolicy
	stats      *statsRegistry
	metrics    *monitoring.Metrics
	logger     *zap.Logger

	sleep         sleepFunc
	rateLimitWait time.Duration
}

// ClientConfig carries the dependencies for NewClient.
type ClientConfig struct {
	BaseURL     string
	Token       string
	HTTPTimeout time.Duration
	Throttler   *ratelimit.Throttler
	Breaker     *breaker.CircuitBreaker
	Cache       *cache.Cache
	Retry       RetryPolicy
	Metrics     *monitoring.Metrics
	Logger      *zap.Logger
}

func NewClient(cfg ClientConfig) *Client {
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	respCache := cfg.Cache
	if respCache == nil {
		respCache = cache.New(nil, cfg.Logger)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetricsWith(prometheus.NewRegistry())
	}
	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       cfg.BaseURL,
		token:         cfg.Token,
		throttler:     cfg.Throttler,
		breaker:       cfg.Breaker,
		cache:         respCache,
		retry:         retry,
		stats:         newStatsRegistry(),
		metrics:       metrics,
		logger:        cfg.Logger,
		sleep:         realSleep,
		rateLimitWait: defaultRateLimitWait,
	}
}

// RequestOptions tune a single Get call.
type RequestOptions struct {
	// CacheKey enables a cache lookup before any network I/O and a cache
	// write on success. Empty disables caching for this call.
	CacheKey string
	// CacheTTL is the freshness window for the cached response.
	CacheTTL time.Duration
	// Kind labels metrics and statistics for this call.
	Kind string
}

// Get performs one logical request against path. All failure modes are
// returned as data in the outcome, never as an error, so callers can treat
// every item of a batch uniformly.
func (c *Client) Get(ctx context.Context, path string, opts RequestOptions) domain.RequestOutcome {
	endpoint := c.baseURL + path

	if opts.CacheKey != "" {
		if val, ok := c.cache.Get(ctx, opts.CacheKey); ok {
			c.metrics.CacheHits.Inc()
			return domain.RequestOutcome{
				Success:     true,
				Payload:     val,
				Endpoint:    endpoint,
				CompletedAt: time.Now(),
				FromCache:   true,
			}
		}
	}

	start := time.Now()
	outcome, result, cooldown := c.execute(ctx, endpoint, opts)
	outcome.Duration = time.Since(start)
	outcome.Endpoint = endpoint
	outcome.CompletedAt = time.Now()
	outcome = c.finish(opts.Kind, outcome, outcome.Duration, result)
	if cooldown > 0 {
		// Honor the upstream cooldown after the outcome is measured, so
		// the wait never shows up as request latency.
		_ = c.sleep(ctx, cooldown)
	}
	return outcome
}

// execute runs the retry loop. Only transport-level failures are retried;
// an HTTP response of any status terminates the loop. Each attempt is a
// real outbound request, so each one takes a throttler slot and re-checks
// the breaker, which may have opened between attempts.
func (c *Client) execute(ctx context.Context, endpoint string, opts RequestOptions) (domain.RequestOutcome, string, time.Duration) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.retry.Delay(attempt)); err != nil {
				break
			}
		}

		if err := c.throttler.Acquire(ctx); err != nil {
			return domain.RequestOutcome{
				Err: fmt.Sprintf("throttler wait aborted: %v", err),
			}, "failure", 0
		}

		if err := c.breaker.Allow(); err != nil {
			c.logger.Warn("request rejected by circuit breaker",
				zap.String("endpoint", endpoint), zap.String("state", string(c.breaker.State())))
			return domain.RequestOutcome{Err: err.Error()}, "circuit_open", 0
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			c.breaker.RecordFailure()
			return domain.RequestOutcome{Err: fmt.Sprintf("build request: %v", err)}, "failure", 0
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.breaker.RecordFailure()
			c.logger.Warn("transport failure",
				zap.String("endpoint", endpoint), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			c.breaker.RecordFailure()
			continue
		}

		return c.classify(ctx, resp, body, opts)
	}

	if lastErr == nil {
		lastErr = errors.New("request failed")
	}
	return domain.RequestOutcome{Err: lastErr.Error()}, "failure", 0
}

// classify maps an HTTP response onto an outcome. The third return value
// is a cooldown the caller must wait out after recording the outcome; it
// is non-zero only for 429 responses.
func (c *Client) classify(ctx context.Context, resp *http.Response, body []byte, opts RequestOptions) (domain.RequestOutcome, string, time.Duration) {
	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		c.breaker.RecordSuccess()
		if opts.CacheKey != "" {
			c.cache.Set(ctx, opts.CacheKey, body, opts.CacheTTL)
		}
		return domain.RequestOutcome{Success: true, Payload: body, StatusCode: status}, "success", 0

	case status == http.StatusTooManyRequests:
		// The upstream answered; this is quota pressure, not an outage.
		c.breaker.RecordSuccess()
		wait := c.retryAfter(resp)
		c.logger.Warn("rate limited by upstream", zap.Duration("retry_after", wait))
		return domain.RequestOutcome{
			Err:         "rate limited by upstream",
			StatusCode:  status,
			RateLimited: true,
		}, "rate_limited", wait

	case status >= 500:
		c.breaker.RecordFailure()
		return domain.RequestOutcome{
			Err:        fmt.Sprintf("upstream status %d: %s", status, truncate(body)),
			StatusCode: status,
		}, "failure", 0

	default: // remaining 4xx: the request itself is wrong, retrying won't help
		c.breaker.RecordSuccess()
		return domain.RequestOutcome{
			Err:        fmt.Sprintf("upstream status %d: %s", status, truncate(body)),
			StatusCode: status,
		}, "failure", 0
	}
}

func (c *Client) retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return c.rateLimitWait
}

func (c *Client) finish(kind string, outcome domain.RequestOutcome, latency time.Duration, result string) domain.RequestOutcome {
	c.stats.record(outcome.Endpoint, outcome.Success, latency)
	c.metrics.RequestsTotal.WithLabelValues(kind, result).Inc()
	if latency > 0 {
		c.metrics.RequestDuration.WithLabelValues(kind).Observe(latency.Seconds())
	}
	c.metrics.BreakerState.Set(breakerStateValue(c.breaker.State()))
	return outcome
}

func breakerStateValue(s breaker.State) float64 {
	switch s {
	case breaker.StateHalfOpen:
		return 1
	case breaker.StateOpen:
		return 2
	}
	return 0
}

// Stats returns a read-only snapshot of per-endpoint counters.
func (c *Client) Stats() []EndpointStats {
	return c.stats.snapshot()
}

// BreakerState exposes the breaker state for the observability surface.
func (c *Client) BreakerState() breaker.State {
	return c.breaker.State()
}

func truncate(body []byte) string {
	if len(body) > maxErrorBodySize {
		return string(body[:maxErrorBodySize]) + "..."
	}
	return string(body)
}
