package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	DuplicatesSkipped prometheus.Counter
	CacheHits         prometheus.Counter
	SinkErrors        prometheus.Counter
	BreakerState      prometheus.Gauge
	TrackedMatches    prometheus.Gauge
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers against a specific registry; tests use this to
// avoid duplicate registration in the default registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total number of upstream requests by endpoint kind and result",
		}, []string{"kind", "result"}), // result: success, failure, rate_limited, circuit_open
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "Duration of upstream requests",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),
		DuplicatesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "scraper_duplicates_skipped_total",
			Help: "Fetches whose payload fingerprint matched the previous one",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "scraper_cache_hits_total",
			Help: "Requests served from the response cache without network I/O",
		}),
		SinkErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "scraper_sink_errors_total",
			Help: "Failed writes to the storage sink",
		}),
		BreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
		}),
		TrackedMatches: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_tracked_matches",
			Help: "Current number of matches in the tracked set",
		}),
	}
}
