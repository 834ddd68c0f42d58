package scraper

import (
	"sync"
	"time"
)

// EndpointStats is a read-only snapshot of one endpoint's counters.
type EndpointStats struct {
	Endpoint    string        `json:"endpoint"`
	Total       int64         `json:"total"`
	Succeeded   int64         `json:"succeeded"`
	Failed      int64         `json:"failed"`
	SuccessRate float64       `json:"success_rate"`
	AvgLatency  time.Duration `json:"avg_latency_ns"`
}

type endpointCounters struct {
	total        int64
	succeeded    int64
	failed       int64
	totalLatency time.Duration
}

// statsRegistry accumulates per-endpoint request counters behind a single
// lock and exposes them only via snapshots.
type statsRegistry struct {
	mu       sync.Mutex
	counters map[string]*endpointCounters
}

func newStatsRegistry() *statsRegistry {
	return &statsRegistry{counters: make(map[string]*endpointCounters)}
}

func (r *statsRegistry) record(endpoint string, success bool, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.counters[endpoint]
	if !ok {
		c = &endpointCounters{}
		r.counters[endpoint] = c
	}
	c.total++
	if success {
		c.succeeded++
	} else {
		c.failed++
	}
	c.totalLatency += latency
}

// snapshot returns a copy of all counters with derived rates.
func (r *statsRegistry) snapshot() []EndpointStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EndpointStats, 0, len(r.counters))
	for endpoint, c := range r.counters {
		s := EndpointStats{
			Endpoint:  endpoint,
			Total:     c.total,
			Succeeded: c.succeeded,
			Failed:    c.failed,
		}
		if c.total > 0 {
			s.SuccessRate = float64(c.succeeded) / float64(c.total)
			s.AvgLatency = c.totalLatency / time.Duration(c.total)
		}
		out = append(out, s)
	}
	return out
}
