package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/scraper-service/internal/cache"
	"github.com/user/scraper-service/internal/domain"
	"github.com/user/scraper-service/internal/monitoring"
	"github.com/user/scraper-service/internal/scraper"
)

// Fetcher is the slice of scraper.Client the tracker needs.
type Fetcher interface {
	Get(ctx context.Context, path string, opts scraper.RequestOptions) domain.RequestOutcome
}

// Sink receives scraped documents and job records. Implemented by
// storage.PostgresStore.
type Sink interface {
	SaveRaw(ctx context.Context, matchID string, kind domain.ResourceKind, doc json.RawMessage) error
	SaveJob(ctx context.Context, job *domain.ScrapeJob) error
	UpdateJob(ctx context.Context, job *domain.ScrapeJob) error
}

// Config holds the tracker's timing and capacity knobs.
type Config struct {
	DiscoveryInterval time.Duration
	ScrapeInterval    time.Duration
	ErrorBackoff      time.Duration
	MaxTracked        int
	// MinImportance drops discovered matches below this score. Zero
	// tracks everything the feeds return.
	MinImportance     float64
	DiscoveryCacheTTL time.Duration
	LiveCacheTTL      time.Duration
}

// drainTimeout bounds how long an in-flight poll may keep running after
// the stop signal.
const drainTimeout = 2 * time.Minute

// Tracker is the control loop: discover live matches, poll every tracked
// match's sub-resources each cycle, evict stale entries. It runs until its
// context is cancelled; a failing cycle backs off and the loop continues.
type Tracker struct {
	cfg     Config
	client  Fetcher
	batch   *scraper.BatchRunner
	sink    Sink
	fp      *cache.Fingerprinter
	metrics *monitoring.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	tracked map[string]*domain.TrackedMatch

	lastDiscovery time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, client Fetcher, batch *scraper.BatchRunner, sink Sink, fp *cache.Fingerprinter, m *monitoring.Metrics, logger *zap.Logger) *Tracker {
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 60 * time.Second
	}
	return &Tracker{
		cfg:     cfg,
		client:  client,
		batch:   batch,
		sink:    sink,
		fp:      fp,
		metrics: m,
		logger:  logger,
		tracked: make(map[string]*domain.TrackedMatch),
		now:     time.Now,
		sleep:   sleepCtx,
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

// Run executes the control loop until ctx is cancelled. It never returns an
// error caused by a single cycle; those are logged and backed off.
func (t *Tracker) Run(ctx context.Context) {
	t.logger.Info("tracker started",
		zap.Duration("scrape_interval", t.cfg.ScrapeInterval),
		zap.Duration("discovery_interval", t.cfg.DiscoveryInterval))

	for {
		if ctx.Err() != nil {
			t.logger.Info("tracker stopped")
			return
		}

		wait := t.cfg.ScrapeInterval
		if err := t.runCycle(ctx); err != nil && ctx.Err() == nil {
			t.logger.Error("poll cycle failed, backing off", zap.Error(err))
			wait = t.cfg.ErrorBackoff
		}

		if err := t.sleep(ctx, wait); err != nil {
			t.logger.Info("tracker stopped")
			return
		}
	}
}

// runCycle performs one discover-and-poll iteration. Panics are converted to
// errors so a programming mistake backs the loop off instead of killing it.
func (t *Tracker) runCycle(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("cycle panic: %v", rec)
		}
	}()

	if t.now().Sub(t.lastDiscovery) >= t.cfg.DiscoveryInterval {
		if derr := t.discover(ctx); derr != nil {
			// Discovery failure is not fatal to the cycle: keep polling
			// what we already track.
			t.logger.Warn("discovery failed", zap.Error(derr))
		}
		t.lastDiscovery = t.now()
	}

	for _, id := range t.trackedIDs() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.pollMatch(ctx, id)
	}

	t.cleanup()
	return nil
}

// discover merges the live feed with today's feed, keeps non-terminal
// matches at or above the importance floor, and unions them into the
// tracked set.
func (t *Tracker) discover(ctx context.Context) error {
	feeds := []struct {
		path string
		key  string
	}{
		{"/matches/live", "feed:live"},
		{"/matches?date=" + t.now().Format("2006-01-02"), "feed:recent"},
	}

	merged := make(map[string]domain.Match)
	var feedErr error
	for _, feed := range feeds {
		out := t.client.Get(ctx, feed.path, scraper.RequestOptions{
			CacheKey: feed.key,
			CacheTTL: t.cfg.DiscoveryCacheTTL,
			Kind:     "discovery",
		})
		if !out.Success {
			feedErr = fmt.Errorf("fetch %s: %s", feed.path, out.Err)
			continue
		}
		var envelope domain.FeedEnvelope
		if err := json.Unmarshal(out.Payload, &envelope); err != nil {
			feedErr = fmt.Errorf("decode %s: %w", feed.path, err)
			continue
		}
		for _, m := range envelope.Data {
			if m.ID == "" || m.Status.Terminal() || m.Importance < t.cfg.MinImportance {
				continue
			}
			merged[m.ID] = m
		}
	}

	t.mu.Lock()
	added := 0
	for id, m := range merged {
		if _, ok := t.tracked[id]; ok {
			continue
		}
		t.tracked[id] = &domain.TrackedMatch{
			ID:           id,
			Status:       m.Status,
			DiscoveredAt: t.now(),
			Live:         m.Status.InPlay(),
			Importance:   m.Importance,
		}
		added++
		t.logger.Info("tracking new match",
			zap.String("match_id", id), zap.String("status", string(m.Status)))
	}
	count := len(t.tracked)
	t.mu.Unlock()

	t.metrics.TrackedMatches.Set(float64(count))
	if added > 0 {
		t.logger.Info("discovery complete", zap.Int("added", added), zap.Int("tracked", count))
	}
	return feedErr
}

// pollMatch fetches all sub-resources for one match under a single
// ScrapeJob. The job record is persisted before any fetch starts and
// finalized after every fetch has finished. The work is detached from the
// caller's cancellation: shutdown stops the loop between matches, but a
// poll already underway drains and finalizes its job record instead of
// leaving the row stuck in running.
func (t *Tracker) pollMatch(ctx context.Context, matchID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()

	job := &domain.ScrapeJob{
		ID:        uuid.NewString(),
		MatchID:   matchID,
		Kind:      "live_poll",
		Status:    domain.JobRunning,
		StartedAt: t.now(),
	}
	if err := t.sink.SaveJob(ctx, job); err != nil {
		t.metrics.SinkErrors.Inc()
		t.logger.Warn("failed to persist job record", zap.String("match_id", matchID), zap.Error(err))
	}

	kinds := make([]string, len(domain.SubResources))
	for i, k := range domain.SubResources {
		kinds[i] = string(k)
	}

	outcomes := t.batch.Run(ctx, kinds, func(ctx context.Context, kindstr string) domain.RequestOutcome {
		return t.fetchResource(ctx, matchID, domain.ResourceKind(kindstr))
	}, nil)
	batchStats := t.batch.Stats(outcomes)
	t.logger.Debug("poll batch finished",
		zap.String("match_id", matchID),
		zap.Float64("success_rate", batchStats.SuccessRate),
		zap.Duration("avg_duration", batchStats.AvgDuration))

	var firstErr string
	for i, out := range outcomes {
		kind := domain.SubResources[i]
		if !out.Success {
			job.Failed++
			if firstErr == "" {
				firstErr = fmt.Sprintf("%s: %s", kind, out.Err)
			}
			continue
		}
		job.Succeeded++
		if kind == domain.ResourceSummary {
			t.applySummary(matchID, out.Payload)
		}
	}

	job.CompletedAt = t.now()
	job.ErrorDetail = firstErr
	switch {
	case job.Failed == 0:
		job.Status = domain.JobCompleted
	case job.Succeeded == 0:
		job.Status = domain.JobFailed
	default:
		job.Status = domain.JobPartial
	}

	if err := t.sink.UpdateJob(ctx, job); err != nil {
		t.metrics.SinkErrors.Inc()
		t.logger.Warn("failed to finalize job record", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// fetchResource gets one sub-resource and persists it unless the payload is
// an unchanged duplicate of the last poll.
func (t *Tracker) fetchResource(ctx context.Context, matchID string, kind domain.ResourceKind) domain.RequestOutcome {
	path := "/matches/" + matchID
	if kind != domain.ResourceSummary {
		path += "/" + string(kind)
	}
	key := fmt.Sprintf("match:%s:%s", matchID, kind)

	out := t.client.Get(ctx, path, scraper.RequestOptions{
		CacheKey: key,
		CacheTTL: t.cfg.LiveCacheTTL,
		Kind:     string(kind),
	})
	if !out.Success {
		return out
	}

	if t.fp.IsDuplicate(ctx, key, out.Payload) {
		t.metrics.DuplicatesSkipped.Inc()
		out.Duplicate = true
		return out
	}

	if err := t.sink.SaveRaw(ctx, matchID, kind, out.Payload); err != nil {
		t.metrics.SinkErrors.Inc()
		t.logger.Warn("failed to persist document",
			zap.String("match_id", matchID), zap.String("kind", string(kind)), zap.Error(err))
	}
	return out
}

// applySummary refreshes the tracked entry's status from a summary payload.
func (t *Tracker) applySummary(matchID string, payload json.RawMessage) {
	var doc struct {
		Data domain.Match `json:"data"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil || doc.Data.Status == "" {
		return
	}

	t.mu.Lock()
	if m, ok := t.tracked[matchID]; ok {
		m.Status = doc.Data.Status
		m.Live = doc.Data.Status.InPlay()
	}
	t.mu.Unlock()
}

// cleanup drops matches that reached a terminal status, then enforces the
// size cap by evicting the oldest-discovered entries.
func (t *Tracker) cleanup() {
	t.mu.Lock()

	for id, m := range t.tracked {
		if m.Status.Terminal() {
			delete(t.tracked, id)
			t.logger.Info("match finished, no longer tracking",
				zap.String("match_id", id), zap.String("status", string(m.Status)))
		}
	}

	if t.cfg.MaxTracked > 0 && len(t.tracked) > t.cfg.MaxTracked {
		entries := make([]*domain.TrackedMatch, 0, len(t.tracked))
		for _, m := range t.tracked {
			entries = append(entries, m)
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].DiscoveredAt.Before(entries[j].DiscoveredAt)
		})
		for _, m := range entries[:len(t.tracked)-t.cfg.MaxTracked] {
			delete(t.tracked, m.ID)
			t.logger.Info("evicting oldest tracked match", zap.String("match_id", m.ID))
		}
	}

	count := len(t.tracked)
	t.mu.Unlock()
	t.metrics.TrackedMatches.Set(float64(count))
}

func (t *Tracker) trackedIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.tracked))
	for id := range t.tracked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a copy of the tracked set for the observability API.
func (t *Tracker) Snapshot() []domain.TrackedMatch {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.TrackedMatch, 0, len(t.tracked))
	for _, m := range t.tracked {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
