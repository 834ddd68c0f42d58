package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/scraper-service/internal/domain"
)

// WorkFunc performs one item's fetch and returns its outcome.
type WorkFunc func(ctx context.Context, item string) domain.RequestOutcome

// ProgressFunc is invoked after each item completes with (completed, total).
type ProgressFunc func(completed, total int)

// BatchStats summarizes one finished batch.
type BatchStats struct {
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	SuccessRate float64       `json:"success_rate"`
	AvgDuration time.Duration `json:"avg_duration_ns"`
}

// BatchRunner executes many client calls with bounded parallelism. Item
// failures, including panics inside the work function, are captured as
// outcomes; the batch itself never aborts.
type BatchRunner struct {
	maxConcurrent int
	logger        *zap.Logger
}

func NewBatchRunner(maxConcurrent int, logger *zap.Logger) *BatchRunner {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &BatchRunner{maxConcurrent: maxConcurrent, logger: logger}
}

// Run executes workFn for every item and returns one outcome per item, in
// input order. onProgress may be nil.
func (r *BatchRunner) Run(ctx context.Context, items []string, workFn WorkFunc, onProgress ProgressFunc) []domain.RequestOutcome {
	outcomes := make([]domain.RequestOutcome, len(items))
	sem := make(chan struct{}, r.maxConcurrent)

	var mu sync.Mutex
	completed := 0

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(idx int, item string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			outcomes[idx] = r.runOne(ctx, item, workFn)

			mu.Lock()
			completed++
			done := completed
			mu.Unlock()
			if onProgress != nil {
				onProgress(done, len(items))
			}
		}(i, item)
	}
	wg.Wait()

	return outcomes
}

func (r *BatchRunner) runOne(ctx context.Context, item string, workFn WorkFunc) (outcome domain.RequestOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("work function panicked", zap.String("item", item), zap.Any("panic", rec))
			outcome = domain.RequestOutcome{
				Err:         fmt.Sprintf("panic: %v", rec),
				Endpoint:    item,
				CompletedAt: time.Now(),
			}
		}
	}()
	return workFn(ctx, item)
}

// Stats derives aggregate statistics from a completed batch.
func (r *BatchRunner) Stats(outcomes []domain.RequestOutcome) BatchStats {
	stats := BatchStats{Total: len(outcomes)}
	var totalDuration time.Duration
	for _, o := range outcomes {
		if o.Success {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
		totalDuration += o.Duration
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.Total)
		stats.AvgDuration = totalDuration / time.Duration(stats.Total)
	}
	return stats
}
