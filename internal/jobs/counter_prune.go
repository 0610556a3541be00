// counter_prune.go implements the CounterPruneJob background job, which
// periodically evicts expired rate limit windows from the in-memory counter
// store. Redis-backed counters expire on their own via TTL, so the job only
// runs when the memory store is in use.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/adminguard/adminguard/internal/ratelimit"
)

// CounterPruneJob evicts stale in-memory rate limit counters on an interval.
type CounterPruneJob struct {
	store    *ratelimit.MemoryStore
	interval time.Duration
	stopChan chan struct{}
}

// NewCounterPruneJob creates a CounterPruneJob. interval defaults to 5m when
// non-positive.
func NewCounterPruneJob(store *ratelimit.MemoryStore, interval time.Duration) *CounterPruneJob {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CounterPruneJob{
		store:    store,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background prune loop. The loop exits when ctx is cancelled
// or Stop() is called.
func (j *CounterPruneJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	slog.Info("rate limit counter prune job started", "interval", j.interval)

	for {
		select {
		case <-ticker.C:
			if pruned := j.store.Prune(); pruned > 0 {
				slog.Debug("rate limit counter prune job: evicted expired windows", "count", pruned)
			}
		case <-j.stopChan:
			slog.Info("rate limit counter prune job stopped")
			return
		case <-ctx.Done():
			slog.Info("rate limit counter prune job context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (j *CounterPruneJob) Stop() {
	close(j.stopChan)
}
