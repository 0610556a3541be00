// delivery_retry.go implements the DeliveryRetryJob background job, which
// periodically scans for pending webhook deliveries whose next_attempt_at has
// passed and hands them back to the dispatcher. Retry scheduling lives in the
// database rather than in process memory, so deliveries survive restarts and a
// full dispatch queue only delays them.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/adminguard/adminguard/internal/db/repositories"
	"github.com/adminguard/adminguard/internal/webhook"
)

// DeliveryRetryJob re-enqueues due webhook deliveries on a fixed interval.
type DeliveryRetryJob struct {
	repo       *repositories.WebhookRepository
	dispatcher *webhook.Dispatcher
	interval   time.Duration
	batchSize  int
	stopChan   chan struct{}
}

// NewDeliveryRetryJob creates a DeliveryRetryJob. interval defaults to 30s and
// batchSize to 100 when non-positive.
func NewDeliveryRetryJob(
	repo *repositories.WebhookRepository,
	dispatcher *webhook.Dispatcher,
	interval time.Duration,
	batchSize int,
) *DeliveryRetryJob {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &DeliveryRetryJob{
		repo:       repo,
		dispatcher: dispatcher,
		interval:   interval,
		batchSize:  batchSize,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the background retry loop. It runs an initial scan immediately,
// then repeats on the configured interval. The loop exits when ctx is
// cancelled or Stop() is called.
func (j *DeliveryRetryJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	slog.Info("webhook delivery retry job started", "interval", j.interval, "batch_size", j.batchSize)

	// Run once immediately on startup to pick up deliveries left over from a
	// previous process.
	j.runScan(ctx)

	for {
		select {
		case <-ticker.C:
			j.runScan(ctx)
		case <-j.stopChan:
			slog.Info("webhook delivery retry job stopped")
			return
		case <-ctx.Done():
			slog.Info("webhook delivery retry job context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (j *DeliveryRetryJob) Stop() {
	close(j.stopChan)
}

// runScan loads due deliveries and hands them to the dispatcher. Enqueue never
// blocks; anything that does not fit in the dispatch queue stays due and is
// picked up on the next scan.
func (j *DeliveryRetryJob) runScan(ctx context.Context) {
	deliveries, err := j.repo.ListDueDeliveries(ctx, time.Now().UTC(), j.batchSize)
	if err != nil {
		slog.Error("delivery retry job: failed to list due deliveries", "error", err)
		return
	}
	if len(deliveries) == 0 {
		return
	}

	slog.Debug("delivery retry job: re-enqueueing due deliveries", "count", len(deliveries))
	for _, d := range deliveries {
		j.dispatcher.Enqueue(d.ID)
	}
}
