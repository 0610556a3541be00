// dispatcher.go runs the delivery worker pool. Workers pull delivery IDs off a
// bounded channel, load the current delivery and webhook state, perform one
// signed HTTP POST, and record the outcome. Retries are scheduled by stamping
// next_attempt_at; the jobs.DeliveryRetryJob re-enqueues due deliveries, so a
// full queue or a crashed worker only delays a delivery, never loses it.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/adminguard/adminguard/internal/db/models"
	"github.com/adminguard/adminguard/internal/db/repositories"
	"github.com/adminguard/adminguard/internal/safego"
	"github.com/adminguard/adminguard/internal/telemetry"
)

// DispatcherConfig holds delivery tuning knobs.
type DispatcherConfig struct {
	// Workers is the number of concurrent delivery goroutines.
	Workers int
	// QueueSize bounds the in-process dispatch queue.
	QueueSize int
	// MaxAttempts is the delivery attempt ceiling before a delivery is
	// marked exhausted.
	MaxAttempts int
	// Timeout bounds one delivery HTTP request.
	Timeout time.Duration
	// BackoffBase is the delay before the second attempt; it doubles per
	// subsequent attempt up to BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DefaultDispatcherConfig returns production defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:     4,
		QueueSize:   256,
		MaxAttempts: 5,
		Timeout:     10 * time.Second,
		BackoffBase: 30 * time.Second,
		BackoffCap:  30 * time.Minute,
	}
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	defaults := DefaultDispatcherConfig()
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaults.QueueSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaults.BackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = defaults.BackoffCap
	}
	return c
}

// Dispatcher delivers queued webhook payloads.
type Dispatcher struct {
	repo   *repositories.WebhookRepository
	cfg    DispatcherConfig
	client *http.Client
	queue  chan string
	stopCh chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewDispatcher creates a Dispatcher. Call Start to launch the workers.
func NewDispatcher(repo *repositories.WebhookRepository, cfg DispatcherConfig) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		repo:   repo,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		queue:  make(chan string, cfg.QueueSize),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled or Stop
// is called.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		safego.Go(func() {
			defer d.wg.Done()
			d.worker(ctx)
		})
	}
	slog.Info("webhook dispatcher started", "workers", d.cfg.Workers, "queue_size", d.cfg.QueueSize)
}

// Stop signals the workers to exit and waits for in-flight attempts to finish.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
	slog.Info("webhook dispatcher stopped")
}

// Enqueue hands a delivery to the worker pool without blocking. When the queue
// is full the delivery is left for the retry job, which scans by
// next_attempt_at.
func (d *Dispatcher) Enqueue(deliveryID string) {
	select {
	case d.queue <- deliveryID:
		telemetry.WebhookQueueDepth.Set(float64(len(d.queue)))
	case <-d.stopCh:
	default:
		slog.Warn("webhook dispatch queue full, delivery deferred to retry job", "delivery_id", deliveryID)
	}
}

// QueueDepth reports the number of deliveries waiting in the dispatch queue.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case deliveryID := <-d.queue:
			telemetry.WebhookQueueDepth.Set(float64(len(d.queue)))
			d.attempt(ctx, deliveryID)
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// attempt performs one delivery attempt and records the outcome. All status
// transitions go through RecordAttempt/MarkFailed, which only apply while the
// row is still pending, so a duplicate enqueue of the same delivery results in
// at most one extra HTTP POST, never a corrupted record.
func (d *Dispatcher) attempt(ctx context.Context, deliveryID string) {
	delivery, err := d.repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		slog.Error("webhook: failed to load delivery", "delivery_id", deliveryID, "error", err)
		return
	}
	if delivery == nil || delivery.Terminal() {
		return
	}

	hook, err := d.repo.GetWebhook(ctx, delivery.WebhookID)
	if err != nil {
		slog.Error("webhook: failed to load webhook", "delivery_id", deliveryID, "error", err)
		return
	}
	if hook == nil || !hook.Active {
		// Owner deleted or deactivated while the delivery was queued.
		if err := d.repo.MarkFailed(ctx, delivery.ID); err != nil {
			slog.Error("webhook: failed to orphan delivery", "delivery_id", deliveryID, "error", err)
		}
		telemetry.WebhookDeliveryAttempts.WithLabelValues("orphaned").Inc()
		return
	}

	statusCode, err := d.send(ctx, hook, delivery)

	var responseCode *int
	if statusCode != 0 {
		responseCode = &statusCode
	}

	if err == nil && statusCode >= 200 && statusCode < 300 {
		if err := d.repo.RecordAttempt(ctx, delivery.ID, models.DeliveryStatusSuccess, responseCode, nil); err != nil {
			slog.Error("webhook: failed to record success", "delivery_id", deliveryID, "error", err)
		}
		telemetry.WebhookDeliveryAttempts.WithLabelValues("success").Inc()
		slog.Debug("webhook delivered", "delivery_id", delivery.ID, "webhook_id", hook.ID, "status", statusCode)
		return
	}

	// Transport errors and timeouts are treated the same as a non-2xx response.
	attempts := delivery.AttemptCount + 1
	if attempts >= d.cfg.MaxAttempts {
		if err := d.repo.RecordAttempt(ctx, delivery.ID, models.DeliveryStatusExhausted, responseCode, nil); err != nil {
			slog.Error("webhook: failed to record exhaustion", "delivery_id", deliveryID, "error", err)
		}
		telemetry.WebhookDeliveryAttempts.WithLabelValues("exhausted").Inc()
		slog.Warn("webhook delivery exhausted", "delivery_id", delivery.ID, "webhook_id", hook.ID,
			"attempts", attempts, "last_status", statusCode, "error", err)
		return
	}

	next := d.now().Add(d.backoff(attempts))
	if err := d.repo.RecordAttempt(ctx, delivery.ID, models.DeliveryStatusPending, responseCode, &next); err != nil {
		slog.Error("webhook: failed to schedule retry", "delivery_id", deliveryID, "error", err)
	}
	telemetry.WebhookDeliveryAttempts.WithLabelValues("failed").Inc()
	slog.Debug("webhook delivery failed, retry scheduled", "delivery_id", delivery.ID,
		"attempt", attempts, "next_attempt_at", next, "status", statusCode, "error", err)
}

// send performs the signed HTTP POST and returns the response status code.
// A transport failure returns code 0 and the error.
func (d *Dispatcher) send(ctx context.Context, hook *models.Webhook, delivery *models.WebhookDelivery) (int, error) {
	body, err := BuildPayloadBody(delivery.EventType, delivery.Payload, delivery.CreatedAt)
	if err != nil {
		return 0, err
	}

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "AdminGuard-Webhook/1.0")
	req.Header.Set("X-AdminGuard-Event", delivery.EventType)
	req.Header.Set("X-AdminGuard-Delivery", delivery.ID)
	req.Header.Set(SignatureHeader, Sign(hook.Secret, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

// backoff returns the delay before the given next attempt number (2-based:
// attempt 1 just failed). The delay doubles per attempt and is capped.
func (d *Dispatcher) backoff(attemptsMade int) time.Duration {
	delay := d.cfg.BackoffBase
	for i := 1; i < attemptsMade; i++ {
		delay *= 2
		if delay >= d.cfg.BackoffCap {
			return d.cfg.BackoffCap
		}
	}
	if delay > d.cfg.BackoffCap {
		delay = d.cfg.BackoffCap
	}
	return delay
}

// BuildPayloadBody renders the wire-format body: the event-specific payload
// fields merged under a top-level envelope carrying the event name and the
// trigger timestamp.
func BuildPayloadBody(eventType string, payload json.RawMessage, triggeredAt time.Time) ([]byte, error) {
	envelope := make(map[string]interface{})
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &envelope); err != nil {
			return nil, fmt.Errorf("webhook: corrupt payload: %w", err)
		}
	}
	envelope["event"] = eventType
	envelope["timestamp"] = triggeredAt.UTC().Format(time.RFC3339)

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("webhook: marshal body: %w", err)
	}
	return body, nil
}
