// Package webhook implements the outbound webhook subsystem: a registry of
// subscriber endpoints and a dispatcher that delivers signed event payloads to
// them with bounded retries. Triggering an event never blocks on subscriber
// latency; deliveries are recorded as pending and handed to a worker pool, so
// the guarantee is at-least-once delivery with an attempt ceiling.
package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/adminguard/adminguard/internal/db/models"
	"github.com/adminguard/adminguard/internal/db/repositories"
	"github.com/adminguard/adminguard/internal/telemetry"
)

// Service is the webhook registry consumed by the API layer and by other
// services that trigger events.
type Service struct {
	repo       *repositories.WebhookRepository
	dispatcher *Dispatcher
}

// NewService creates a webhook Service. The dispatcher must be started
// separately by the caller (it owns background workers).
func NewService(repo *repositories.WebhookRepository, dispatcher *Dispatcher) *Service {
	return &Service{repo: repo, dispatcher: dispatcher}
}

// validateURL accepts only absolute http(s) URLs with a host.
func validateURL(raw string) *ValidationError {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return &ValidationError{Field: "url", Message: "must be a valid absolute URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "url", Message: "scheme must be http or https"}
	}
	return nil
}

// validateEvents requires a non-empty subset of the supported event registry.
func validateEvents(events []string) *ValidationError {
	if len(events) == 0 {
		return &ValidationError{Field: "events", Message: "at least one event type is required"}
	}
	for _, e := range events {
		if !EventSupported(e) {
			return &ValidationError{Field: "events", Message: fmt.Sprintf("unsupported event type %q", e)}
		}
	}
	return nil
}

// generateSecret returns a 32-byte random hex secret for payload signing.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("webhook: generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Register creates a new active webhook subscription. When secret is empty a
// random signing secret is generated; either way the secret is returned once
// on the created webhook and never exposed by List or Update.
func (s *Service) Register(ctx context.Context, rawURL string, events []string, secret string) (*models.Webhook, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	if err := validateEvents(events); err != nil {
		return nil, err
	}

	if secret == "" {
		generated, err := generateSecret()
		if err != nil {
			return nil, err
		}
		secret = generated
	}

	webhook := &models.Webhook{
		URL:    rawURL,
		Events: events,
		Secret: secret,
		Active: true,
	}
	if err := s.repo.CreateWebhook(ctx, webhook); err != nil {
		return nil, fmt.Errorf("webhook: create: %w", err)
	}

	slog.Info("webhook registered", "webhook_id", webhook.ID, "url", webhook.URL, "events", webhook.Events)
	return webhook, nil
}

// List returns all registered webhooks, newest first.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]*models.Webhook, error) {
	return s.repo.ListWebhooks(ctx, activeOnly)
}

// Get returns one webhook or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*models.Webhook, error) {
	webhook, err := s.repo.GetWebhook(ctx, id)
	if err != nil {
		return nil, err
	}
	if webhook == nil {
		return nil, ErrNotFound
	}
	return webhook, nil
}

// Update applies a partial update. Provided fields are validated the same way
// as at registration; omitted fields are unchanged. Returns ErrNotFound when
// the webhook does not exist.
func (s *Service) Update(ctx context.Context, id string, update repositories.WebhookUpdate) (*models.Webhook, error) {
	if update.URL != nil {
		if err := validateURL(*update.URL); err != nil {
			return nil, err
		}
	}
	if update.Events != nil {
		if err := validateEvents(update.Events); err != nil {
			return nil, err
		}
	}

	webhook, err := s.repo.UpdateWebhook(ctx, id, update)
	if err != nil {
		return nil, fmt.Errorf("webhook: update: %w", err)
	}
	if webhook == nil {
		return nil, ErrNotFound
	}

	slog.Info("webhook updated", "webhook_id", id)
	return webhook, nil
}

// Delete removes a webhook subscription. Its delivery history is retained and
// remains queryable. Returns false when the webhook did not exist.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.repo.DeleteWebhook(ctx, id)
	if err != nil {
		return false, fmt.Errorf("webhook: delete: %w", err)
	}
	if deleted {
		slog.Info("webhook deleted", "webhook_id", id)
	}
	return deleted, nil
}

// Trigger fires an event: one pending delivery is created per active webhook
// subscribed to eventType and handed to the dispatcher. The return value is
// the number of deliveries initiated, not the number that will succeed —
// individual outcomes are visible only through the delivery history.
func (s *Service) Trigger(ctx context.Context, eventType string, payload map[string]interface{}) (int, error) {
	if !EventSupported(eventType) {
		return 0, &ValidationError{Field: "event", Message: fmt.Sprintf("unsupported event type %q", eventType)}
	}

	subscribers, err := s.repo.ListSubscribed(ctx, eventType)
	if err != nil {
		return 0, fmt.Errorf("webhook: list subscribers: %w", err)
	}
	telemetry.WebhookTriggersTotal.WithLabelValues(eventType).Inc()
	if len(subscribers) == 0 {
		return 0, nil
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("webhook: marshal payload: %w", err)
	}

	triggered := 0
	for _, subscriber := range subscribers {
		delivery := &models.WebhookDelivery{
			WebhookID: subscriber.ID,
			EventType: eventType,
			Payload:   payloadJSON,
		}
		if err := s.repo.CreateDelivery(ctx, delivery); err != nil {
			slog.Error("webhook: failed to create delivery", "webhook_id", subscriber.ID, "event", eventType, "error", err)
			continue
		}
		triggered++
		s.dispatcher.Enqueue(delivery.ID)
	}

	slog.Debug("webhook event triggered", "event", eventType, "deliveries", triggered)
	return triggered, nil
}

// SendTest creates and enqueues a single test delivery for one webhook,
// bypassing event subscriptions. The delivery goes through the normal signing
// and retry pipeline so subscribers can verify their endpoint end to end.
// Returns ErrNotFound when the webhook does not exist.
func (s *Service) SendTest(ctx context.Context, id string) (*models.WebhookDelivery, error) {
	webhook, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]interface{}{"test": true, "webhook_id": webhook.ID})
	if err != nil {
		return nil, fmt.Errorf("webhook: marshal test payload: %w", err)
	}

	delivery := &models.WebhookDelivery{
		WebhookID: webhook.ID,
		EventType: EventWebhookTest,
		Payload:   payload,
	}
	if err := s.repo.CreateDelivery(ctx, delivery); err != nil {
		return nil, fmt.Errorf("webhook: create test delivery: %w", err)
	}
	s.dispatcher.Enqueue(delivery.ID)

	slog.Info("webhook test delivery queued", "webhook_id", id, "delivery_id", delivery.ID)
	return delivery, nil
}

// DeliveryHistory lists a webhook's deliveries, newest first. The webhook need
// not still exist; history outlives deletion.
func (s *Service) DeliveryHistory(ctx context.Context, webhookID string, limit, offset int) ([]*models.WebhookDelivery, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListDeliveries(ctx, webhookID, limit, offset)
}

// SupportedEvents returns the event-type registry.
func (s *Service) SupportedEvents() []string {
	return SupportedEvents()
}
