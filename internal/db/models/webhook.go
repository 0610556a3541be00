// webhook.go defines the Webhook subscription model and the WebhookDelivery record
// that tracks each outbound notification attempt. A Webhook owns zero or more
// deliveries; deliveries reference the webhook by ID and survive its deletion so
// the delivery trail remains auditable.
package models

import (
	"encoding/json"
	"time"
)

// Webhook delivery statuses.
//
// A delivery starts as pending and transitions to success on the first 2xx
// response, to exhausted once the attempt ceiling is reached without a 2xx, or
// to failed when it can no longer be attempted for a non-retryable reason
// (owning webhook deleted or deactivated while the delivery was queued).
const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusSuccess   = "success"
	DeliveryStatusFailed    = "failed"
	DeliveryStatusExhausted = "exhausted"
)

// Webhook represents a registered subscriber endpoint.
type Webhook struct {
	ID        string    `db:"id" json:"id"`
	URL       string    `db:"url" json:"url"`
	Events    []string  `db:"-" json:"events"` // marshaled to the JSONB events column by the repository
	Secret    string    `db:"secret" json:"-"` // never serialized in API responses
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SubscribedTo reports whether the webhook is subscribed to the given event type.
func (w *Webhook) SubscribedTo(eventType string) bool {
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// WebhookDelivery represents one triggered event bound for one webhook.
// AttemptCount counts attempts already made; NextAttemptAt is set only while
// the delivery is pending and has failed at least once.
type WebhookDelivery struct {
	ID            string          `db:"id" json:"id"`
	WebhookID     string          `db:"webhook_id" json:"webhook_id"`
	EventType     string          `db:"event_type" json:"event_type"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	Status        string          `db:"status" json:"status"`
	AttemptCount  int             `db:"attempt_count" json:"attempt_count"`
	ResponseCode  *int            `db:"response_code" json:"response_code,omitempty"`
	NextAttemptAt *time.Time      `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
	LastAttemptAt *time.Time      `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Terminal reports whether the delivery has reached a final state.
func (d *WebhookDelivery) Terminal() bool {
	return d.Status == DeliveryStatusSuccess ||
		d.Status == DeliveryStatusExhausted ||
		d.Status == DeliveryStatusFailed
}
