// webhook_repository.go implements WebhookRepository, the store for webhook
// subscriptions and their delivery records. Delivery status transitions are
// guarded at the SQL level: an attempt outcome is only applied while the row is
// still pending, so a delivery can never leave a terminal state.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/adminguard/adminguard/internal/db/models"
)

// WebhookRepository handles webhook and delivery database operations.
type WebhookRepository struct {
	db *sqlx.DB
}

// NewWebhookRepository creates a new WebhookRepository.
func NewWebhookRepository(db *sqlx.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

const webhookColumns = `id, url, events, secret, active, created_at, updated_at`

func scanWebhook(row interface {
	Scan(dest ...interface{}) error
}) (*models.Webhook, error) {
	var (
		w          models.Webhook
		eventsJSON []byte
	)
	err := row.Scan(&w.ID, &w.URL, &eventsJSON, &w.Secret, &w.Active, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(eventsJSON, &w.Events); err != nil {
		return nil, fmt.Errorf("corrupt events column for webhook %s: %w", w.ID, err)
	}
	return &w, nil
}

// CreateWebhook persists a new webhook subscription.
func (r *WebhookRepository) CreateWebhook(ctx context.Context, webhook *models.Webhook) error {
	if webhook.ID == "" {
		webhook.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	webhook.CreatedAt = now
	webhook.UpdatedAt = now

	eventsJSON, err := json.Marshal(webhook.Events)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhooks (id, url, events, secret, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.ExecContext(ctx, query,
		webhook.ID, webhook.URL, eventsJSON, webhook.Secret, webhook.Active,
		webhook.CreatedAt, webhook.UpdatedAt,
	)
	return err
}

// GetWebhook retrieves a webhook by ID. Returns (nil, nil) when not found.
func (r *WebhookRepository) GetWebhook(ctx context.Context, id string) (*models.Webhook, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhooks WHERE id = $1`, webhookColumns)

	w, err := scanWebhook(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

// ListWebhooks retrieves all webhooks, newest first. When activeOnly is true,
// deactivated webhooks are excluded.
func (r *WebhookRepository) ListWebhooks(ctx context.Context, activeOnly bool) ([]*models.Webhook, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhooks`, webhookColumns)
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	webhooks := make([]*models.Webhook, 0)
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

// ListSubscribed retrieves the active webhooks subscribed to the given event
// type, using JSONB containment against the events array.
func (r *WebhookRepository) ListSubscribed(ctx context.Context, eventType string) ([]*models.Webhook, error) {
	eventJSON, err := json.Marshal([]string{eventType})
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s FROM webhooks
		WHERE active = TRUE AND events @> $1
		ORDER BY created_at
	`, webhookColumns)

	rows, err := r.db.QueryContext(ctx, query, eventJSON)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	webhooks := make([]*models.Webhook, 0)
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

// WebhookUpdate carries the partial fields of an update call. Nil fields are
// left unchanged.
type WebhookUpdate struct {
	URL    *string
	Events []string
	Active *bool
}

// UpdateWebhook applies a partial update and returns the updated webhook, or
// (nil, nil) when the webhook does not exist.
func (r *WebhookRepository) UpdateWebhook(ctx context.Context, id string, update WebhookUpdate) (*models.Webhook, error) {
	sets := []string{"updated_at = $1"}
	args := []interface{}{time.Now().UTC()}

	if update.URL != nil {
		args = append(args, *update.URL)
		sets = append(sets, fmt.Sprintf("url = $%d", len(args)))
	}
	if update.Events != nil {
		eventsJSON, err := json.Marshal(update.Events)
		if err != nil {
			return nil, err
		}
		args = append(args, eventsJSON)
		sets = append(sets, fmt.Sprintf("events = $%d", len(args)))
	}
	if update.Active != nil {
		args = append(args, *update.Active)
		sets = append(sets, fmt.Sprintf("active = $%d", len(args)))
	}

	args = append(args, id)
	query := fmt.Sprintf(`
		UPDATE webhooks SET %s WHERE id = $%d
		RETURNING %s
	`, strings.Join(sets, ", "), len(args), webhookColumns)

	w, err := scanWebhook(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

// DeleteWebhook removes a webhook subscription. Delivery history is retained.
// Returns false when the webhook did not exist.
func (r *WebhookRepository) DeleteWebhook(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

const deliveryColumns = `id, webhook_id, event_type, payload, status, attempt_count, response_code, next_attempt_at, last_attempt_at, created_at`

// CreateDelivery persists a new pending delivery record. next_attempt_at is
// stamped with the creation time so the retry job picks the delivery up even
// if the in-process dispatch queue was full when it was enqueued.
func (r *WebhookRepository) CreateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	if delivery.ID == "" {
		delivery.ID = uuid.New().String()
	}
	if delivery.Status == "" {
		delivery.Status = models.DeliveryStatusPending
	}
	now := time.Now().UTC()
	delivery.CreatedAt = now
	delivery.NextAttemptAt = &now

	query := `
		INSERT INTO webhook_deliveries (id, webhook_id, event_type, payload, status, attempt_count, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		delivery.ID, delivery.WebhookID, delivery.EventType, []byte(delivery.Payload),
		delivery.Status, delivery.AttemptCount, delivery.NextAttemptAt, delivery.CreatedAt,
	)
	return err
}

// GetDelivery retrieves a delivery by ID. Returns (nil, nil) when not found.
func (r *WebhookRepository) GetDelivery(ctx context.Context, id string) (*models.WebhookDelivery, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhook_deliveries WHERE id = $1`, deliveryColumns)

	var d models.WebhookDelivery
	err := r.db.GetContext(ctx, &d, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// RecordAttempt applies the outcome of one delivery attempt. The WHERE clause
// restricts the transition to rows still pending, so a concurrent worker that
// already finished the delivery cannot be overwritten.
func (r *WebhookRepository) RecordAttempt(ctx context.Context, id, status string, responseCode *int, nextAttemptAt *time.Time) error {
	query := `
		UPDATE webhook_deliveries
		SET status = $2,
		    attempt_count = attempt_count + 1,
		    response_code = $3,
		    next_attempt_at = $4,
		    last_attempt_at = $5
		WHERE id = $1 AND status = 'pending'
	`
	_, err := r.db.ExecContext(ctx, query, id, status, responseCode, nextAttemptAt, time.Now().UTC())
	return err
}

// MarkFailed moves a pending delivery to the failed state without counting an
// attempt, used when the owning webhook disappeared or was deactivated while
// the delivery was queued.
func (r *WebhookRepository) MarkFailed(ctx context.Context, id string) error {
	query := `
		UPDATE webhook_deliveries
		SET status = 'failed', next_attempt_at = NULL
		WHERE id = $1 AND status = 'pending'
	`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// ListDeliveries retrieves the delivery history for a webhook, newest first.
func (r *WebhookRepository) ListDeliveries(ctx context.Context, webhookID string, limit, offset int) ([]*models.WebhookDelivery, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM webhook_deliveries
		WHERE webhook_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, deliveryColumns)

	deliveries := make([]*models.WebhookDelivery, 0)
	if err := r.db.SelectContext(ctx, &deliveries, query, webhookID, limit, offset); err != nil {
		return nil, err
	}
	return deliveries, nil
}

// ListDueDeliveries retrieves pending deliveries whose scheduled retry time has
// passed, oldest first, for the retry job to re-enqueue.
func (r *WebhookRepository) ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*models.WebhookDelivery, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM webhook_deliveries
		WHERE status = 'pending' AND next_attempt_at IS NOT NULL AND next_attempt_at <= $1
		ORDER BY next_attempt_at
		LIMIT $2
	`, deliveryColumns)

	deliveries := make([]*models.WebhookDelivery, 0)
	if err := r.db.SelectContext(ctx, &deliveries, query, now, limit); err != nil {
		return nil, err
	}
	return deliveries, nil
}
