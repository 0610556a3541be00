package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/adminguard/adminguard/internal/db/models"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newWebhookRepo(t *testing.T) (*WebhookRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewWebhookRepository(db), mock
}

var webhookCols = []string{"id", "url", "events", "secret", "active", "created_at", "updated_at"}

func sampleWebhookRow(id string, active bool) *sqlmock.Rows {
	return sqlmock.NewRows(webhookCols).
		AddRow(id, "https://example.com/hook", []byte(`["settings.updated"]`),
			"s3cr3t", active, time.Now(), time.Now())
}

var deliveryCols = []string{
	"id", "webhook_id", "event_type", "payload", "status",
	"attempt_count", "response_code", "next_attempt_at", "last_attempt_at", "created_at",
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

func TestCreateWebhook_AssignsIDAndTimestamps(t *testing.T) {
	repo, mock := newWebhookRepo(t)
	mock.ExpectExec("INSERT INTO webhooks").
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := &models.Webhook{
		URL:    "https://example.com/hook",
		Events: []string{"settings.updated"},
		Secret: "s3cr3t",
		Active: true,
	}
	if err := repo.CreateWebhook(context.Background(), w); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if w.CreatedAt.IsZero() || w.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestGetWebhook_NotFoundReturnsNil(t *testing.T) {
	repo, mock := newWebhookRepo(t)
	mock.ExpectQuery("SELECT .* FROM webhooks WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(webhookCols))

	w, err := repo.GetWebhook(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != nil {
		t.Errorf("expected nil, got %+v", w)
	}
}

func TestGetWebhook_DecodesEvents(t *testing.T) {
	repo, mock := newWebhookRepo(t)
	mock.ExpectQuery("SELECT .* FROM webhooks WHERE id").
		WithArgs("wh-1").
		WillReturnRows(sampleWebhookRow("wh-1", true))

	w, err := repo.GetWebhook(context.Background(), "wh-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.Events) != 1 || w.Events[0] != "settings.updated" {
		t.Errorf("events = %v, want [settings.updated]", w.Events)
	}
}

func TestListSubscribed_UsesContainment(t *testing.T) {
	repo, mock := newWebhookRepo(t)
	mock.ExpectQuery(`active = TRUE AND events @>`).
		WithArgs([]byte(`["settings.updated"]`)).
		WillReturnRows(sampleWebhookRow("wh-1", true))

	webhooks, err := repo.ListSubscribed(context.Background(), "settings.updated")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(webhooks) != 1 {
		t.Errorf("len = %d, want 1", len(webhooks))
	}
}

func TestUpdateWebhook_NotFoundReturnsNil(t *testing.T) {
	repo, mock := newWebhookRepo(t)
	mock.ExpectQuery("UPDATE webhooks SET").
		WillReturnRows(sqlmock.NewRows(webhookCols))

	active := false
	w, err := repo.UpdateWebhook(context.Background(), "missing", WebhookUpdate{Active: &active})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != nil {
		t.Errorf("expected nil, got %+v", w)
	}
}

func TestDeleteWebhook(t *testing.T) {
	repo, mock := newWebhookRepo(t)
	mock.ExpectExec("DELETE FROM webhooks").
		WithArgs("wh-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	deleted, err := repo.DeleteWebhook(context.Background(), "wh-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deleted {
		t.Error("expected deleted = true")
	}
}

func TestDeleteWebhook_Missing(t *testing.T) {
	repo, mock := newWebhookRepo(t)
	mock.ExpectExec("DELETE FROM webhooks").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := repo.DeleteWebhook(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted {
		t.Error("expected deleted = false")
	}
}

// ---------------------------------------------------------------------------
// Deliveries
// ---------------------------------------------------------------------------

func TestCreateDelivery_SetsPendingAndDueNow(t *testing.T) {
	repo, mock := newWebhookRepo(t)
	mock.ExpectExec("INSERT INTO webhook_deliveries").
		WillReturnResult(sqlmock.NewResult(1, 1))

	d := &models.WebhookDelivery{
		WebhookID: "wh-1",
		EventType: "settings.updated",
		Payload:   []byte(`{"field":"menu_background"}`),
	}
	if err := repo.CreateDelivery(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Status != models.DeliveryStatusPending {
		t.Errorf("status = %q, want pending", d.Status)
	}
	if d.NextAttemptAt == nil {
		t.Error("expected next_attempt_at to be stamped")
	}
}

func TestRecordAttempt_OnlyTouchesPendingRows(t *testing.T) {
	repo, mock := newWebhookRepo(t)
	code := 200
	mock.ExpectExec(`WHERE id = \$1 AND status = 'pending'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RecordAttempt(context.Background(), "d-1", models.DeliveryStatusSuccess, &code, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestListDueDeliveries(t *testing.T) {
	repo, mock := newWebhookRepo(t)
	now := time.Now()
	mock.ExpectQuery(`status = 'pending' AND next_attempt_at IS NOT NULL`).
		WithArgs(now, 10).
		WillReturnRows(sqlmock.NewRows(deliveryCols).
			AddRow("d-1", "wh-1", "settings.updated", []byte(`{}`), "pending",
				1, 500, now.Add(-time.Minute), now.Add(-2*time.Minute), now.Add(-5*time.Minute)))

	due, err := repo.ListDueDeliveries(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("len = %d, want 1", len(due))
	}
	if due[0].AttemptCount != 1 || due[0].Status != models.DeliveryStatusPending {
		t.Errorf("unexpected delivery: %+v", due[0])
	}
}
