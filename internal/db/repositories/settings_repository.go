// settings_repository.go implements SettingsRepository, a single-document JSONB
// store for admin-panel settings profiles. Save upserts and returns the previous
// document so the caller can record an old/new audit snapshot in one round trip.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/adminguard/adminguard/internal/db/models"
)

// SettingsRepository handles settings document database operations.
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetSettings retrieves a settings document by profile name.
// Returns (nil, nil) when the profile does not exist.
func (r *SettingsRepository) GetSettings(ctx context.Context, name string) (*models.Settings, error) {
	query := `SELECT name, data, updated_at FROM settings WHERE name = $1`

	var s models.Settings
	err := r.db.GetContext(ctx, &s, query, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveSettings upserts a settings document and returns the previous document,
// or nil when the profile is new.
func (r *SettingsRepository) SaveSettings(ctx context.Context, name string, data json.RawMessage) (json.RawMessage, error) {
	// The CTE captures the pre-update document in the same statement so two
	// concurrent saves cannot both observe the same "old" value.
	query := `
		WITH previous AS (
			SELECT data FROM settings WHERE name = $1
		)
		INSERT INTO settings (name, data, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
		RETURNING (SELECT data FROM previous)
	`

	var old []byte
	err := r.db.QueryRowContext(ctx, query, name, []byte(data), time.Now().UTC()).Scan(&old)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, nil
	}
	return json.RawMessage(old), nil
}

// DeleteSettings removes a settings profile, returning the deleted document so
// the caller can audit what was reset. Returns (nil, nil) when absent.
func (r *SettingsRepository) DeleteSettings(ctx context.Context, name string) (json.RawMessage, error) {
	query := `DELETE FROM settings WHERE name = $1 RETURNING data`

	var old []byte
	err := r.db.QueryRowContext(ctx, query, name).Scan(&old)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(old), nil
}
