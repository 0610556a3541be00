// audit_repository.go implements AuditRepository, the append-only store for audit
// log entries. Entries are only ever inserted and read; there is no update path,
// which is how the immutability invariant is enforced at the persistence layer.
package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/adminguard/adminguard/internal/db/models"
)

// AuditRepository handles audit log database operations.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit logs. Nil fields are not applied.
type AuditFilters struct {
	UserID    *string
	Action    *string
	Status    *string
	StartDate *time.Time
	EndDate   *time.Time
}

// whereClause builds the WHERE fragment and argument list shared by List and Count.
func (f AuditFilters) whereClause() (string, []interface{}) {
	clauses := []string{"1=1"}
	args := make([]interface{}, 0, 5)

	appendFilter := func(column string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if f.UserID != nil {
		appendFilter("user_id", *f.UserID)
	}
	if f.Action != nil {
		appendFilter("action", *f.Action)
	}
	if f.Status != nil {
		appendFilter("status", *f.Status)
	}
	if f.StartDate != nil {
		args = append(args, *f.StartDate)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.EndDate != nil {
		args = append(args, *f.EndDate)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	return strings.Join(clauses, " AND "), args
}

// CreateEntry appends a new audit log entry and returns its assigned ID.
func (r *AuditRepository) CreateEntry(ctx context.Context, entry *models.AuditLogEntry) (int64, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_logs (user_id, action, description, status, old_value, new_value, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		entry.UserID,
		entry.Action,
		entry.Description,
		entry.Status,
		nullableJSON(entry.OldValue),
		nullableJSON(entry.NewValue),
		entry.IPAddress,
		entry.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	entry.ID = id
	return id, nil
}

// ListEntries retrieves audit log entries matching the filters. Order is "asc"
// or "desc" by (created_at, id); anything else defaults to "desc" so the most
// recent entries come first.
func (r *AuditRepository) ListEntries(ctx context.Context, filters AuditFilters, limit, offset int, order string) ([]*models.AuditLogEntry, error) {
	direction := "DESC"
	if strings.EqualFold(order, "asc") {
		direction = "ASC"
	}

	where, args := filters.whereClause()
	query := fmt.Sprintf(`
		SELECT id, user_id, action, description, status, old_value, new_value, ip_address, created_at
		FROM audit_logs
		WHERE %s
		ORDER BY created_at %s, id %s
		LIMIT $%d OFFSET $%d
	`, where, direction, direction, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	entries := make([]*models.AuditLogEntry, 0)
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, err
	}
	return entries, nil
}

// CountEntries returns the number of audit log entries matching the filters,
// mirroring ListEntries' filter semantics for pagination.
func (r *AuditRepository) CountEntries(ctx context.Context, filters AuditFilters) (int, error) {
	where, args := filters.whereClause()
	query := fmt.Sprintf(`SELECT COUNT(*) FROM audit_logs WHERE %s`, where)

	var total int
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		return 0, err
	}
	return total, nil
}

// ActorFailureCount is one actor's count of failed entries inside a lookback window.
type ActorFailureCount struct {
	UserID   *string `db:"user_id"`
	Failures int     `db:"failures"`
}

// CountRecentFailures returns, per actor, the number of "failed" entries created
// at or after since, keeping only actors at or above threshold. Anonymous actors
// are grouped together under a nil user_id.
func (r *AuditRepository) CountRecentFailures(ctx context.Context, since time.Time, threshold int) ([]ActorFailureCount, error) {
	query := `
		SELECT user_id, COUNT(*) AS failures
		FROM audit_logs
		WHERE status = 'failed' AND created_at >= $1
		GROUP BY user_id
		HAVING COUNT(*) >= $2
		ORDER BY failures DESC
	`

	counts := make([]ActorFailureCount, 0)
	if err := r.db.SelectContext(ctx, &counts, query, since, threshold); err != nil {
		return nil, err
	}
	return counts, nil
}

// nullableJSON maps an empty raw message to NULL so absent snapshots are stored
// as SQL NULL rather than the empty string, which JSONB would reject.
func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
