// Package models - audit_log.go defines the AuditLogEntry model for recording
// security-relevant events: who did what, whether it succeeded, and the before/after
// value snapshots for mutations. Entries are append-only and never updated.
package models

import (
	"encoding/json"
	"time"
)

// Audit entry statuses. Every logged event carries exactly one of these.
const (
	AuditStatusSuccess = "success"
	AuditStatusFailed  = "failed"
	AuditStatusWarning = "warning"
)

// AuditLogEntry represents one immutable audit log record.
// The ID is a monotonic sequence so entries have a total order that is stable
// even when two entries share a created_at timestamp.
type AuditLogEntry struct {
	ID          int64           `db:"id" json:"id"`
	UserID      *string         `db:"user_id" json:"user_id,omitempty"` // nil for anonymous/system actors
	Action      string          `db:"action" json:"action"`
	Description string          `db:"description" json:"description"`
	Status      string          `db:"status" json:"status"`
	OldValue    json.RawMessage `db:"old_value" json:"old_value,omitempty"`
	NewValue    json.RawMessage `db:"new_value" json:"new_value,omitempty"`
	IPAddress   *string         `db:"ip_address" json:"ip_address,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// ValidAuditStatus reports whether s is one of the defined audit statuses.
func ValidAuditStatus(s string) bool {
	return s == AuditStatusSuccess || s == AuditStatusFailed || s == AuditStatusWarning
}
