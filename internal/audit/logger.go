// Package audit records security-relevant events into an append-only log and
// offers threshold heuristics over recent entries. Audit records are kept
// separate from application logs because they have different consumers and
// retention: application logs are ephemeral debug output, audit entries are
// immutable records that security teams query after the fact.
//
// Writes are asynchronous and non-fatal: entries are persisted on background
// goroutines, and a failure to persist one is reported to slog and to a
// Prometheus counter but never to the caller, so an unavailable audit store
// can degrade observability without failing or slowing the mutation being
// audited.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adminguard/adminguard/internal/db/models"
	"github.com/adminguard/adminguard/internal/db/repositories"
	"github.com/adminguard/adminguard/internal/safego"
	"github.com/adminguard/adminguard/internal/telemetry"
)

// Event action names recognized by the logger. Loggable actions are a closed
// set so a mistyped action cannot silently create a new audit category.
const (
	ActionSettingsSaved      = "settings.saved"
	ActionSettingsReset      = "settings.reset"
	ActionThemeApplied       = "theme.applied"
	ActionBackupCreated      = "backup.created"
	ActionBackupRestored     = "backup.restored"
	ActionImportCompleted    = "import.completed"
	ActionWebhookRegistered  = "webhook.registered"
	ActionWebhookUpdated     = "webhook.updated"
	ActionWebhookDeleted     = "webhook.deleted"
	ActionRateLimitExceeded  = "rate_limit.exceeded"
	ActionRateLimitReset     = "rate_limit.reset"
	ActionAuthFailed         = "auth.failed"
	ActionSuspiciousActivity = "security.suspicious_activity"
)

var eventTypes = []string{
	ActionSettingsSaved,
	ActionSettingsReset,
	ActionThemeApplied,
	ActionBackupCreated,
	ActionBackupRestored,
	ActionImportCompleted,
	ActionWebhookRegistered,
	ActionWebhookUpdated,
	ActionWebhookDeleted,
	ActionRateLimitExceeded,
	ActionRateLimitReset,
	ActionAuthFailed,
	ActionSuspiciousActivity,
}

// writeTimeout bounds the audit insert so a stalled database cannot hold up
// the request path that triggered the event.
const writeTimeout = 5 * time.Second

// EventContext carries the optional details of a logged event.
type EventContext struct {
	Status   string          // one of models.AuditStatus*; empty defaults to success
	OldValue json.RawMessage // pre-mutation snapshot, if any
	NewValue json.RawMessage // post-mutation snapshot, if any
	UserID   *string         // acting user; nil for anonymous/system
	IP       string          // originating client IP, if known
}

// Config holds the tunables for suspicious-activity detection.
type Config struct {
	// Lookback is how far back CheckSuspiciousActivity scans.
	Lookback time.Duration
	// FailureThreshold is the number of failed entries by one actor inside the
	// lookback window that flags the actor.
	FailureThreshold int
}

// DefaultConfig returns the built-in detection thresholds.
func DefaultConfig() Config {
	return Config{
		Lookback:         15 * time.Minute,
		FailureThreshold: 5,
	}
}

// SecurityLogger appends audit entries and evaluates activity heuristics.
type SecurityLogger struct {
	repo    *repositories.AuditRepository
	shipper Shipper // optional external forwarding; may be nil
	cfg     Config
	now     func() time.Time
	writes  sync.WaitGroup
}

// NewSecurityLogger creates a SecurityLogger over the given repository.
// shipper may be nil when no external forwarding is configured.
func NewSecurityLogger(repo *repositories.AuditRepository, shipper Shipper, cfg Config) *SecurityLogger {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultConfig().Lookback
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	return &SecurityLogger{repo: repo, shipper: shipper, cfg: cfg, now: time.Now}
}

// LogEvent appends an audit entry. The write and any shipper forwarding happen
// on a background goroutine with a bounded timeout, so a slow or unavailable
// audit store never delays the mutation being audited. Failures are swallowed:
// the error is logged and the failure counter is incremented, never returned.
func (l *SecurityLogger) LogEvent(ctx context.Context, action, description string, evtCtx EventContext) {
	status := evtCtx.Status
	if status == "" {
		status = models.AuditStatusSuccess
	}
	if !models.ValidAuditStatus(status) {
		slog.Warn("audit: invalid status, coerced to warning", "action", action, "status", status)
		status = models.AuditStatusWarning
	}

	entry := &models.AuditLogEntry{
		UserID:      evtCtx.UserID,
		Action:      action,
		Description: description,
		Status:      status,
		OldValue:    evtCtx.OldValue,
		NewValue:    evtCtx.NewValue,
		CreatedAt:   l.now().UTC(),
	}
	if evtCtx.IP != "" {
		ip := evtCtx.IP
		entry.IPAddress = &ip
	}

	// Detach from the request context: the caller finishing (or failing) must
	// not cancel the audit write mid-flight.
	detached := context.WithoutCancel(ctx)

	l.writes.Add(1)
	safego.Go(func() {
		defer l.writes.Done()

		writeCtx, cancel := context.WithTimeout(detached, writeTimeout)
		defer cancel()

		if _, err := l.repo.CreateEntry(writeCtx, entry); err != nil {
			telemetry.AuditWriteFailures.Inc()
			slog.Error("audit: failed to write entry", "action", action, "error", err)
			return
		}
		telemetry.AuditEntriesTotal.WithLabelValues(status).Inc()

		if l.shipper != nil {
			if err := l.shipper.Ship(writeCtx, entry); err != nil {
				slog.Warn("audit: failed to ship entry", "action", action, "error", err)
			}
		}
	})
}

// Wait blocks until all in-flight audit writes have completed. Call during
// graceful shutdown so queued entries are not lost with the process.
func (l *SecurityLogger) Wait() {
	l.writes.Wait()
}

// GetAuditLog lists entries matching the filters; order is "asc" or "desc"
// (default desc, most recent first).
func (l *SecurityLogger) GetAuditLog(ctx context.Context, filters repositories.AuditFilters, limit, offset int, order string) ([]*models.AuditLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return l.repo.ListEntries(ctx, filters, limit, offset, order)
}

// GetAuditLogCount mirrors GetAuditLog's filter semantics for pagination.
func (l *SecurityLogger) GetAuditLogCount(ctx context.Context, filters repositories.AuditFilters) (int, error) {
	return l.repo.CountEntries(ctx, filters)
}

// SuspicionReport is the result of a suspicious-activity scan.
type SuspicionReport struct {
	IsSuspicious bool     `json:"is_suspicious"`
	Reasons      []string `json:"reasons"`
}

// CheckSuspiciousActivity scans the lookback window for actors with repeated
// failed entries. It is a best-effort signal: false positives and negatives
// are acceptable, so storage errors surface to the caller rather than being
// folded into a "not suspicious" answer.
func (l *SecurityLogger) CheckSuspiciousActivity(ctx context.Context) (*SuspicionReport, error) {
	since := l.now().Add(-l.cfg.Lookback)
	counts, err := l.repo.CountRecentFailures(ctx, since, l.cfg.FailureThreshold)
	if err != nil {
		return nil, fmt.Errorf("audit: suspicious activity scan: %w", err)
	}

	report := &SuspicionReport{Reasons: []string{}}
	for _, c := range counts {
		actor := "anonymous"
		if c.UserID != nil {
			actor = "user " + *c.UserID
		}
		report.Reasons = append(report.Reasons,
			fmt.Sprintf("%d failed actions by %s within %s", c.Failures, actor, l.cfg.Lookback))
	}
	report.IsSuspicious = len(report.Reasons) > 0
	return report, nil
}

// EventTypes returns the known audit action names for API discovery.
func (l *SecurityLogger) EventTypes() []string {
	out := make([]string, len(eventTypes))
	copy(out, eventTypes)
	return out
}
