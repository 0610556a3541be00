// events.go defines the closed registry of event types webhooks may subscribe
// to. Subscriptions are validated against this set at registration time so an
// unsupported event string is rejected up front instead of silently never
// firing.
package webhook

// Supported event types, versioned with the API. Adding an entry here is a
// backward-compatible change; removing one is not.
const (
	EventSettingsUpdated    = "settings.updated"
	EventSettingsReset      = "settings.reset"
	EventThemeApplied       = "theme.applied"
	EventBackupCreated      = "backup.created"
	EventBackupRestored     = "backup.restored"
	EventImportCompleted    = "import.completed"
	EventSuspiciousActivity = "security.suspicious_activity"
)

// EventWebhookTest is the event type of operator-initiated test deliveries.
// It is not subscribable; test deliveries target one webhook directly.
const EventWebhookTest = "webhook.test"

var supportedEvents = map[string]struct{}{
	EventSettingsUpdated:    {},
	EventSettingsReset:      {},
	EventThemeApplied:       {},
	EventBackupCreated:      {},
	EventBackupRestored:     {},
	EventImportCompleted:    {},
	EventSuspiciousActivity: {},
}

// SupportedEvents returns the event-type registry in a stable order.
func SupportedEvents() []string {
	return []string{
		EventSettingsUpdated,
		EventSettingsReset,
		EventThemeApplied,
		EventBackupCreated,
		EventBackupRestored,
		EventImportCompleted,
		EventSuspiciousActivity,
	}
}

// EventSupported reports whether eventType is in the registry.
func EventSupported(eventType string) bool {
	_, ok := supportedEvents[eventType]
	return ok
}
