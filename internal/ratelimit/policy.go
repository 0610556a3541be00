// policy.go defines the static action → (limit, window) table that governs the
// per-action rate limits. Unrecognized action names fall back to DefaultAction
// so a typo in a caller can never bypass limiting entirely.
package ratelimit

import "time"

// DefaultAction is the policy applied to any action without an explicit entry.
const DefaultAction = "default"

// Well-known rate-limited actions.
const (
	ActionSettingsSave = "settings_save"
	ActionBackupCreate = "backup_create"
	ActionImport       = "import"
	ActionThemeApply   = "theme_apply"
)

// Policy is one action's limit over a rolling window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// DefaultPolicies returns the built-in policy table. Deployments can override
// individual entries via configuration; entries not overridden keep these values.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		DefaultAction:      {Limit: 60, Window: time.Minute},
		ActionSettingsSave: {Limit: 10, Window: time.Minute},
		ActionBackupCreate: {Limit: 5, Window: time.Minute},
		ActionImport:       {Limit: 3, Window: time.Minute},
		ActionThemeApply:   {Limit: 10, Window: time.Minute},
	}
}

// policyTable resolves actions to policies with the default fallback.
type policyTable map[string]Policy

func (t policyTable) lookup(action string) Policy {
	if p, ok := t[action]; ok {
		return p
	}
	return t[DefaultAction]
}
