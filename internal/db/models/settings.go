// settings.go defines the admin-panel settings document. Settings are stored as a
// single JSONB document per named profile; the service only ever reads and replaces
// the document wholesale, diffing old vs new for the audit trail.
package models

import (
	"encoding/json"
	"time"
)

// DefaultSettingsName is the profile used when the API caller does not name one.
const DefaultSettingsName = "default"

// Settings holds one named settings document.
type Settings struct {
	Name      string          `db:"name" json:"name"`
	Data      json.RawMessage `db:"data" json:"data"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// ChangedFields returns the keys whose values differ between two settings
// documents, in no particular order. Invalid JSON on either side yields nil;
// callers use the result only to enrich webhook payloads, so best-effort is fine.
func ChangedFields(oldDoc, newDoc json.RawMessage) []string {
	var oldM, newM map[string]json.RawMessage
	if err := json.Unmarshal(oldDoc, &oldM); err != nil {
		return nil
	}
	if err := json.Unmarshal(newDoc, &newM); err != nil {
		return nil
	}

	var changed []string
	for k, nv := range newM {
		ov, ok := oldM[k]
		if !ok || string(ov) != string(nv) {
			changed = append(changed, k)
		}
	}
	for k := range oldM {
		if _, ok := newM[k]; !ok {
			changed = append(changed, k)
		}
	}
	return changed
}
