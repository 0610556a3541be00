// errors.go defines the typed errors the webhook registry surfaces to the API
// layer, which maps them to 4xx responses.
package webhook

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that the referenced webhook does not exist.
var ErrNotFound = errors.New("webhook not found")

// ValidationError reports a rejected registration or update. Field names the
// offending input so API responses can be field-specific.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
