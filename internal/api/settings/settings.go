// Package settings implements the admin settings document API. The settings
// endpoints are the reference consumers of the full protection pipeline: every
// mutation passes the per-action rate limiter, is recorded in the audit log,
// and fans out a webhook event to subscribers.
package settings

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/adminguard/adminguard/internal/audit"
	"github.com/adminguard/adminguard/internal/db/models"
	"github.com/adminguard/adminguard/internal/db/repositories"
	"github.com/adminguard/adminguard/internal/middleware"
	"github.com/adminguard/adminguard/internal/webhook"
	"github.com/gin-gonic/gin"
)

// maxSettingsBytes bounds the accepted settings document size.
const maxSettingsBytes = 1 << 20 // 1 MiB

// Handler serves the settings document endpoints.
type Handler struct {
	repo     *repositories.SettingsRepository
	auditLog *audit.SecurityLogger
	webhooks *webhook.Service
}

// NewHandler creates a settings Handler.
func NewHandler(repo *repositories.SettingsRepository, auditLog *audit.SecurityLogger, webhooks *webhook.Service) *Handler {
	return &Handler{repo: repo, auditLog: auditLog, webhooks: webhooks}
}

// Get returns the current settings document. A profile that was never saved
// returns an empty document rather than 404 so clients can treat first-run and
// reset states identically.
func (h *Handler) Get(c *gin.Context) {
	settings, err := h.repo.GetSettings(c.Request.Context(), models.DefaultSettingsName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load settings"})
		return
	}

	data := json.RawMessage(`{}`)
	if settings != nil {
		data = settings.Data
	}
	c.JSON(http.StatusOK, gin.H{"settings": data})
}

// Update replaces the settings document wholesale. The body must be a JSON
// object; partial updates are a client-side concern.
func (h *Handler) Update(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSettingsBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}
	if len(body) > maxSettingsBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Settings document too large"})
		return
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Settings document must be a JSON object"})
		return
	}

	previous, err := h.repo.SaveSettings(c.Request.Context(), models.DefaultSettingsName, body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save settings"})
		return
	}

	h.auditLog.LogEvent(c.Request.Context(), audit.ActionSettingsSaved, "settings document updated",
		audit.EventContext{
			OldValue: previous,
			NewValue: body,
			UserID:   actorPtr(c),
			IP:       c.ClientIP(),
		})

	changed := models.ChangedFields(previous, body)
	if previous == nil {
		changed = keysOf(doc)
	}
	// Trigger failures are delivery-side; the save already succeeded.
	_, _ = h.webhooks.Trigger(c.Request.Context(), webhook.EventSettingsUpdated, map[string]interface{}{
		"changed_fields": changed,
	})

	c.JSON(http.StatusOK, gin.H{"saved": true, "changed_fields": changed})
}

// Reset deletes the settings document, reverting to defaults.
func (h *Handler) Reset(c *gin.Context) {
	previous, err := h.repo.DeleteSettings(c.Request.Context(), models.DefaultSettingsName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset settings"})
		return
	}

	h.auditLog.LogEvent(c.Request.Context(), audit.ActionSettingsReset, "settings document reset to defaults",
		audit.EventContext{
			OldValue: previous,
			UserID:   actorPtr(c),
			IP:       c.ClientIP(),
		})

	_, _ = h.webhooks.Trigger(c.Request.Context(), webhook.EventSettingsReset, map[string]interface{}{})

	c.JSON(http.StatusOK, gin.H{"reset": true})
}

func actorPtr(c *gin.Context) *string {
	if id := middleware.CurrentUserID(c); id != "" {
		return &id
	}
	return nil
}

func keysOf(doc map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	return keys
}
