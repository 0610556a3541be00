// Package webhooks implements the webhook subscription management API. It is a
// thin HTTP layer over the webhook service: validation and persistence live in
// the service, this package maps its typed errors onto status codes.
package webhooks

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/adminguard/adminguard/internal/audit"
	"github.com/adminguard/adminguard/internal/db/models"
	"github.com/adminguard/adminguard/internal/db/repositories"
	"github.com/adminguard/adminguard/internal/middleware"
	"github.com/adminguard/adminguard/internal/webhook"
)

// Handler serves the webhook management endpoints.
type Handler struct {
	service  *webhook.Service
	auditLog *audit.SecurityLogger
}

// NewHandler creates a webhooks Handler.
func NewHandler(service *webhook.Service, auditLog *audit.SecurityLogger) *Handler {
	return &Handler{service: service, auditLog: auditLog}
}

// auditMutation records a webhook CRUD operation. Registering or repointing a
// delivery URL changes where event payloads flow, so these mutations land in
// the audit trail alongside settings changes.
func (h *Handler) auditMutation(c *gin.Context, action, description string, hook *models.Webhook) {
	evtCtx := audit.EventContext{IP: c.ClientIP()}
	if id := middleware.CurrentUserID(c); id != "" {
		evtCtx.UserID = &id
	}
	if hook != nil {
		// Webhook marshaling omits the secret.
		if snapshot, err := json.Marshal(hook); err == nil {
			evtCtx.NewValue = snapshot
		}
	}
	h.auditLog.LogEvent(c.Request.Context(), action, description, evtCtx)
}

// writeServiceError maps webhook service errors onto HTTP responses.
func writeServiceError(c *gin.Context, err error) {
	var verr *webhook.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message, "field": verr.Field})
	case errors.Is(err, webhook.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Webhook not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook operation failed"})
	}
}

type registerRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

// Register creates a webhook subscription. The signing secret is included in
// this response only; subsequent reads never expose it.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	created, err := h.service.Register(c.Request.Context(), req.URL, req.Events, req.Secret)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	h.auditMutation(c, audit.ActionWebhookRegistered, "webhook registered for "+created.URL, created)

	c.JSON(http.StatusCreated, gin.H{
		"webhook": created,
		"secret":  created.Secret,
	})
}

// List returns registered webhooks. Pass active=true to exclude deactivated
// subscriptions.
func (h *Handler) List(c *gin.Context) {
	activeOnly := c.Query("active") == "true"

	hooks, err := h.service.List(c.Request.Context(), activeOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list webhooks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"webhooks": hooks,
		"count":    len(hooks),
	})
}

// Get returns one webhook by ID.
func (h *Handler) Get(c *gin.Context) {
	hook, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhook": hook})
}

type updateRequest struct {
	URL    *string  `json:"url"`
	Events []string `json:"events"`
	Active *bool    `json:"active"`
}

// Update applies a partial update; omitted fields are unchanged.
func (h *Handler) Update(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	updated, err := h.service.Update(c.Request.Context(), c.Param("id"), repositories.WebhookUpdate{
		URL:    req.URL,
		Events: req.Events,
		Active: req.Active,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	h.auditMutation(c, audit.ActionWebhookUpdated, "webhook "+updated.ID+" updated", updated)

	c.JSON(http.StatusOK, gin.H{"webhook": updated})
}

// Delete removes a webhook subscription. Delivery history is retained.
func (h *Handler) Delete(c *gin.Context) {
	deleted, err := h.service.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Webhook not found"})
		return
	}

	h.auditMutation(c, audit.ActionWebhookDeleted, "webhook "+c.Param("id")+" deleted", nil)

	c.Status(http.StatusNoContent)
}

// Deliveries lists a webhook's delivery history, newest first. History is
// queryable even after the webhook itself is deleted.
func (h *Handler) Deliveries(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	deliveries, err := h.service.DeliveryHistory(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list deliveries"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deliveries": deliveries,
		"count":      len(deliveries),
	})
}

// Events returns the subscribable event types.
func (h *Handler) Events(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": h.service.SupportedEvents()})
}

// Test queues one test delivery to the webhook and returns 202; the outcome is
// visible in the delivery history once a worker has attempted it.
func (h *Handler) Test(c *gin.Context) {
	delivery, err := h.service.SendTest(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"delivery_id": delivery.ID,
		"status":      delivery.Status,
	})
}
