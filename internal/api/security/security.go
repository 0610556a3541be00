// Package security implements the audit-log and rate-limit inspection API.
// Read endpoints require an authenticated caller; the rate-limit reset
// endpoint additionally requires admin privileges, enforced in the router.
package security

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/adminguard/adminguard/internal/audit"
	"github.com/adminguard/adminguard/internal/db/repositories"
	"github.com/adminguard/adminguard/internal/middleware"
	"github.com/adminguard/adminguard/internal/ratelimit"
	"github.com/adminguard/adminguard/internal/webhook"
)

// Handler serves the security inspection endpoints.
type Handler struct {
	auditLog *audit.SecurityLogger
	limiter  *ratelimit.Limiter
	webhooks *webhook.Service
}

// NewHandler creates a security Handler. webhooks may be nil to disable the
// suspicious-activity event fan-out.
func NewHandler(auditLog *audit.SecurityLogger, limiter *ratelimit.Limiter, webhooks *webhook.Service) *Handler {
	return &Handler{auditLog: auditLog, limiter: limiter, webhooks: webhooks}
}

// auditFilters parses the shared filter query parameters.
func auditFilters(c *gin.Context) (repositories.AuditFilters, bool) {
	var filters repositories.AuditFilters

	if v := c.Query("user_id"); v != "" {
		filters.UserID = &v
	}
	if v := c.Query("action"); v != "" {
		filters.Action = &v
	}
	if v := c.Query("status"); v != "" {
		filters.Status = &v
	}
	for param, dst := range map[string]**time.Time{
		"start_date": &filters.StartDate,
		"end_date":   &filters.EndDate,
	} {
		v := c.Query(param)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": param + " must be an RFC 3339 timestamp",
			})
			return filters, false
		}
		*dst = &ts
	}
	return filters, true
}

// ListAuditLog returns audit entries matching the query filters.
func (h *Handler) ListAuditLog(c *gin.Context) {
	filters, ok := auditFilters(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	order := c.DefaultQuery("order", "desc")

	entries, err := h.auditLog.GetAuditLog(c.Request.Context(), filters, limit, offset, order)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load audit log"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// CountAuditLog returns the number of entries matching the query filters,
// mirroring ListAuditLog's filter semantics for pagination.
func (h *Handler) CountAuditLog(c *gin.Context) {
	filters, ok := auditFilters(c)
	if !ok {
		return
	}

	count, err := h.auditLog.GetAuditLogCount(c.Request.Context(), filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count audit log"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

// SuspiciousActivity runs the failure-burst heuristics over the lookback
// window. A positive finding fans out as a security.suspicious_activity event
// so subscribers hear about it without polling this endpoint.
func (h *Handler) SuspiciousActivity(c *gin.Context) {
	report, err := h.auditLog.CheckSuspiciousActivity(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Suspicious activity scan failed"})
		return
	}

	if report.IsSuspicious && h.webhooks != nil {
		_, _ = h.webhooks.Trigger(c.Request.Context(), webhook.EventSuspiciousActivity, map[string]interface{}{
			"reasons": report.Reasons,
		})
	}

	c.JSON(http.StatusOK, report)
}

// EventTypes returns the known audit action names.
func (h *Handler) EventTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"event_types": h.auditLog.EventTypes()})
}

// RateLimitStatus reports the caller's current standing for an action without
// consuming budget.
func (h *Handler) RateLimitStatus(c *gin.Context) {
	action := c.Query("action")
	if action == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action query parameter is required"})
		return
	}

	status, err := h.limiter.GetStatus(c.Request.Context(), action, middleware.CurrentUserID(c), c.ClientIP())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read rate limit status"})
		return
	}

	c.JSON(http.StatusOK, status)
}

// resetRequest is the body of a rate-limit reset call.
type resetRequest struct {
	Scope   string `json:"scope" binding:"required"`
	ActorID string `json:"actor_id" binding:"required"`
	Action  string `json:"action" binding:"required"`
}

// ResetRateLimit clears one actor's counter for an action. Admin only; the
// reset itself is audited so operator interventions leave a trail.
func (h *Handler) ResetRateLimit(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope, actor_id and action are required"})
		return
	}

	if err := h.limiter.Reset(c.Request.Context(), req.Scope, req.ActorID, req.Action); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.auditLog.LogEvent(c.Request.Context(), audit.ActionRateLimitReset,
		"rate limit counter reset for "+req.Scope+":"+req.ActorID+" action "+req.Action,
		audit.EventContext{
			UserID: actorPtr(c),
			IP:     c.ClientIP(),
		})

	c.JSON(http.StatusOK, gin.H{"reset": true})
}

func actorPtr(c *gin.Context) *string {
	if id := middleware.CurrentUserID(c); id != "" {
		return &id
	}
	return nil
}
