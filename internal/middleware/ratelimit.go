// ratelimit.go provides Gin middleware that enforces per-actor, per-action
// rate limits, returning 429 responses with Retry-After when a window is
// exhausted. Limit state lives in the ratelimit package stores; this file only
// adapts HTTP requests onto limiter checks.
package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/adminguard/adminguard/internal/audit"
	"github.com/adminguard/adminguard/internal/ratelimit"
	"github.com/adminguard/adminguard/internal/telemetry"
)

// RateLimit enforces the named action's rate limit for the requesting actor.
// The user scope keys on the authenticated user ID, so register after
// Authenticate; anonymous requests are limited by client IP alone.
//
// Exceeded limits are recorded in the audit log when auditLog is non-nil.
// Limiter storage failures fail open: blocking every admin operation because
// the counter store is down is worse than briefly losing rate enforcement.
func RateLimit(limiter *ratelimit.Limiter, action string, auditLog *audit.SecurityLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := CurrentUserID(c)
		ip := c.ClientIP()

		err := limiter.Check(c.Request.Context(), action, userID, ip)
		telemetry.RateLimitChecksTotal.WithLabelValues(action).Inc()

		if err == nil {
			setRateLimitHeaders(c, limiter, action, userID, ip)
			c.Next()
			return
		}

		var exceeded *ratelimit.LimitExceededError
		if !errors.As(err, &exceeded) {
			telemetry.RateLimitStoreErrors.Inc()
			c.Next()
			return
		}

		telemetry.RateLimitRejections.WithLabelValues(action, exceeded.Scope).Inc()
		if auditLog != nil {
			evtCtx := audit.EventContext{Status: "warning", IP: ip}
			if userID != "" {
				evtCtx.UserID = &userID
			}
			auditLog.LogEvent(c.Request.Context(), audit.ActionRateLimitExceeded,
				"rate limit exceeded for action "+action, evtCtx)
		}

		c.Header("Retry-After", strconv.Itoa(exceeded.RetryAfter))
		c.Header("X-RateLimit-Limit", strconv.Itoa(exceeded.Limit))
		c.Header("X-RateLimit-Remaining", "0")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "Rate limit exceeded",
			"action":      action,
			"retry_after": exceeded.RetryAfter,
		})
	}
}

// setRateLimitHeaders annotates allowed responses with the current window
// usage. Best-effort: a status read failure leaves the headers off.
func setRateLimitHeaders(c *gin.Context, limiter *ratelimit.Limiter, action, userID, ip string) {
	status, err := limiter.GetStatus(c.Request.Context(), action, userID, ip)
	if err != nil {
		return
	}

	remaining := status.IP.Remaining
	if userID != "" && status.User.Remaining < remaining {
		remaining = status.User.Remaining
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(status.Limit))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
}
