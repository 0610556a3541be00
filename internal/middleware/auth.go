// Package middleware provides Gin HTTP middleware for authentication,
// per-action rate limiting, global request throttling, and security headers.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → Throttle → Auth → RateLimit → Handler
//
// Security headers run first so they appear on all responses including errors.
// The global throttle runs before auth to shed abusive traffic before any
// crypto or DB work. Auth populates the actor identity; the per-action rate
// limiter reads it from context, so it must run after auth.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/adminguard/adminguard/internal/audit"
	"github.com/adminguard/adminguard/internal/auth"
	"github.com/adminguard/adminguard/internal/db/models"
)

// Context keys populated by Authenticate.
const (
	UserIDKey  = "user_id"
	IsAdminKey = "is_admin"
)

// Authenticate resolves the actor identity from the Authorization header.
//
// Requests without an Authorization header proceed anonymously: the rate
// limiter then keys on client IP only, and handlers that need an identity
// guard themselves with RequireAuth. A header that is present but invalid is
// rejected outright, so a caller can never downgrade to anonymous by sending
// a bad token.
//
// Two credential kinds are accepted: JWTs (stateless verification) and admin
// tokens (bcrypt comparison against the configured hash). adminTokenHash may
// be empty when no admin token is provisioned.
//
// Rejected credentials are recorded as auth.failed audit entries when auditLog
// is non-nil; repeated failures from one source feed the suspicious-activity
// scan.
func Authenticate(adminTokenHash string, auditLog *audit.SecurityLogger) gin.HandlerFunc {
	logFailure := func(c *gin.Context, description string) {
		if auditLog == nil {
			return
		}
		auditLog.LogEvent(c.Request.Context(), audit.ActionAuthFailed, description,
			audit.EventContext{
				Status: models.AuditStatusFailed,
				IP:     c.ClientIP(),
			})
	}

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		token, err := auth.ExtractBearerToken(header)
		if err != nil {
			logFailure(c, "malformed authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
			})
			return
		}

		if auth.IsAdminToken(token) {
			if adminTokenHash == "" || !auth.ValidateAdminToken(token, adminTokenHash) {
				logFailure(c, "invalid admin token")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid admin token",
				})
				return
			}
			c.Set(UserIDKey, "admin")
			c.Set(IsAdminKey, true)
			c.Set("auth_method", "admin_token")
			c.Next()
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			logFailure(c, "invalid or expired token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(IsAdminKey, claims.Admin)
		c.Set("auth_method", "jwt")
		c.Next()
	}
}

// RequireAuth aborts with 401 when no authenticated identity is present.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUserID(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin aborts with 403 when the authenticated identity is not an admin.
// Register after RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		isAdmin, _ := c.Get(IsAdminKey)
		if admin, ok := isAdmin.(bool); !ok || !admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Admin privileges required",
			})
			return
		}
		c.Next()
	}
}

// CurrentUserID returns the authenticated user ID, or "" for anonymous requests.
func CurrentUserID(c *gin.Context) string {
	if v, exists := c.Get(UserIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
