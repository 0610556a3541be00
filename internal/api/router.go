// Package api wires together all HTTP routes for the AdminGuard service.
//
// Route grouping philosophy:
//   - /healthz, /health, /ready and /version are unauthenticated probes.
//   - Everything under /api/v1/ passes Authenticate: requests without
//     credentials proceed as anonymous (rate limited by IP only), invalid
//     credentials are rejected outright.
//   - Mutating endpoints require an authenticated caller; rate-limit reset and
//     webhook test additionally require admin.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/adminguard/adminguard/internal/api/security"
	"github.com/adminguard/adminguard/internal/api/settings"
	"github.com/adminguard/adminguard/internal/api/webhooks"
	"github.com/adminguard/adminguard/internal/audit"
	"github.com/adminguard/adminguard/internal/config"
	"github.com/adminguard/adminguard/internal/db/repositories"
	"github.com/adminguard/adminguard/internal/jobs"
	"github.com/adminguard/adminguard/internal/middleware"
	"github.com/adminguard/adminguard/internal/ratelimit"
	"github.com/adminguard/adminguard/internal/webhook"
)

// Version is the service version reported by /version. Overridden at build
// time via -ldflags.
var Version = "0.1.0"

// BackgroundServices holds references to background goroutines that must be
// stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	dispatcher *webhook.Dispatcher
	retryJob   *jobs.DeliveryRetryJob
	pruneJob   *jobs.CounterPruneJob
	auditLog   *audit.SecurityLogger
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.retryJob != nil {
		bg.retryJob.Stop()
	}
	if bg.pruneJob != nil {
		bg.pruneJob.Stop()
	}
	if bg.dispatcher != nil {
		bg.dispatcher.Stop()
	}
	if bg.auditLog != nil {
		bg.auditLog.Wait()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router and starts the delivery
// workers and maintenance jobs. rdb may be nil when Redis is disabled; rate
// limit counters then live in process memory and the global throttle is
// skipped.
func NewRouter(cfg *config.Config, db *sqlx.DB, rdb redis.UniversalClient) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()

	// Repositories
	settingsRepo := repositories.NewSettingsRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	webhookRepo := repositories.NewWebhookRepository(db)

	// Audit log with optional external shipping
	shipper, err := audit.NewMultiShipper(shipperConfigs(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("audit shipper: %w", err)
	}
	auditLog := audit.NewSecurityLogger(auditRepo, shipper, audit.Config{
		Lookback:         cfg.Audit.Lookback,
		FailureThreshold: cfg.Audit.FailureThreshold,
	})

	// Rate limit counters: Redis when available, in-process otherwise
	var store ratelimit.CounterStore
	var pruneJob *jobs.CounterPruneJob
	if rdb != nil {
		store = ratelimit.NewRedisStore(rdb, "ratelimit")
	} else {
		memStore := ratelimit.NewMemoryStore()
		pruneJob = jobs.NewCounterPruneJob(memStore, cfg.RateLimit.PruneInterval)
		go pruneJob.Start(context.Background())
		store = memStore
	}
	limiter := ratelimit.NewLimiter(store, policyOverrides(cfg))

	// Webhook delivery pipeline
	dispatcher := webhook.NewDispatcher(webhookRepo, webhook.DispatcherConfig{
		Workers:     cfg.Webhook.Workers,
		QueueSize:   cfg.Webhook.QueueSize,
		MaxAttempts: cfg.Webhook.MaxAttempts,
		Timeout:     cfg.Webhook.Timeout,
		BackoffBase: cfg.Webhook.BackoffBase,
		BackoffCap:  cfg.Webhook.BackoffCap,
	})
	dispatcher.Start(context.Background())
	webhookService := webhook.NewService(webhookRepo, dispatcher)

	retryJob := jobs.NewDeliveryRetryJob(webhookRepo, dispatcher, cfg.Webhook.RetryInterval, cfg.Webhook.RetryBatchSize)
	go retryJob.Start(context.Background())

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	if rdb != nil && cfg.Security.Throttle.Enabled {
		router.Use(middleware.Throttle(rdb, middleware.ThrottleConfig{
			RequestsPerMinute: cfg.Security.Throttle.RequestsPerMinute,
			Burst:             cfg.Security.Throttle.Burst,
		}))
	}

	// Probes
	router.GET("/healthz", healthCheckHandler(db))
	router.GET("/health", healthCheckHandler(db))
	router.GET("/version", versionHandler())

	// Handlers
	settingsHandler := settings.NewHandler(settingsRepo, auditLog, webhookService)
	securityHandler := security.NewHandler(auditLog, limiter, webhookService)
	webhooksHandler := webhooks.NewHandler(webhookService, auditLog)

	apiV1 := router.Group("/api/v1")
	apiV1.Use(middleware.Authenticate(cfg.Auth.AdminTokenHash, auditLog))
	{
		apiV1.GET("/settings",
			middleware.RateLimit(limiter, ratelimit.DefaultAction, auditLog),
			settingsHandler.Get)
		apiV1.PUT("/settings",
			middleware.RequireAuth(),
			middleware.RateLimit(limiter, ratelimit.ActionSettingsSave, auditLog),
			settingsHandler.Update)
		apiV1.POST("/settings/reset",
			middleware.RequireAuth(),
			middleware.RateLimit(limiter, ratelimit.ActionSettingsSave, auditLog),
			settingsHandler.Reset)

		securityGroup := apiV1.Group("/security")
		securityGroup.Use(middleware.RequireAuth())
		securityGroup.Use(middleware.RateLimit(limiter, ratelimit.DefaultAction, auditLog))
		{
			securityGroup.GET("/audit-log", securityHandler.ListAuditLog)
			securityGroup.GET("/audit-log/count", securityHandler.CountAuditLog)
			securityGroup.GET("/suspicious-activity", securityHandler.SuspiciousActivity)
			securityGroup.GET("/event-types", securityHandler.EventTypes)
			securityGroup.GET("/rate-limit/status", securityHandler.RateLimitStatus)
			securityGroup.POST("/rate-limit/reset",
				middleware.RequireAdmin(),
				securityHandler.ResetRateLimit)
		}

		webhookGroup := apiV1.Group("/webhooks")
		webhookGroup.Use(middleware.RequireAuth())
		webhookGroup.Use(middleware.RateLimit(limiter, ratelimit.DefaultAction, auditLog))
		{
			webhookGroup.GET("", webhooksHandler.List)
			webhookGroup.POST("", webhooksHandler.Register)
			webhookGroup.GET("/events", webhooksHandler.Events)
			webhookGroup.GET("/:id", webhooksHandler.Get)
			webhookGroup.PUT("/:id", webhooksHandler.Update)
			webhookGroup.DELETE("/:id", webhooksHandler.Delete)
			webhookGroup.GET("/:id/deliveries", webhooksHandler.Deliveries)
			webhookGroup.POST("/:id/test",
				middleware.RequireAdmin(),
				webhooksHandler.Test)
		}
	}

	return router, &BackgroundServices{
		dispatcher: dispatcher,
		retryJob:   retryJob,
		pruneJob:   pruneJob,
		auditLog:   auditLog,
	}, nil
}

// policyOverrides converts configured per-action limits into policy entries.
func policyOverrides(cfg *config.Config) map[string]ratelimit.Policy {
	overrides := make(map[string]ratelimit.Policy, len(cfg.RateLimit.Actions))
	for action, p := range cfg.RateLimit.Actions {
		overrides[action] = ratelimit.Policy{Limit: p.Limit, Window: p.Window}
	}
	return overrides
}

// shipperConfigs converts the audit shipper configuration into the audit
// package's config type.
func shipperConfigs(cfg *config.Config) []audit.ShipperConfig {
	out := make([]audit.ShipperConfig, 0, len(cfg.Audit.Shippers))
	for _, s := range cfg.Audit.Shippers {
		out = append(out, audit.ShipperConfig{
			Enabled: s.Enabled,
			Type:    s.Type,
			URL:     s.URL,
			Headers: s.Headers,
			Timeout: s.Timeout,
			Path:    s.Path,
		})
	}
	return out
}

// healthCheckHandler returns the health status of the service.
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version.
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS for the configured origins.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
