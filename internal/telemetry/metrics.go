// Package telemetry provides application-level observability for AdminGuard.
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<AG_TELEMETRY_METRICS_PORT>/metrics
//
// Default port: 9090. The endpoint is not part of the Gin router, which keeps
// the scrape path off the public ingress and out of the rate-limiting chain.
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/webhooks/:id)
// rather than the raw URL to prevent unbounded label cardinality from
// user-supplied path segments.
package telemetry

import (
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Rate-limit metrics.
//
// RateLimitRejections counts checks rejected per action and scope; a sudden
// spike on one action usually means a client is stuck in a retry loop.
// Example PromQL: sum by (action) (rate(ratelimit_rejections_total[5m]))
var (
	RateLimitChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_checks_total",
			Help: "Total number of rate-limit checks performed, by action.",
		},
		[]string{"action"},
	)

	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_rejections_total",
			Help: "Total number of rate-limit checks rejected, by action and scope (user/ip).",
		},
		[]string{"action", "scope"},
	)

	RateLimitStoreErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratelimit_store_errors_total",
			Help: "Total number of rate-limit checks that failed open because the counter store errored.",
		},
	)
)

// Audit metrics.
var (
	AuditEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit log entries written, by status.",
		},
		[]string{"status"},
	)

	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Total number of audit log writes that failed and were swallowed.",
		},
	)
)

// Webhook delivery metrics.
//
// WebhookDeliveryAttempts is labelled by outcome: "success" (2xx), "failed"
// (non-2xx or transport error, retry scheduled), "exhausted" (retry ceiling
// reached), "orphaned" (webhook deleted or deactivated before the attempt).
// Example PromQL: sum by (outcome) (rate(webhook_delivery_attempts_total[15m]))
var (
	WebhookDeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_delivery_attempts_total",
			Help: "Total number of webhook delivery attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	WebhookTriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_triggers_total",
			Help: "Total number of webhook trigger calls, by event type.",
		},
		[]string{"event"},
	)

	WebhookQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_queue_depth",
			Help: "Number of deliveries currently waiting in the dispatch queue.",
		},
	)
)

// Database connection pool gauges, polled every 30 s.
var (
	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_open",
			Help: "Number of open database connections (in use + idle).",
		},
	)

	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Number of database connections currently in use.",
		},
	)
)

// StartDBStatsCollector begins exporting connection pool statistics for the
// given database handle. The goroutine runs for the lifetime of the process.
func StartDBStatsCollector(db *sqlx.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := db.Stats()
			DBConnectionsOpen.Set(float64(stats.OpenConnections))
			DBConnectionsInUse.Set(float64(stats.InUse))
		}
	}()
	slog.Debug("database stats collector started")
}
