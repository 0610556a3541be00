// metrics.go records per-request Prometheus metrics. The path label is set
// from c.FullPath(), the matched route template (e.g. /api/v1/webhooks/:id),
// rather than the raw URL; requests that match no route use the literal
// "<no-route>" so unhandled paths do not inflate label cardinality.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/adminguard/adminguard/internal/telemetry"
)

// MetricsMiddleware returns a Gin handler that records request count and
// latency for every request passing through the router. Register after
// gin.Recovery() and RequestIDMiddleware so the status set by error handlers
// is captured correctly.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}
