// throttle.go provides a coarse per-client request throttle in front of the
// whole API, backed by the GCRA limiter in redis_rate. It is separate from the
// per-action rate limiter: the throttle sheds bulk abusive traffic cheaply,
// while the per-action limiter enforces the operation budgets.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// ThrottleConfig holds the global throttle settings.
type ThrottleConfig struct {
	// RequestsPerMinute is the sustained per-client budget.
	RequestsPerMinute int
	// Burst is the number of requests a client may send above the sustained
	// rate before being throttled.
	Burst int
}

// DefaultThrottleConfig returns production defaults.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		RequestsPerMinute: 300,
		Burst:             50,
	}
}

// Throttle returns a middleware enforcing a per-client-IP GCRA limit. Requires
// Redis; callers without a Redis deployment should skip registration, the
// per-action limiter still applies.
//
// Redis failures fail open: the throttle is a shield, not a correctness
// boundary.
func Throttle(rdb redis.UniversalClient, cfg ThrottleConfig) gin.HandlerFunc {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultThrottleConfig().RequestsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultThrottleConfig().Burst
	}

	limiter := redis_rate.NewLimiter(rdb)
	limit := redis_rate.Limit{
		Rate:   cfg.RequestsPerMinute,
		Period: time.Minute,
		Burst:  cfg.RequestsPerMinute + cfg.Burst,
	}

	return func(c *gin.Context) {
		res, err := limiter.Allow(c.Request.Context(), "throttle:"+c.ClientIP(), limit)
		if err != nil {
			c.Next()
			return
		}

		if res.Allowed == 0 {
			retryAfter := int(res.RetryAfter.Seconds() + 0.5)
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
