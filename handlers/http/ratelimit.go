package httpHandler

import (
	"net/http"

	"signage-fleet/metrics"
	"signage-fleet/ratelimit"

	"github.com/gin-gonic/gin"
)

// RateLimit rejects requests whose key has exhausted its budget. The key is
// the named path parameter when present, otherwise the client IP.
func RateLimit(l ratelimit.Limiter, route, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if param != "" {
			if v := c.Param(param); v != "" {
				key = v
			}
		}
		if !l.Allow(route + ":" + key) {
			metrics.RateLimited.WithLabelValues(route).Inc()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"code":  "rate_limited",
			})
			return
		}
		c.Next()
	}
}
