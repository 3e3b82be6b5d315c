package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cppla/dailycheckin/metrics"
)

// RequestMetrics records per-route request counts and latency. Unmatched
// paths are folded into one label to keep cardinality bounded.
func RequestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		done := metrics.RequestStarted()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		done(c.Request.Method, route, strconv.Itoa(c.Writer.Status()))
	}
}
