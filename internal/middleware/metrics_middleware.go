package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smarttransit/payment-service/internal/metrics"
)

// Metrics records request duration per route template. Unmatched routes are
// grouped under "unmatched" to keep label cardinality bounded.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}
