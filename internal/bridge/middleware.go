package bridge

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bhandras/fleetmap/pkg/logger"
)

// LoggingMiddleware logs HTTP requests.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		if raw != "" {
			path = path + "?" + raw
		}

		// Log format: [method] path?query - status (latency)
		switch {
		case statusCode >= 500:
			logger.Warnf("bridge: [%s] %s - %d (%v)", c.Request.Method, path, statusCode, latency)
		case c.Request.Method == "GET":
			logger.Tracef("bridge: [%s] %s - %d (%v)", c.Request.Method, path, statusCode, latency)
		default:
			logger.Debugf("bridge: [%s] %s - %d (%v)", c.Request.Method, path, statusCode, latency)
		}
	}
}
