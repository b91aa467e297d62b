package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/samstikhin/ulearn-notifier/pkg/logger"
)

// Logger returns a middleware that logs HTTP requests. Probe and metrics
// endpoints are logged at debug level.
func Logger(log *logger.Logger, quietPaths ...string) gin.HandlerFunc {
	quiet := make(map[string]bool, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = true
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"request_id", c.GetString(ContextRequestID),
			"method", c.Request.Method,
			"path", path,
			"ip", c.ClientIP(),
			"status", status,
			"duration", time.Since(start).String(),
		}

		switch {
		case status >= 500:
			var err error
			if last := c.Errors.Last(); last != nil {
				err = last.Err
			}
			log.Error(err, "Server error", fields...)
		case status >= 400:
			log.Warn("Client error", fields...)
		case quiet[c.Request.URL.Path]:
			log.Debug("Request processed", fields...)
		default:
			log.Info("Request processed", fields...)
		}
	}
}
