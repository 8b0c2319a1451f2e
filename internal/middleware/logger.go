package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/healthbridge/pkg/logger"
)

// Logger logs one line per request. Bodies are never logged: uploads and
// extraction payloads carry patient data.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"request_id", c.GetString(ContextRequestID),
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
			"bytes", c.Writer.Size(),
		}

		switch {
		case status >= 500:
			var err error
			if last := c.Errors.Last(); last != nil {
				err = last.Err
			}
			log.Error(err, "Server error", fields...)
		case status >= 400:
			log.Warn("Client error", append(fields, "error", c.Errors.String())...)
		default:
			log.Info("Request processed", fields...)
		}
	}
}
