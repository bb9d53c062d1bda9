package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/companion-chat/internal/logger"
)

func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString(RequestIDKey),
		}
		if tid := c.GetString(TraceIDKey); tid != "" {
			fields = append(fields, "trace_id", tid)
		}
		if id := IdentityFrom(c); id.Authenticated() {
			fields = append(fields, "user_id", id.UserID)
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
