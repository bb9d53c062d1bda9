package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/suPer8Hu/companion-chat/internal/common"
)

const (
	HeaderRequestID = "X-Request-Id"
	RequestIDKey    = "request_id"
	TraceIDKey      = "trace_id"
)

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if reqID == "" || len(reqID) > 64 {
			reqID = common.MustULID()
		}
		c.Set(RequestIDKey, reqID)
		c.Writer.Header().Set(HeaderRequestID, reqID)

		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			c.Set(TraceIDKey, sc.TraceID().String())
		}
		c.Next()
	}
}
