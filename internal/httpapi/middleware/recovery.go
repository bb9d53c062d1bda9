package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/companion-chat/internal/common"
	"github.com/suPer8Hu/companion-chat/internal/logger"
)

func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("panic recovered",
					"panic", rec,
					"path", c.Request.URL.Path,
					"request_id", c.GetString(RequestIDKey),
				)
				// a started stream cannot take a JSON body
				if c.Writer.Written() {
					c.Abort()
					return
				}
				common.Fail(c, http.StatusInternalServerError, 50000, "Internal server error")
			}
		}()
		c.Next()
	}
}
