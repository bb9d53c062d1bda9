package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/suPer8Hu/companion-chat/internal/chat"
	"github.com/suPer8Hu/companion-chat/internal/common"
	"github.com/suPer8Hu/companion-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/companion-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/companion-chat/internal/logger"
)

type RouterConfig struct {
	Handler     *handlers.Handler
	Resolver    *chat.Resolver
	Log         *logger.Logger
	CORSOrigins []string
	// ServiceName enables otelgin spans when set.
	ServiceName string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(cfg.Log))
	r.Use(middleware.RequestLogger(cfg.Log))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := cfg.Handler

	r.GET("/ping", h.Ping)

	// Chat (bearer optional; anonymous sessions use X-Anonymous-Token)
	chatGroup := r.Group("/chat")
	chatGroup.Use(middleware.OptionalIdentity(cfg.Resolver))
	chatGroup.POST("/stream", h.ChatStream)
	chatGroup.GET("/sessions/:session_id/messages", h.ListMessages)
	chatGroup.PATCH("/sessions/:session_id", h.RenameSession)

	// session list (JWT required)
	authGroup := r.Group("/chat")
	authGroup.Use(middleware.AuthRequired(cfg.Resolver))
	authGroup.GET("/sessions", h.ListSessions)

	return r
}
