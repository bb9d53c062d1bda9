package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/companion-chat/internal/apierr"
	"github.com/suPer8Hu/companion-chat/internal/chat"
	"github.com/suPer8Hu/companion-chat/internal/common"
	"github.com/suPer8Hu/companion-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/companion-chat/internal/protocol"
)

type streamReq struct {
	SessionID      string `json:"sessionId"`
	UserMessage    string `json:"userMessage"`
	IsFirstMessage bool   `json:"isFirstMessage"`
}

// ChatStream handles POST /chat/stream. Failures before the first byte are
// JSON errors with a status; afterwards they are in-band error events.
func (h *Handler) ChatStream(c *gin.Context) {
	var req streamReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, apierr.ErrValidation)
		return
	}

	ctx := c.Request.Context()
	turn, err := h.Chat.PrepareTurn(ctx, chat.TurnRequest{
		SessionID:      req.SessionID,
		UserMessage:    req.UserMessage,
		IsFirstMessage: req.IsFirstMessage,
		Identity:       middleware.IdentityFrom(c),
		AnonToken:      middleware.AnonymousToken(c),
		UserAgent:      c.Request.UserAgent(),
		IPAddress:      c.ClientIP(),
	})
	if err != nil {
		if apierr.StatusOf(err) >= http.StatusInternalServerError {
			h.Log.Error("prepare turn failed", "session_id", req.SessionID, "request_id", c.GetString(middleware.RequestIDKey), "error", err)
		}
		common.FailErr(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		common.Fail(c, http.StatusInternalServerError, 50001, "streaming unsupported")
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)
	flusher.Flush()

	events := turn.Run(ctx)

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(h.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := protocol.Encode(c.Writer, ev); err != nil {
				h.Log.Warn("stream write failed", "session_id", req.SessionID, "error", err)
				return
			}
			flusher.Flush()
			if ev.Terminal() {
				return
			}
		case <-ticker.C:
			_ = protocol.Heartbeat(c.Writer)
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// ListSessions handles GET /chat/sessions.
func (h *Handler) ListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	sessions, err := h.Chat.ListSessions(c.Request.Context(), middleware.IdentityFrom(c), limit)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, gin.H{"sessions": sessions})
}

// ListMessages handles GET /chat/sessions/:session_id/messages.
func (h *Handler) ListMessages(c *gin.Context) {
	msgs, err := h.Chat.ListMessages(c.Request.Context(), c.Param("session_id"), middleware.IdentityFrom(c), middleware.AnonymousToken(c))
	if err != nil {
		common.FailErr(c, err)
		return
	}
	out := make([]protocol.Message, 0, len(msgs))
	for i := range msgs {
		out = append(out, msgs[i].Wire())
	}
	common.OK(c, gin.H{"messages": out})
}

type renameReq struct {
	Title string `json:"title"`
}

// RenameSession handles PATCH /chat/sessions/:session_id.
func (h *Handler) RenameSession(c *gin.Context) {
	var req renameReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, apierr.ErrValidation)
		return
	}
	sess, err := h.Chat.RenameSession(c.Request.Context(), c.Param("session_id"), middleware.IdentityFrom(c), middleware.AnonymousToken(c), req.Title)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, gin.H{"session": sess})
}
