package handlers

import (
	"time"

	"github.com/suPer8Hu/companion-chat/internal/chat"
	"github.com/suPer8Hu/companion-chat/internal/logger"
)

type Handler struct {
	Chat      *chat.Service
	Log       *logger.Logger
	Heartbeat time.Duration
}

func NewHandler(svc *chat.Service, log *logger.Logger, heartbeat time.Duration) *Handler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &Handler{Chat: svc, Log: log.With("component", "http"), Heartbeat: heartbeat}
}
