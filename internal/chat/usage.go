package chat

import (
	"context"
	"time"

	"github.com/suPer8Hu/companion-chat/internal/common"
)

// UsageEvent is one prompt-usage telemetry record.
type UsageEvent struct {
	ID             string    `json:"id"`
	PromptID       *string   `json:"prompt_id,omitempty"`
	MessageID      string    `json:"message_id"`
	SessionID      string    `json:"session_id"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	TokensUsed     int       `json:"tokens_used"`
	CreatedAt      time.Time `json:"created_at"`
}

// UsageSink receives telemetry. Implementations may drop events; the
// chat turn never depends on them.
type UsageSink interface {
	RecordUsage(ctx context.Context, ev UsageEvent) error
}

// DBUsageSink writes usage rows directly to prompt_usage_log.
type DBUsageSink struct {
	repo *Repo
}

func NewDBUsageSink(repo *Repo) *DBUsageSink { return &DBUsageSink{repo: repo} }

func (s *DBUsageSink) RecordUsage(ctx context.Context, ev UsageEvent) error {
	if ev.ID == "" {
		id, err := common.NewULID()
		if err != nil {
			return err
		}
		ev.ID = id
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	return s.repo.InsertUsage(ctx, &PromptUsageLog{
		ID:             ev.ID,
		PromptID:       ev.PromptID,
		MessageID:      ev.MessageID,
		SessionID:      ev.SessionID,
		ResponseTimeMs: ev.ResponseTimeMs,
		TokensUsed:     ev.TokensUsed,
		CreatedAt:      ev.CreatedAt,
	})
}

type noopUsageSink struct{}

func (noopUsageSink) RecordUsage(context.Context, UsageEvent) error { return nil }
