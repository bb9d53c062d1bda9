package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/suPer8Hu/companion-chat/internal/ai"
	"github.com/suPer8Hu/companion-chat/internal/apierr"
	"github.com/suPer8Hu/companion-chat/internal/logger"
)

const titleTimeout = 10 * time.Second

type CommitInput struct {
	Session          *Session
	UserText         string
	AssistantText    string
	PromptTokens     int
	CompletionTokens int
	IsFirstMessage   bool
	// UserMetadata carries classifier annotations for the user message.
	UserMetadata map[string]any
	PromptID     *string
	ResponseTime time.Duration
}

type CommitResult struct {
	User      *Message
	Assistant *Message
	// Title is set only when this commit assigned the session title.
	Title string
	// Warnings are the non-fatal failures of the title, activity and
	// telemetry steps. They are logged and never surfaced to the caller.
	Warnings []error
}

// Writer records a completed turn. The user and assistant inserts must
// succeed; everything after them is best effort.
type Writer struct {
	repo   *Repo
	titler ai.Titler
	usage  UsageSink
	log    *logger.Logger
	now    func() time.Time
}

// NewWriter accepts a nil titler (timestamp placeholder titles) and a nil
// usage sink (telemetry off).
func NewWriter(repo *Repo, titler ai.Titler, usage UsageSink, log *logger.Logger) *Writer {
	if usage == nil {
		usage = noopUsageSink{}
	}
	return &Writer{repo: repo, titler: titler, usage: usage, log: log.With("component", "writer"), now: time.Now}
}

func (w *Writer) Commit(ctx context.Context, in CommitInput) (*CommitResult, error) {
	ctx, span := otel.Tracer("chat").Start(ctx, "chat.commit")
	defer span.End()
	sid := in.Session.SessionID

	now := w.now().UTC()
	userMsg := &Message{
		MessageID:  uuid.NewString(),
		SessionID:  sid,
		Role:       RoleUser,
		Content:    in.UserText,
		TokenCount: intPtr(in.PromptTokens),
		Metadata:   in.UserMetadata,
		Timestamp:  now,
	}
	if err := w.repo.InsertMessage(ctx, userMsg); err != nil {
		span.SetStatus(codes.Error, "insert user message")
		return nil, apierr.Wrap(apierr.ErrPersistence, fmt.Errorf("insert user message: %w", err))
	}

	// assistant strictly after user, even on coarse clocks
	at := w.now().UTC()
	if !at.After(userMsg.Timestamp) {
		at = userMsg.Timestamp.Add(time.Microsecond)
	}
	asstMsg := &Message{
		MessageID:  uuid.NewString(),
		SessionID:  sid,
		Role:       RoleAssistant,
		Content:    in.AssistantText,
		TokenCount: intPtr(in.CompletionTokens),
		Timestamp:  at,
	}
	if err := w.repo.InsertMessage(ctx, asstMsg); err != nil {
		// the user message stays recorded
		w.log.Error("assistant message not stored after user message", "session_id", sid, "user_message_id", userMsg.MessageID, "error", err)
		span.SetStatus(codes.Error, "insert assistant message")
		return nil, apierr.Wrap(apierr.ErrPersistence, fmt.Errorf("insert assistant message: %w", err))
	}

	res := &CommitResult{User: userMsg, Assistant: asstMsg}

	if in.IsFirstMessage && (in.Session.Title == nil || *in.Session.Title == "") {
		title := w.title(ctx, in.UserText, in.AssistantText, at)
		set, err := w.repo.SetTitleIfEmpty(ctx, sid, title, at)
		switch {
		case err != nil:
			res.Warnings = append(res.Warnings, fmt.Errorf("set title: %w", err))
		case set:
			res.Title = title
		}
	}

	if err := w.repo.TouchSession(ctx, sid, at); err != nil {
		res.Warnings = append(res.Warnings, fmt.Errorf("touch session: %w", err))
	}

	if err := w.usage.RecordUsage(ctx, UsageEvent{
		PromptID:       in.PromptID,
		MessageID:      asstMsg.MessageID,
		SessionID:      sid,
		ResponseTimeMs: in.ResponseTime.Milliseconds(),
		TokensUsed:     in.PromptTokens + in.CompletionTokens,
		CreatedAt:      at,
	}); err != nil {
		res.Warnings = append(res.Warnings, fmt.Errorf("record usage: %w", err))
	}

	for _, warn := range res.Warnings {
		w.log.Warn("non-fatal persistence failure", "session_id", sid, "error", warn)
	}
	span.SetAttributes(
		attribute.Int("chat.tokens_used", in.PromptTokens+in.CompletionTokens),
		attribute.Int("chat.warnings", len(res.Warnings)),
	)
	return res, nil
}

func (w *Writer) title(ctx context.Context, userText, assistantText string, at time.Time) string {
	if w.titler == nil {
		return ai.PlaceholderTitle(at)
	}
	tctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()
	t, err := w.titler.Title(tctx, userText, assistantText)
	if err != nil || t == "" {
		w.log.Warn("title generation failed, using placeholder", "error", err)
		return ai.PlaceholderTitle(at)
	}
	return t
}

func intPtr(n int) *int { return &n }
