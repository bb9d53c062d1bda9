package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/suPer8Hu/companion-chat/internal/ai"
	"github.com/suPer8Hu/companion-chat/internal/apierr"
	"github.com/suPer8Hu/companion-chat/internal/logger"
	"github.com/suPer8Hu/companion-chat/internal/protocol"
)

const maxListMessages = 200

type ServiceOptions struct {
	AssistantID string
	// HistoryWindow is how many prior messages are sent with each turn.
	// Zero means the relay keeps its own conversation state.
	HistoryWindow int
}

type Service struct {
	repo       *Repo
	resolver   *Resolver
	registrar  *Registrar
	writer     *Writer
	relay      ai.Relay
	threads    ThreadStore
	classifier Classifier
	log        *logger.Logger
	opts       ServiceOptions
}

type Deps struct {
	Repo       *Repo
	Resolver   *Resolver
	Registrar  *Registrar
	Writer     *Writer
	Relay      ai.Relay
	Threads    ThreadStore
	Classifier Classifier
	Log        *logger.Logger
}

func NewService(d Deps, opts ServiceOptions) *Service {
	if d.Threads == nil {
		d.Threads = NewMemoryThreadStore()
	}
	if d.Classifier == nil {
		d.Classifier = NewKeywordClassifier()
	}
	if opts.HistoryWindow < 0 || opts.HistoryWindow > 100 {
		opts.HistoryWindow = 20
	}
	return &Service{
		repo:       d.Repo,
		resolver:   d.Resolver,
		registrar:  d.Registrar,
		writer:     d.Writer,
		relay:      d.Relay,
		threads:    d.Threads,
		classifier: d.Classifier,
		log:        d.Log.With("component", "chat"),
		opts:       opts,
	}
}

type TurnRequest struct {
	SessionID      string
	UserMessage    string
	IsFirstMessage bool
	Identity       Identity
	AnonToken      string
	UserAgent      string
	IPAddress      string
}

// Turn is a validated, authorized chat turn ready to stream.
type Turn struct {
	svc      *Service
	req      TurnRequest
	Session  *Session
	Created  bool
	threadID string
	history  []ai.Message
	prompt   *SystemPrompt
}

// PrepareTurn does everything that can fail before the stream opens, so
// its errors map to plain HTTP responses.
func (s *Service) PrepareTurn(ctx context.Context, req TurnRequest) (*Turn, error) {
	ctx, span := otel.Tracer("chat").Start(ctx, "chat.prepare_turn")
	defer span.End()

	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" || strings.TrimSpace(req.UserMessage) == "" {
		return nil, apierr.ErrValidation
	}

	sess, created, err := s.registrar.GetOrCreate(ctx, RegisterRequest{
		SessionID:      req.SessionID,
		IsFirstMessage: req.IsFirstMessage,
		Identity:       req.Identity,
		RawAnonToken:   req.AnonToken,
		UserAgent:      req.UserAgent,
		IPAddress:      req.IPAddress,
	})
	if err != nil {
		return nil, err
	}
	if err := s.resolver.Authorize(ctx, sess, req.Identity, req.AnonToken, req.IsFirstMessage); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("chat.session_created", created), attribute.Bool("chat.anonymous", sess.IsAnonymous))

	t := &Turn{svc: s, req: req, Session: sess, Created: created}

	if s.opts.HistoryWindow > 0 && !created {
		recent, err := s.repo.ListRecentMessagesDesc(ctx, sess.SessionID, s.opts.HistoryWindow)
		if err != nil {
			return nil, apierr.Wrap(apierr.ErrPersistence, fmt.Errorf("load history: %w", err))
		}
		// provider expects oldest first
		t.history = make([]ai.Message, 0, len(recent))
		for i := len(recent) - 1; i >= 0; i-- {
			t.history = append(t.history, ai.Message{Role: recent[i].Role, Content: recent[i].Content})
		}
	}

	if p, err := s.repo.ActiveSystemPrompt(ctx); err != nil {
		s.log.Warn("system prompt unavailable", "error", err)
	} else {
		t.prompt = p
	}

	if tid, err := s.threads.Get(ctx, sess.SessionID); err != nil {
		s.log.Warn("thread lookup failed, starting a new thread", "session_id", sess.SessionID, "error", err)
	} else {
		t.threadID = tid
	}
	return t, nil
}

// Run streams the turn. The channel always ends with exactly one done or
// error event unless ctx is cancelled first, in which case nothing is
// persisted.
func (t *Turn) Run(ctx context.Context) <-chan protocol.Event {
	out := make(chan protocol.Event, 16)

	go func() {
		defer close(out)
		s := t.svc
		sid := t.Session.SessionID
		start := time.Now()

		send := func(ev protocol.Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		assessment := s.classifier.Assess(ctx, t.req.UserMessage)
		for _, ev := range assessment.Events() {
			if !send(ev) {
				return
			}
		}

		rreq := ai.RelayRequest{
			AssistantID: s.opts.AssistantID,
			ThreadID:    t.threadID,
			Message:     t.req.UserMessage,
			History:     t.history,
		}
		var promptID *string
		if t.prompt != nil {
			rreq.SystemPrompt = t.prompt.Content
			id := t.prompt.ID
			promptID = &id
		}

		var (
			content strings.Builder
			final   *ai.StreamEvent
		)
		for ev := range s.relay.Stream(ctx, rreq) {
			switch ev.Type {
			case ai.EventToken:
				content.WriteString(ev.Content)
				if !send(protocol.Token(ev.Content)) {
					return
				}
			case ai.EventError:
				s.log.Error("relay failed", "session_id", sid, "error", ev.Err)
				send(protocol.Error(apierr.Public(apierr.Wrap(apierr.ErrProvider, ev.Err))))
				return
			case ai.EventDone:
				final = &ev
			}
		}

		if ctx.Err() != nil {
			s.log.Info("client went away before completion, turn not persisted", "session_id", sid)
			return
		}
		if final == nil {
			send(protocol.Error(apierr.Public(apierr.ErrProvider)))
			return
		}

		if final.ThreadID != "" && final.ThreadID != t.threadID {
			if err := s.threads.Put(ctx, sid, final.ThreadID); err != nil {
				s.log.Warn("thread id not stored", "session_id", sid, "error", err)
			}
		}

		var meta map[string]any
		if assessment.Level != "" && assessment.Level != RiskLow {
			meta = map[string]any{"risk_level": assessment.Level}
		}

		// the provider already answered; finish the write even if the
		// client disconnects now
		res, err := s.writer.Commit(context.WithoutCancel(ctx), CommitInput{
			Session:          t.Session,
			UserText:         t.req.UserMessage,
			AssistantText:    content.String(),
			PromptTokens:     final.PromptTokens,
			CompletionTokens: final.CompletionTokens,
			IsFirstMessage:   t.req.IsFirstMessage,
			UserMetadata:     meta,
			PromptID:         promptID,
			ResponseTime:     time.Since(start),
		})
		if err != nil {
			s.log.Error("commit failed", "session_id", sid, "error", err)
			send(protocol.Error(apierr.Public(err)))
			return
		}

		if res.Title != "" {
			if !send(protocol.TitleUpdated(res.Title)) {
				return
			}
		}
		send(protocol.Done(res.User.Wire(), res.Assistant.Wire(), final.PromptTokens+final.CompletionTokens))
	}()

	return out
}

// ListSessions returns the caller's sessions. Anonymous callers have none
// to list.
func (s *Service) ListSessions(ctx context.Context, id Identity, limit int) ([]Session, error) {
	if !id.Authenticated() {
		return nil, apierr.ErrUnauthorized
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	out, err := s.repo.ListSessionsByUser(ctx, id.UserID, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.ErrPersistence, err)
	}
	return out, nil
}

// ListMessages returns confirmed messages oldest first.
func (s *Service) ListMessages(ctx context.Context, sessionID string, id Identity, anonToken string) ([]Message, error) {
	sess, err := s.loadAuthorized(ctx, sessionID, id, anonToken)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, sess.SessionID, maxListMessages)
	if err != nil {
		return nil, apierr.Wrap(apierr.ErrPersistence, err)
	}
	return msgs, nil
}

func (s *Service) RenameSession(ctx context.Context, sessionID string, id Identity, anonToken, title string) (*Session, error) {
	title = ai.CleanTitle(title)
	if title == "" {
		return nil, apierr.Validation("Title is required")
	}
	sess, err := s.loadAuthorized(ctx, sessionID, id, anonToken)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateTitle(ctx, sess.SessionID, title); err != nil {
		return nil, apierr.Wrap(apierr.ErrPersistence, err)
	}
	sess.Title = &title
	return sess, nil
}

func (s *Service) loadAuthorized(ctx context.Context, sessionID string, id Identity, anonToken string) (*Session, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrSessionNotFound
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.ErrPersistence, err)
	}
	if err := s.resolver.Authorize(ctx, sess, id, anonToken, false); err != nil {
		return nil, err
	}
	return sess, nil
}

