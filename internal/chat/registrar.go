package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/suPer8Hu/companion-chat/internal/apierr"
	"github.com/suPer8Hu/companion-chat/internal/auth"
	"github.com/suPer8Hu/companion-chat/internal/common"
	"github.com/suPer8Hu/companion-chat/internal/logger"
)

// Client-generated ids; UUIDs fit.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func ValidSessionID(id string) bool { return sessionIDPattern.MatchString(id) }

type RegisterRequest struct {
	SessionID      string
	IsFirstMessage bool
	Identity       Identity
	// RawAnonToken is the X-Anonymous-Token header; only its hash is stored.
	RawAnonToken string
	UserAgent    string
	IPAddress    string
	Language     string
	Timezone     string
}

type RegistrarOptions struct {
	TokenTTL        time.Duration
	DefaultLanguage string
	DefaultTimezone string
}

type Registrar struct {
	repo   *Repo
	hasher *auth.TokenHasher
	log    *logger.Logger
	opts   RegistrarOptions
	now    func() time.Time
}

func NewRegistrar(repo *Repo, hasher *auth.TokenHasher, log *logger.Logger, opts RegistrarOptions) *Registrar {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "en"
	}
	if opts.DefaultTimezone == "" {
		opts.DefaultTimezone = "UTC"
	}
	return &Registrar{repo: repo, hasher: hasher, log: log.With("component", "registrar"), opts: opts, now: time.Now}
}

// GetOrCreate returns the session and whether this call created it.
// Two concurrent first messages for one id end with a single row; the
// loser of the insert reads back the winner's row.
func (r *Registrar) GetOrCreate(ctx context.Context, req RegisterRequest) (*Session, bool, error) {
	if !ValidSessionID(req.SessionID) {
		return nil, false, apierr.Validation("Invalid sessionId")
	}

	sess, err := r.lookup(ctx, req.SessionID)
	if err != nil || sess != nil {
		return sess, false, err
	}
	if !req.IsFirstMessage {
		return nil, false, apierr.ErrSessionNotFound
	}

	// double-check before inserting
	sess, err = r.lookup(ctx, req.SessionID)
	if err != nil || sess != nil {
		return sess, false, err
	}

	now := r.now().UTC()
	sess = r.newSession(req, now)
	got, created, err := r.repo.CreateSessionOrGetExisting(ctx, sess)
	if err != nil {
		return nil, false, apierr.Wrap(apierr.ErrPersistence, fmt.Errorf("create session: %w", err))
	}
	if !created {
		r.log.Info("session created concurrently, using existing row", "session_id", req.SessionID)
		return got, false, nil
	}

	if got.IsAnonymous && req.RawAnonToken != "" {
		if err := r.issueToken(ctx, got.SessionID, req, now); err != nil {
			r.log.Warn("anonymous token row not stored", "session_id", got.SessionID, "error", err)
		}
	}
	return got, true, nil
}

func (r *Registrar) lookup(ctx context.Context, id string) (*Session, error) {
	sess, err := r.repo.GetSession(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.ErrPersistence, fmt.Errorf("load session: %w", err))
	}
	return sess, nil
}

func (r *Registrar) newSession(req RegisterRequest, now time.Time) *Session {
	s := &Session{
		SessionID:      req.SessionID,
		IsAnonymous:    true,
		AuthType:       AuthTypeAnonymous,
		LastActivityAt: now,
		Config: SessionConfig{
			Language:      firstNonEmpty(req.Language, r.opts.DefaultLanguage),
			Timezone:      firstNonEmpty(req.Timezone, r.opts.DefaultTimezone),
			RetentionDays: anonymousRetentionDays,
		},
	}
	if req.Identity.Authenticated() {
		uid := req.Identity.UserID
		s.UserID = &uid
		s.IsAnonymous = false
		s.AuthType = AuthTypeEmail
		s.Config.RetentionDays = authenticatedRetentionDays
	}
	return s
}

func (r *Registrar) issueToken(ctx context.Context, sessionID string, req RegisterRequest, now time.Time) error {
	id, err := common.NewULID()
	if err != nil {
		return err
	}
	row := &AnonymousSessionToken{
		TokenID:   id,
		TokenHash: r.hasher.Hash(req.RawAnonToken),
		SessionID: sessionID,
		ExpiresAt: now.Add(r.opts.TokenTTL),
		UserAgent: truncate(req.UserAgent, 512),
		IPAddress: truncate(req.IPAddress, 64),
	}
	return r.repo.CreateAnonymousToken(ctx, row)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// truncate caps s at n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
