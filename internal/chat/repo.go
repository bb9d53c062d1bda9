package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/suPer8Hu/companion-chat/internal/db"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(gdb *gorm.DB) *Repo {
	return &Repo{db: gdb}
}

func (r *Repo) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// CreateSessionOrGetExisting inserts s, and if a concurrent request already
// created the same session_id it returns that row instead.
func (r *Repo) CreateSessionOrGetExisting(ctx context.Context, s *Session) (*Session, bool, error) {
	err := r.db.WithContext(ctx).Create(s).Error
	if err == nil {
		return s, true, nil
	}
	if !db.IsUniqueViolation(err) {
		return nil, false, err
	}

	existing, getErr := r.GetSession(ctx, s.SessionID)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

// ListSessionsByUser returns the user's sessions, most recently active first.
func (r *Repo) ListSessionsByUser(ctx context.Context, userID string, limit int) ([]Session, error) {
	var out []Session
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_activity_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// SetTitleIfEmpty sets the title once; it never overwrites.
func (r *Repo) SetTitleIfEmpty(ctx context.Context, sessionID, title string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ? AND (title IS NULL OR title = '')", sessionID).
		Updates(map[string]any{"title": title, "last_activity_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo) UpdateTitle(ctx context.Context, sessionID, title string) error {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ?", sessionID).
		Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *Repo) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ?", sessionID).
		Update("last_activity_at", at).Error
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// ListMessages returns up to limit messages in timestamp order
// (oldest -> newest). Soft-deleted rows are excluded by gorm.
func (r *Repo) ListMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListRecentMessagesDesc returns the most recent messages (newest -> oldest).
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ? AND role IN ?", sessionID, []string{RoleUser, RoleAssistant}).
		Order("timestamp DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repo) CreateAnonymousToken(ctx context.Context, t *AnonymousSessionToken) error {
	return r.db.WithContext(ctx).Create(t).Error
}

// HasAnonymousTokens reports whether any token row, expired or not, was
// ever bound to the session.
func (r *Repo) HasAnonymousTokens(ctx context.Context, sessionID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&AnonymousSessionToken{}).
		Where("session_id = ?", sessionID).
		Count(&n).Error
	return n > 0, err
}

// ActiveTokenHashes returns the hashes of non-expired tokens for a session.
func (r *Repo) ActiveTokenHashes(ctx context.Context, sessionID string, now time.Time) ([]string, error) {
	var hashes []string
	if err := r.db.WithContext(ctx).Model(&AnonymousSessionToken{}).
		Where("session_id = ? AND expires_at > ?", sessionID, now).
		Pluck("token_hash", &hashes).Error; err != nil {
		return nil, err
	}
	return hashes, nil
}

// ActiveSystemPrompt returns the newest active prompt, or nil when none is active.
func (r *Repo) ActiveSystemPrompt(ctx context.Context) (*SystemPrompt, error) {
	var p SystemPrompt
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("version DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) InsertUsage(ctx context.Context, u *PromptUsageLog) error {
	return r.db.WithContext(ctx).Create(u).Error
}
