package chat

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/suPer8Hu/companion-chat/internal/protocol"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"

	AuthTypeAnonymous = "anonymous"
	AuthTypeEmail     = "email"

	anonymousRetentionDays     = 1
	authenticatedRetentionDays = 30
)

type SessionConfig struct {
	Language      string `json:"language"`
	Timezone      string `json:"timezone"`
	RetentionDays int    `json:"retention_days"`
}

// Session is a conversation. Exactly one of (IsAnonymous, UserID == nil)
// and (!IsAnonymous, UserID != nil) holds.
type Session struct {
	SessionID      string        `gorm:"primaryKey;type:varchar(64)" json:"session_id"`
	UserID         *string       `gorm:"type:varchar(64);index" json:"user_id,omitempty"`
	IsAnonymous    bool          `gorm:"not null;default:false" json:"is_anonymous"`
	AuthType       string        `gorm:"type:varchar(16);not null" json:"auth_type"`
	Config         SessionConfig `gorm:"serializer:json;type:text" json:"config"`
	Title          *string       `gorm:"type:varchar(255)" json:"title"`
	LastActivityAt time.Time     `gorm:"index" json:"last_activity_at"`
	FolderID       *string       `gorm:"type:varchar(64)" json:"folder_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func (Session) TableName() string { return "sessions" }

// Message rows are append-only. Soft deletion is the only mutation and
// it belongs to retention jobs, not to the chat path.
type Message struct {
	MessageID  string            `gorm:"primaryKey;type:varchar(36)" json:"message_id"`
	SessionID  string            `gorm:"type:varchar(64);not null;index:idx_messages_session_ts,priority:1" json:"session_id"`
	Role       string            `gorm:"type:varchar(16);not null" json:"role"`
	Content    string            `gorm:"type:text;not null" json:"content"`
	TokenCount *int              `json:"token_count,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	Timestamp  time.Time         `gorm:"not null;index:idx_messages_session_ts,priority:2" json:"timestamp"`
	DeletedAt  gorm.DeletedAt    `gorm:"index" json:"-"`
}

func (Message) TableName() string { return "messages" }

func (m *Message) Wire() protocol.Message {
	return protocol.Message{
		ID:         m.MessageID,
		SessionID:  m.SessionID,
		Role:       m.Role,
		Content:    m.Content,
		TokenCount: m.TokenCount,
		Metadata:   map[string]any(m.Metadata),
		Timestamp:  m.Timestamp,
	}
}

// AnonymousSessionToken binds an anonymous session to a caller-held
// secret. Only the keyed hash is stored.
type AnonymousSessionToken struct {
	TokenID   string    `gorm:"primaryKey;type:varchar(26)"`
	TokenHash string    `gorm:"type:varchar(64);not null"`
	SessionID string    `gorm:"type:varchar(64);not null;index"`
	ExpiresAt time.Time `gorm:"not null"`
	UserAgent string    `gorm:"type:varchar(512)"`
	IPAddress string    `gorm:"type:varchar(64)"`
	CreatedAt time.Time
}

func (AnonymousSessionToken) TableName() string { return "anonymous_session_tokens" }

type SystemPrompt struct {
	ID        string `gorm:"primaryKey;type:varchar(26)"`
	Name      string `gorm:"type:varchar(128);not null"`
	Content   string `gorm:"type:text;not null"`
	Version   int    `gorm:"not null;default:1"`
	IsActive  bool   `gorm:"not null;default:false;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SystemPrompt) TableName() string { return "system_prompts" }

type PromptUsageLog struct {
	ID             string  `gorm:"primaryKey;type:varchar(26)"`
	PromptID       *string `gorm:"type:varchar(26);index"`
	MessageID      string  `gorm:"type:varchar(36);not null"`
	SessionID      string  `gorm:"type:varchar(64);not null;index"`
	ResponseTimeMs int64   `gorm:"not null"`
	TokensUsed     int     `gorm:"not null"`
	CreatedAt      time.Time
}

func (PromptUsageLog) TableName() string { return "prompt_usage_log" }

func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&Session{}, &Message{}, &AnonymousSessionToken{}, &SystemPrompt{}, &PromptUsageLog{})
}
