package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ChatSenderUser      = "user"
	ChatSenderAssistant = "assistant"
)

// ChatSession is created lazily on a user's first message in a workspace.
// One active session per user per workspace.
type ChatSession struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null;index:idx_chat_session_ws_user,unique,priority:1" json:"workspace_id"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;index:idx_chat_session_ws_user,unique,priority:2" json:"user_id"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (ChatSession) TableName() string { return "chat_session" }

// ChatMessage is immutable once stored.
type ChatMessage struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;index" json:"session_id"`

	// user|assistant
	SenderType string `gorm:"column:sender_type;not null" json:"sender_type"`

	Content  string         `gorm:"column:content;not null" json:"content"`
	Metadata datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (ChatMessage) TableName() string { return "chat_message" }
