package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

type ChatSession struct {
	ID                 uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID             uuid.UUID  `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	Title              string     `gorm:"not null;default:'新会话';column:title" json:"title"`
	ProviderConfigID   *uuid.UUID `gorm:"type:uuid;column:provider_config_id" json:"provider_config_id,omitempty"`
	LibraryID          *uuid.UUID `gorm:"type:uuid;column:library_id" json:"library_id,omitempty"`
	RetrievalProfileID *uuid.UUID `gorm:"type:uuid;index;column:retrieval_profile_id" json:"retrieval_profile_id,omitempty"`
	ShowCitations      bool       `gorm:"not null;default:true;column:show_citations" json:"show_citations"`
	CreatedAt          time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (ChatSession) TableName() string { return "chat_session" }

type ChatMessage struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID uuid.UUID      `gorm:"type:uuid;not null;index;column:session_id" json:"session_id"`
	Role      string         `gorm:"not null;column:role" json:"role"`
	Content   string         `gorm:"not null;column:content" json:"content"`
	Citations datatypes.JSON `gorm:"column:citations;type:jsonb" json:"citations,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (ChatMessage) TableName() string { return "chat_message" }
