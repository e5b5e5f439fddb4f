package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ProviderOpenAI           = "openai"
	ProviderAnthropic        = "anthropic"
	ProviderGemini           = "gemini"
	ProviderOpenAICompatible = "openai_compatible"
)

// ProviderConfig is a per-user LLM endpoint registration. The API key is
// stored encrypted and only ever surfaced masked.
type ProviderConfig struct {
	ID                  uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name                string         `gorm:"not null;column:name" json:"name"`
	ProviderType        string         `gorm:"not null;index;column:provider_type" json:"provider_type"`
	EndpointURL         string         `gorm:"not null;column:endpoint_url" json:"endpoint_url"`
	ModelName           string         `gorm:"not null;column:model_name" json:"model_name"`
	ContextWindowTokens int            `gorm:"not null;default:131072;column:context_window_tokens" json:"context_window_tokens"`
	APIKeyEncrypted     string         `gorm:"column:api_key_encrypted" json:"-"`
	Capabilities        datatypes.JSON `gorm:"column:capabilities;type:jsonb" json:"capabilities,omitempty"`
	IsDefault           bool           `gorm:"not null;default:false;column:is_default" json:"is_default"`
	OwnerID             uuid.UUID      `gorm:"type:uuid;not null;index;column:owner_id" json:"owner_id"`
	CreatedAt           time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (ProviderConfig) TableName() string { return "provider_config" }
