package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type AuditLog struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID       *uuid.UUID     `gorm:"type:uuid;column:user_id" json:"user_id,omitempty"`
	Action       string         `gorm:"not null;index;column:action" json:"action"`
	ResourceType string         `gorm:"not null;index;column:resource_type" json:"resource_type"`
	ResourceID   string         `gorm:"not null;index;column:resource_id" json:"resource_id"`
	Metadata     datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_log" }
