package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// KnowledgeEntity is a graph node. Name is the normalized form and unique per
// library; DisplayName preserves the surface form seen in text.
type KnowledgeEntity struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LibraryID   uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uq_entity_library_name,priority:1;index:idx_entity_library_frequency,priority:1;column:library_id" json:"library_id"`
	Name        string         `gorm:"not null;uniqueIndex:uq_entity_library_name,priority:2;index;column:name" json:"name"`
	DisplayName string         `gorm:"not null;column:display_name" json:"display_name"`
	EntityType  string         `gorm:"not null;default:'concept';column:entity_type" json:"entity_type"`
	Frequency   int            `gorm:"not null;default:0;index:idx_entity_library_frequency,priority:2;column:frequency" json:"frequency"`
	Metadata    datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (KnowledgeEntity) TableName() string { return "knowledge_entity" }
