package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// KnowledgeRelation is a weighted graph edge with up to three evidence
// sentences. The (library, source, target, type) tuple is unique.
type KnowledgeRelation struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LibraryID      uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uq_relation_tuple,priority:1;index:idx_relation_library_weight,priority:1;column:library_id" json:"library_id"`
	SourceEntityID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uq_relation_tuple,priority:2;column:source_entity_id" json:"source_entity_id"`
	TargetEntityID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uq_relation_tuple,priority:3;column:target_entity_id" json:"target_entity_id"`
	RelationType   string         `gorm:"not null;default:'co_occurs';uniqueIndex:uq_relation_tuple,priority:4;column:relation_type" json:"relation_type"`
	Weight         int            `gorm:"not null;default:1;index:idx_relation_library_weight,priority:2;column:weight" json:"weight"`
	Evidence       datatypes.JSON `gorm:"column:evidence;type:jsonb" json:"evidence,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (KnowledgeRelation) TableName() string { return "knowledge_relation" }
