package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ProfileTypeGeneral         = "general"
	ProfileTypeNovelStory      = "novel_story"
	ProfileTypeEnterpriseDocs  = "enterprise_docs"
	ProfileTypeScientificPaper = "scientific_paper"
	ProfileTypeHumanitiesPaper = "humanities_paper"
)

// RetrievalProfile is a named bundle of retrieval knobs. Builtins are seeded
// at startup and cannot be deleted; exactly one active profile is default.
type RetrievalProfile struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ProfileKey  string         `gorm:"not null;uniqueIndex;column:profile_key" json:"profile_key"`
	Name        string         `gorm:"not null;column:name" json:"name"`
	ProfileType string         `gorm:"not null;default:'general';index;column:profile_type" json:"profile_type"`
	Description string         `gorm:"column:description" json:"description,omitempty"`
	Config      datatypes.JSON `gorm:"column:config;type:jsonb" json:"config,omitempty"`
	IsDefault   bool           `gorm:"not null;default:false;index;column:is_default" json:"is_default"`
	IsBuiltin   bool           `gorm:"not null;default:false;column:is_builtin" json:"is_builtin"`
	IsActive    bool           `gorm:"not null;default:true;column:is_active" json:"is_active"`
	CreatedBy   *uuid.UUID     `gorm:"type:uuid;column:created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (RetrievalProfile) TableName() string { return "retrieval_profile" }
