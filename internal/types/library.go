package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	OwnerTypePrivate = "private"
	OwnerTypeShared  = "shared"
)

const (
	LibraryTypeGeneral         = "general"
	LibraryTypeNovelStory      = "novel_story"
	LibraryTypeEnterpriseDocs  = "enterprise_docs"
	LibraryTypeScientificPaper = "scientific_paper"
	LibraryTypeHumanitiesPaper = "humanities_paper"
)

// Library is a document collection with its own index, knowledge graph and
// access scope. Shared libraries are readable by everyone and writable only by
// admins; private libraries belong to their owner.
type Library struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name        string         `gorm:"not null;index;column:name" json:"name"`
	Description string         `gorm:"column:description" json:"description,omitempty"`
	LibraryType string         `gorm:"not null;default:'general';index;column:library_type" json:"library_type"`
	OwnerType   string         `gorm:"not null;default:'private';column:owner_type" json:"owner_type"`
	OwnerID     *uuid.UUID     `gorm:"type:uuid;column:owner_id" json:"owner_id,omitempty"`
	Tags        datatypes.JSON `gorm:"column:tags;type:jsonb" json:"tags,omitempty"`
	RootPath    string         `gorm:"not null;column:root_path" json:"root_path"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Library) TableName() string { return "library" }
