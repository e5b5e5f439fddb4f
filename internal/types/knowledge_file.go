package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	FileStatusIndexed = "indexed"
	FileStatusFailed  = "failed"
)

type KnowledgeFile struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LibraryID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_file_library_path,priority:1;column:library_id" json:"library_id"`
	Filename    string    `gorm:"not null;index;column:filename" json:"filename"`
	Filepath    string    `gorm:"not null;uniqueIndex:uq_file_library_path,priority:2;column:filepath" json:"filepath"`
	FileType    string    `gorm:"not null;default:'txt';column:file_type" json:"file_type"`
	ContentHash string    `gorm:"index;column:content_hash" json:"content_hash"`
	Status      string    `gorm:"not null;default:'indexed';column:status" json:"status"`
	CreatedAt   time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (KnowledgeFile) TableName() string { return "knowledge_file" }
