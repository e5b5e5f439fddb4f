package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// Chunk is one embedded slice of a knowledge file. The embedding column is
// created at vector(1536) and resized during migration when
// DEFAULT_EMBEDDING_DIM differs; backend vectors are truncated or zero-padded
// to that dimension before insert.
type Chunk struct {
	ID         uuid.UUID       `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LibraryID  uuid.UUID       `gorm:"type:uuid;not null;index;column:library_id" json:"library_id"`
	FileID     uuid.UUID       `gorm:"type:uuid;not null;index;column:file_id" json:"file_id"`
	ChunkIndex int             `gorm:"not null;column:chunk_index" json:"chunk_index"`
	Content    string          `gorm:"not null;column:content" json:"content"`
	Embedding  pgvector.Vector `gorm:"type:vector(1536);column:embedding" json:"-"`
	Metadata   datatypes.JSON  `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	CreatedAt  time.Time       `gorm:"not null;default:now()" json:"created_at"`
}

func (Chunk) TableName() string { return "chunk" }
