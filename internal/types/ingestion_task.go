package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	TaskTypeSyncDirectory = "sync_directory"
	TaskTypeUpload        = "upload"
	TaskTypeRebuildIndex  = "rebuild_index"
)

const (
	TaskStatusQueued    = "queued"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

type IngestionTask struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TaskType     string         `gorm:"not null;column:task_type" json:"task_type"`
	Status       string         `gorm:"not null;default:'queued';column:status" json:"status"`
	LibraryID    uuid.UUID      `gorm:"type:uuid;not null;index;column:library_id" json:"library_id"`
	CreatedBy    uuid.UUID      `gorm:"type:uuid;not null;column:created_by" json:"created_by"`
	Detail       datatypes.JSON `gorm:"column:detail;type:jsonb" json:"detail,omitempty"`
	ErrorMessage string         `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now()" json:"created_at"`
	StartedAt    *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt   *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
}

func (IngestionTask) TableName() string { return "ingestion_task" }
