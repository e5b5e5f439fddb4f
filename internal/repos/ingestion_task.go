package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/types"
)

type IngestionTaskRepo interface {
	Create(ctx context.Context, tx *gorm.DB, tasks []*types.IngestionTask) ([]*types.IngestionTask, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.IngestionTask, error)
	Update(ctx context.Context, tx *gorm.DB, task *types.IngestionTask) (*types.IngestionTask, error)
}

type ingestionTaskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIngestionTaskRepo(db *gorm.DB, baseLog *logger.Logger) IngestionTaskRepo {
	repoLog := baseLog.With("repo", "IngestionTaskRepo")
	return &ingestionTaskRepo{db: db, log: repoLog}
}

func (r *ingestionTaskRepo) Create(ctx context.Context, tx *gorm.DB, tasks []*types.IngestionTask) ([]*types.IngestionTask, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(tasks) == 0 {
		return []*types.IngestionTask{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *ingestionTaskRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.IngestionTask, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.IngestionTask
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *ingestionTaskRepo) Update(ctx context.Context, tx *gorm.DB, task *types.IngestionTask) (*types.IngestionTask, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Save(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}
