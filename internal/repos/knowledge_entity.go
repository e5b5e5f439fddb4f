package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/types"
)

type KnowledgeEntityRepo interface {
	Create(ctx context.Context, tx *gorm.DB, entities []*types.KnowledgeEntity) ([]*types.KnowledgeEntity, error)
	GetByLibraryAndName(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID, name string) (*types.KnowledgeEntity, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.KnowledgeEntity, error)
	ListByLibrary(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID) ([]*types.KnowledgeEntity, error)
	ListTopByFrequency(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID, limit int) ([]*types.KnowledgeEntity, error)
	SearchByDisplayName(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID, pattern string, limit int) ([]*types.KnowledgeEntity, error)
	CountByLibrary(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID) (int64, error)
	DeleteByLibrary(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID) error
}

type knowledgeEntityRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewKnowledgeEntityRepo(db *gorm.DB, baseLog *logger.Logger) KnowledgeEntityRepo {
	repoLog := baseLog.With("repo", "KnowledgeEntityRepo")
	return &knowledgeEntityRepo{db: db, log: repoLog}
}

func (r *knowledgeEntityRepo) Create(ctx context.Context, tx *gorm.DB, entities []*types.KnowledgeEntity) ([]*types.KnowledgeEntity, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(entities) == 0 {
		return []*types.KnowledgeEntity{}, nil
	}
	// Duplicate (library_id, name) rows can appear when two rebuild paths
	// race; the uniqueness key wins and the copy is dropped.
	if err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(entities, 200).Error; err != nil {
		return nil, err
	}
	return entities, nil
}

func (r *knowledgeEntityRepo) GetByLibraryAndName(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID, name string) (*types.KnowledgeEntity, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.KnowledgeEntity
	if err := transaction.WithContext(ctx).
		Where("library_id = ? AND name = ?", libraryID, name).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *knowledgeEntityRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.KnowledgeEntity, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.KnowledgeEntity
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *knowledgeEntityRepo) ListByLibrary(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID) ([]*types.KnowledgeEntity, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.KnowledgeEntity
	if err := transaction.WithContext(ctx).
		Where("library_id = ?", libraryID).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *knowledgeEntityRepo) ListTopByFrequency(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID, limit int) ([]*types.KnowledgeEntity, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.KnowledgeEntity
	if err := transaction.WithContext(ctx).
		Where("library_id = ?", libraryID).
		Order("frequency DESC, display_name ASC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *knowledgeEntityRepo) SearchByDisplayName(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID, pattern string, limit int) ([]*types.KnowledgeEntity, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.KnowledgeEntity
	if err := transaction.WithContext(ctx).
		Where("library_id = ? AND display_name ILIKE ?", libraryID, "%"+pattern+"%").
		Order("frequency DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *knowledgeEntityRepo) CountByLibrary(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.KnowledgeEntity{}).
		Where("library_id = ?", libraryID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *knowledgeEntityRepo) DeleteByLibrary(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("library_id = ?", libraryID).
		Delete(&types.KnowledgeEntity{}).Error
}
