package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/types"
)

type KnowledgeRelationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, relations []*types.KnowledgeRelation) ([]*types.KnowledgeRelation, error)
	ListTopByWeight(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID, limit int) ([]*types.KnowledgeRelation, error)
	ListByEntityIDs(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID, entityIDs []uuid.UUID, limit int) ([]*types.KnowledgeRelation, error)
	CountByLibrary(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID) (int64, error)
	DeleteByLibrary(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID) error
}

type knowledgeRelationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewKnowledgeRelationRepo(db *gorm.DB, baseLog *logger.Logger) KnowledgeRelationRepo {
	repoLog := baseLog.With("repo", "KnowledgeRelationRepo")
	return &knowledgeRelationRepo{db: db, log: repoLog}
}

func (r *knowledgeRelationRepo) Create(ctx context.Context, tx *gorm.DB, relations []*types.KnowledgeRelation) ([]*types.KnowledgeRelation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(relations) == 0 {
		return []*types.KnowledgeRelation{}, nil
	}
	if err := transaction.WithContext(ctx).CreateInBatches(relations, 200).Error; err != nil {
		return nil, err
	}
	return relations, nil
}

func (r *knowledgeRelationRepo) ListTopByWeight(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID, limit int) ([]*types.KnowledgeRelation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.KnowledgeRelation
	if err := transaction.WithContext(ctx).
		Where("library_id = ?", libraryID).
		Order("weight DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ListByEntityIDs returns edges touching any of the given entities, heaviest
// first.
func (r *knowledgeRelationRepo) ListByEntityIDs(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID, entityIDs []uuid.UUID, limit int) ([]*types.KnowledgeRelation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.KnowledgeRelation
	if len(entityIDs) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("library_id = ?", libraryID).
		Where("source_entity_id IN ? OR target_entity_id IN ?", entityIDs, entityIDs).
		Order("weight DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *knowledgeRelationRepo) CountByLibrary(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.KnowledgeRelation{}).
		Where("library_id = ?", libraryID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *knowledgeRelationRepo) DeleteByLibrary(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("library_id = ?", libraryID).
		Delete(&types.KnowledgeRelation{}).Error
}
