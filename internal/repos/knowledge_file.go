package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/types"
)

type KnowledgeFileRepo interface {
	Create(ctx context.Context, tx *gorm.DB, files []*types.KnowledgeFile) ([]*types.KnowledgeFile, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.KnowledgeFile, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.KnowledgeFile, error)
	GetByLibraryAndPath(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID, filepath string) (*types.KnowledgeFile, error)
	ListByLibrary(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID) ([]*types.KnowledgeFile, error)
	Update(ctx context.Context, tx *gorm.DB, file *types.KnowledgeFile) (*types.KnowledgeFile, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	DeleteByLibrary(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID) error
}

type knowledgeFileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewKnowledgeFileRepo(db *gorm.DB, baseLog *logger.Logger) KnowledgeFileRepo {
	repoLog := baseLog.With("repo", "KnowledgeFileRepo")
	return &knowledgeFileRepo{db: db, log: repoLog}
}

func (r *knowledgeFileRepo) Create(ctx context.Context, tx *gorm.DB, files []*types.KnowledgeFile) ([]*types.KnowledgeFile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(files) == 0 {
		return []*types.KnowledgeFile{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

func (r *knowledgeFileRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.KnowledgeFile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.KnowledgeFile
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *knowledgeFileRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.KnowledgeFile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.KnowledgeFile
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

func (r *knowledgeFileRepo) GetByLibraryAndPath(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID, filepath string) (*types.KnowledgeFile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.KnowledgeFile
	if err := transaction.WithContext(ctx).
		Where("library_id = ? AND filepath = ?", libraryID, filepath).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *knowledgeFileRepo) ListByLibrary(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID) ([]*types.KnowledgeFile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.KnowledgeFile
	if err := transaction.WithContext(ctx).
		Where("library_id = ?", libraryID).
		Order("filename ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *knowledgeFileRepo) Update(ctx context.Context, tx *gorm.DB, file *types.KnowledgeFile) (*types.KnowledgeFile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Save(file).Error; err != nil {
		return nil, err
	}
	return file, nil
}

func (r *knowledgeFileRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.KnowledgeFile{}).Error
}

func (r *knowledgeFileRepo) DeleteByLibrary(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("library_id = ?", libraryID).
		Delete(&types.KnowledgeFile{}).Error
}
