package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/types"
)

type LibraryRepo interface {
	Create(ctx context.Context, tx *gorm.DB, libraries []*types.Library) ([]*types.Library, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Library, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Library, error)
	ListVisible(ctx context.Context, tx *gorm.DB, userID uuid.UUID, isAdmin bool) ([]*types.Library, error)
	Update(ctx context.Context, tx *gorm.DB, library *types.Library) (*types.Library, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type libraryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLibraryRepo(db *gorm.DB, baseLog *logger.Logger) LibraryRepo {
	repoLog := baseLog.With("repo", "LibraryRepo")
	return &libraryRepo{db: db, log: repoLog}
}

func (r *libraryRepo) Create(ctx context.Context, tx *gorm.DB, libraries []*types.Library) ([]*types.Library, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(libraries) == 0 {
		return []*types.Library{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&libraries).Error; err != nil {
		return nil, err
	}
	return libraries, nil
}

func (r *libraryRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Library, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.Library
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *libraryRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Library, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Library
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

// ListVisible returns shared libraries plus the caller's private ones. Admins
// see everything.
func (r *libraryRepo) ListVisible(ctx context.Context, tx *gorm.DB, userID uuid.UUID, isAdmin bool) ([]*types.Library, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Library
	query := transaction.WithContext(ctx).Order("created_at DESC")
	if !isAdmin {
		query = query.Where("owner_type = ? OR owner_id = ?", types.OwnerTypeShared, userID)
	}
	if err := query.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *libraryRepo) Update(ctx context.Context, tx *gorm.DB, library *types.Library) (*types.Library, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Save(library).Error; err != nil {
		return nil, err
	}
	return library, nil
}

func (r *libraryRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.Library{}).Error
}
