package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/types"
)

type RetrievalProfileRepo interface {
	Create(ctx context.Context, tx *gorm.DB, profiles []*types.RetrievalProfile) ([]*types.RetrievalProfile, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.RetrievalProfile, error)
	GetByKey(ctx context.Context, tx *gorm.DB, profileKey string) (*types.RetrievalProfile, error)
	GetDefault(ctx context.Context, tx *gorm.DB) (*types.RetrievalProfile, error)
	List(ctx context.Context, tx *gorm.DB, includeInactive bool) ([]*types.RetrievalProfile, error)
	ClearDefaultExcept(ctx context.Context, tx *gorm.DB, keepID uuid.UUID) error
	Update(ctx context.Context, tx *gorm.DB, profile *types.RetrievalProfile) (*types.RetrievalProfile, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type retrievalProfileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRetrievalProfileRepo(db *gorm.DB, baseLog *logger.Logger) RetrievalProfileRepo {
	repoLog := baseLog.With("repo", "RetrievalProfileRepo")
	return &retrievalProfileRepo{db: db, log: repoLog}
}

func (r *retrievalProfileRepo) Create(ctx context.Context, tx *gorm.DB, profiles []*types.RetrievalProfile) ([]*types.RetrievalProfile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(profiles) == 0 {
		return []*types.RetrievalProfile{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}

func (r *retrievalProfileRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.RetrievalProfile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.RetrievalProfile
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *retrievalProfileRepo) GetByKey(ctx context.Context, tx *gorm.DB, profileKey string) (*types.RetrievalProfile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.RetrievalProfile
	if err := transaction.WithContext(ctx).
		Where("profile_key = ?", profileKey).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *retrievalProfileRepo) GetDefault(ctx context.Context, tx *gorm.DB) (*types.RetrievalProfile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.RetrievalProfile
	if err := transaction.WithContext(ctx).
		Where("is_default = TRUE AND is_active = TRUE").
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *retrievalProfileRepo) List(ctx context.Context, tx *gorm.DB, includeInactive bool) ([]*types.RetrievalProfile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.RetrievalProfile
	query := transaction.WithContext(ctx).Order("is_builtin DESC, created_at ASC")
	if !includeInactive {
		query = query.Where("is_active = TRUE")
	}
	if err := query.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *retrievalProfileRepo) ClearDefaultExcept(ctx context.Context, tx *gorm.DB, keepID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.RetrievalProfile{}).
		Where("id <> ?", keepID).
		Update("is_default", false).Error
}

func (r *retrievalProfileRepo) Update(ctx context.Context, tx *gorm.DB, profile *types.RetrievalProfile) (*types.RetrievalProfile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Save(profile).Error; err != nil {
		return nil, err
	}
	return profile, nil
}

func (r *retrievalProfileRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.RetrievalProfile{}).Error
}
