package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/types"
)

type ProviderConfigRepo interface {
	Create(ctx context.Context, tx *gorm.DB, configs []*types.ProviderConfig) ([]*types.ProviderConfig, error)
	GetByIDForOwner(ctx context.Context, tx *gorm.DB, id, ownerID uuid.UUID) (*types.ProviderConfig, error)
	ListByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) ([]*types.ProviderConfig, error)
	GetDefaultOrFirstByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) (*types.ProviderConfig, error)
	ClearDefaultForOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) error
	Update(ctx context.Context, tx *gorm.DB, config *types.ProviderConfig) (*types.ProviderConfig, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type providerConfigRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProviderConfigRepo(db *gorm.DB, baseLog *logger.Logger) ProviderConfigRepo {
	repoLog := baseLog.With("repo", "ProviderConfigRepo")
	return &providerConfigRepo{db: db, log: repoLog}
}

func (r *providerConfigRepo) Create(ctx context.Context, tx *gorm.DB, configs []*types.ProviderConfig) ([]*types.ProviderConfig, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(configs) == 0 {
		return []*types.ProviderConfig{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

func (r *providerConfigRepo) GetByIDForOwner(ctx context.Context, tx *gorm.DB, id, ownerID uuid.UUID) (*types.ProviderConfig, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.ProviderConfig
	if err := transaction.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *providerConfigRepo) ListByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) ([]*types.ProviderConfig, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.ProviderConfig
	if err := transaction.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetDefaultOrFirstByOwner prefers the default config, falling back to any
// config the owner has.
func (r *providerConfigRepo) GetDefaultOrFirstByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) (*types.ProviderConfig, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.ProviderConfig
	err := transaction.WithContext(ctx).
		Where("owner_id = ? AND is_default = TRUE", ownerID).
		First(&result).Error
	if err == nil {
		return &result, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	if err := transaction.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *providerConfigRepo) ClearDefaultForOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.ProviderConfig{}).
		Where("owner_id = ?", ownerID).
		Update("is_default", false).Error
}

func (r *providerConfigRepo) Update(ctx context.Context, tx *gorm.DB, config *types.ProviderConfig) (*types.ProviderConfig, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Save(config).Error; err != nil {
		return nil, err
	}
	return config, nil
}

func (r *providerConfigRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.ProviderConfig{}).Error
}
