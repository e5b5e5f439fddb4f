package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	apperrors "github.com/csyeqing/rag-platform/internal/pkg/errors"
	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/repos"
	"github.com/csyeqing/rag-platform/internal/services/providers"
	"github.com/csyeqing/rag-platform/internal/types"
	"github.com/csyeqing/rag-platform/internal/utils"
)

var providerTypes = map[string]bool{
	types.ProviderOpenAI:           true,
	types.ProviderAnthropic:        true,
	types.ProviderGemini:           true,
	types.ProviderOpenAICompatible: true,
}

// ProviderConfigView is the API shape of a stored provider config. The key is
// never returned in clear, only masked.
type ProviderConfigView struct {
	ID                  uuid.UUID       `json:"id"`
	Name                string          `json:"name"`
	ProviderType        string          `json:"provider_type"`
	EndpointURL         string          `json:"endpoint_url"`
	ModelName           string          `json:"model_name"`
	ContextWindowTokens int             `json:"context_window_tokens"`
	APIKeyMasked        string          `json:"api_key_masked"`
	Capabilities        json.RawMessage `json:"capabilities,omitempty"`
	IsDefault           bool            `json:"is_default"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

type CreateProviderParams struct {
	Name                string
	ProviderType        string
	EndpointURL         string
	ModelName           string
	APIKey              string
	ContextWindowTokens int
	IsDefault           bool
}

type UpdateProviderParams struct {
	Name                *string
	ProviderType        *string
	EndpointURL         *string
	ModelName           *string
	APIKey              *string
	ContextWindowTokens *int
	IsDefault           *bool
}

type ValidateModelParams struct {
	ProviderType string
	EndpointURL  string
	ModelName    string
	APIKey       string
}

type ProviderService interface {
	Create(ctx context.Context, ownerID uuid.UUID, params CreateProviderParams) (*ProviderConfigView, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]*ProviderConfigView, error)
	Get(ctx context.Context, ownerID, id uuid.UUID) (*ProviderConfigView, error)
	Update(ctx context.Context, ownerID, id uuid.UUID, params UpdateProviderParams) (*ProviderConfigView, error)
	Delete(ctx context.Context, ownerID, id uuid.UUID) error
	ValidateModel(params ValidateModelParams) (providers.ValidationResult, error)
	// RuntimeConfig resolves the provider a reply should use: the requested one
	// when set, otherwise the owner's default or first.
	RuntimeConfig(ctx context.Context, ownerID uuid.UUID, id *uuid.UUID) (*types.ProviderConfig, providers.Config, error)
}

type providerService struct {
	configRepo repos.ProviderConfigRepo
	registry   *providers.Registry
	secrets    *utils.SecretBox
	log        *logger.Logger
}

func NewProviderService(configRepo repos.ProviderConfigRepo, registry *providers.Registry, baseLog *logger.Logger) ProviderService {
	serviceLog := baseLog.With("service", "ProviderService")
	secrets := utils.NewSecretBox(
		utils.GetEnv("ENCRYPTION_KEY", "", serviceLog),
		utils.GetEnv("SECRET_KEY", "change-me-in-production", serviceLog),
	)
	return &providerService{
		configRepo: configRepo,
		registry:   registry,
		secrets:    secrets,
		log:        serviceLog,
	}
}

func (s *providerService) serialize(config *types.ProviderConfig) *ProviderConfigView {
	masked := ""
	if config.APIKeyEncrypted != "" {
		if key, err := s.secrets.Decrypt(config.APIKeyEncrypted); err == nil {
			masked = utils.MaskSecret(key)
		} else {
			s.log.Warn("failed to decrypt stored api key", "provider_config_id", config.ID, "error", err)
		}
	}
	return &ProviderConfigView{
		ID:                  config.ID,
		Name:                config.Name,
		ProviderType:        config.ProviderType,
		EndpointURL:         config.EndpointURL,
		ModelName:           config.ModelName,
		ContextWindowTokens: config.ContextWindowTokens,
		APIKeyMasked:        masked,
		Capabilities:        json.RawMessage(config.Capabilities),
		IsDefault:           config.IsDefault,
		CreatedAt:           config.CreatedAt,
		UpdatedAt:           config.UpdatedAt,
	}
}

func (s *providerService) Create(ctx context.Context, ownerID uuid.UUID, params CreateProviderParams) (*ProviderConfigView, error) {
	if !providerTypes[params.ProviderType] {
		return nil, fmt.Errorf("%w: unknown provider_type: %s", apperrors.ErrInvalidArgument, params.ProviderType)
	}
	encrypted, err := s.secrets.Encrypt(params.APIKey)
	if err != nil {
		return nil, err
	}
	if params.IsDefault {
		if err := s.configRepo.ClearDefaultForOwner(ctx, nil, ownerID); err != nil {
			return nil, err
		}
	}
	config := &types.ProviderConfig{
		Name:                params.Name,
		ProviderType:        params.ProviderType,
		EndpointURL:         params.EndpointURL,
		ModelName:           params.ModelName,
		ContextWindowTokens: ClampContextWindow(params.ContextWindowTokens),
		APIKeyEncrypted:     encrypted,
		IsDefault:           params.IsDefault,
		OwnerID:             ownerID,
	}
	if adapter, err := s.registry.Get(params.ProviderType); err == nil {
		result := adapter.ValidateCredentials(providers.Config{
			ProviderType: params.ProviderType,
			EndpointURL:  params.EndpointURL,
			ModelName:    params.ModelName,
			APIKey:       params.APIKey,
		})
		if raw, err := json.Marshal(result.Capabilities); err == nil {
			config.Capabilities = datatypes.JSON(raw)
		}
	}
	rows, err := s.configRepo.Create(ctx, nil, []*types.ProviderConfig{config})
	if err != nil {
		return nil, err
	}
	s.log.Info("provider config created", "provider_config_id", rows[0].ID, "provider_type", params.ProviderType)
	return s.serialize(rows[0]), nil
}

func (s *providerService) List(ctx context.Context, ownerID uuid.UUID) ([]*ProviderConfigView, error) {
	configs, err := s.configRepo.ListByOwner(ctx, nil, ownerID)
	if err != nil {
		return nil, err
	}
	views := make([]*ProviderConfigView, 0, len(configs))
	for _, config := range configs {
		views = append(views, s.serialize(config))
	}
	return views, nil
}

func (s *providerService) loadOwned(ctx context.Context, ownerID, id uuid.UUID) (*types.ProviderConfig, error) {
	config, err := s.configRepo.GetByIDForOwner(ctx, nil, id, ownerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: provider config", apperrors.ErrNotFound)
		}
		return nil, err
	}
	return config, nil
}

func (s *providerService) Get(ctx context.Context, ownerID, id uuid.UUID) (*ProviderConfigView, error) {
	config, err := s.loadOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	return s.serialize(config), nil
}

func (s *providerService) Update(ctx context.Context, ownerID, id uuid.UUID, params UpdateProviderParams) (*ProviderConfigView, error) {
	config, err := s.loadOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if params.Name != nil {
		config.Name = *params.Name
	}
	if params.ProviderType != nil {
		if !providerTypes[*params.ProviderType] {
			return nil, fmt.Errorf("%w: unknown provider_type: %s", apperrors.ErrInvalidArgument, *params.ProviderType)
		}
		config.ProviderType = *params.ProviderType
	}
	if params.EndpointURL != nil {
		config.EndpointURL = *params.EndpointURL
	}
	if params.ModelName != nil {
		config.ModelName = *params.ModelName
	}
	if params.ContextWindowTokens != nil {
		config.ContextWindowTokens = ClampContextWindow(*params.ContextWindowTokens)
	}
	if params.APIKey != nil && *params.APIKey != "" {
		encrypted, err := s.secrets.Encrypt(*params.APIKey)
		if err != nil {
			return nil, err
		}
		config.APIKeyEncrypted = encrypted
	}
	if params.IsDefault != nil {
		if *params.IsDefault && !config.IsDefault {
			if err := s.configRepo.ClearDefaultForOwner(ctx, nil, ownerID); err != nil {
				return nil, err
			}
		}
		config.IsDefault = *params.IsDefault
	}
	updated, err := s.configRepo.Update(ctx, nil, config)
	if err != nil {
		return nil, err
	}
	return s.serialize(updated), nil
}

func (s *providerService) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	if _, err := s.loadOwned(ctx, ownerID, id); err != nil {
		return err
	}
	return s.configRepo.Delete(ctx, nil, id)
}

func (s *providerService) ValidateModel(params ValidateModelParams) (providers.ValidationResult, error) {
	adapter, err := s.registry.Get(params.ProviderType)
	if err != nil {
		return providers.ValidationResult{}, fmt.Errorf("%w: %s", apperrors.ErrInvalidArgument, err.Error())
	}
	return adapter.ValidateCredentials(providers.Config{
		ProviderType: params.ProviderType,
		EndpointURL:  params.EndpointURL,
		ModelName:    params.ModelName,
		APIKey:       params.APIKey,
	}), nil
}

func (s *providerService) RuntimeConfig(ctx context.Context, ownerID uuid.UUID, id *uuid.UUID) (*types.ProviderConfig, providers.Config, error) {
	var config *types.ProviderConfig
	var err error
	if id != nil {
		config, err = s.loadOwned(ctx, ownerID, *id)
		if err != nil {
			return nil, providers.Config{}, err
		}
	} else {
		config, err = s.configRepo.GetDefaultOrFirstByOwner(ctx, nil, ownerID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, providers.Config{}, fmt.Errorf("%w: no provider configured", apperrors.ErrInvalidArgument)
			}
			return nil, providers.Config{}, err
		}
	}
	key, err := s.secrets.Decrypt(config.APIKeyEncrypted)
	if err != nil {
		return nil, providers.Config{}, err
	}
	return config, providers.Config{
		ProviderType:        config.ProviderType,
		EndpointURL:         config.EndpointURL,
		ModelName:           config.ModelName,
		APIKey:              key,
		ContextWindowTokens: ClampContextWindow(config.ContextWindowTokens),
	}, nil
}
