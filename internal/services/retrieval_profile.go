package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "github.com/csyeqing/rag-platform/internal/pkg/errors"
	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/repos"
	"github.com/csyeqing/rag-platform/internal/types"
)

// RetrievalConfig is the fully clamped knob set the hybrid engine runs with.
// Values come from a stored profile; anything missing or out of range falls
// back to the general defaults.
type RetrievalConfig struct {
	MinTop1Score    float64 `json:"rag_min_top1_score"`
	MinSupportScore float64 `json:"rag_min_support_score"`
	MinSupportCount int     `json:"rag_min_support_count"`
	MinItemScore    float64 `json:"rag_min_item_score"`

	RagGraphMaxTerms   int     `json:"rag_graph_max_terms"`
	GraphChannelWeight float64 `json:"graph_channel_weight"`
	GraphOnlyPenalty   float64 `json:"graph_only_penalty"`
	VectorSemanticMin  float64 `json:"vector_semantic_min"`

	AliasIntentEnabled  bool `json:"alias_intent_enabled"`
	AliasMiningMaxTerms int  `json:"alias_mining_max_terms"`
	CoreferenceEnabled  bool `json:"co_reference_enabled"`

	VectorMultiplier  int `json:"vector_candidate_multiplier"`
	KeywordMultiplier int `json:"keyword_candidate_multiplier"`
	GraphMultiplier   int `json:"graph_candidate_multiplier"`

	FallbackRelaxEnabled bool    `json:"fallback_relax_enabled"`
	Top1Relax            float64 `json:"fallback_top1_relax"`
	SupportRelax         float64 `json:"fallback_support_relax"`
	ItemRelax            float64 `json:"fallback_item_relax"`

	SummaryIntentEnabled bool `json:"summary_intent_enabled"`
	SummaryExpandFactor  int  `json:"summary_expand_factor"`
	SummaryMinChunks     int  `json:"summary_min_chunks"`
	SummaryPerFileCap    int  `json:"summary_per_file_cap"`
	SummaryMinFiles      int  `json:"summary_min_files"`

	ExpandOnWeakHits  bool    `json:"keyword_fallback_expand_on_weak_hits"`
	FallbackMaxChunks int     `json:"keyword_fallback_max_chunks"`
	FallbackMinScore  float64 `json:"keyword_fallback_min_score"`
	FallbackScanLimit int     `json:"keyword_fallback_scan_limit"`
}

func defaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		MinTop1Score:    0.30,
		MinSupportScore: 0.18,
		MinSupportCount: 2,
		MinItemScore:    0.10,

		RagGraphMaxTerms:   12,
		GraphChannelWeight: 0.65,
		GraphOnlyPenalty:   0.55,
		VectorSemanticMin:  0.12,

		AliasIntentEnabled:  true,
		AliasMiningMaxTerms: 8,
		CoreferenceEnabled:  true,

		VectorMultiplier:  3,
		KeywordMultiplier: 3,
		GraphMultiplier:   4,

		FallbackRelaxEnabled: true,
		Top1Relax:            0.08,
		SupportRelax:         0.06,
		ItemRelax:            0.04,

		SummaryIntentEnabled: true,
		SummaryExpandFactor:  3,
		SummaryMinChunks:     8,
		SummaryPerFileCap:    2,
		SummaryMinFiles:      3,

		ExpandOnWeakHits:  true,
		FallbackMaxChunks: 240,
		FallbackMinScore:  0.08,
		FallbackScanLimit: 8000,
	}
}

// BuildRuntimeRetrievalConfig merges a stored profile config over the defaults
// and clamps every knob to its safe range.
func BuildRuntimeRetrievalConfig(raw map[string]any) RetrievalConfig {
	base := defaultRetrievalConfig()
	cfg := RetrievalConfig{
		MinTop1Score:    clampFloat(raw, "rag_min_top1_score", 0, 1.5, base.MinTop1Score),
		MinSupportScore: clampFloat(raw, "rag_min_support_score", 0, 1.5, base.MinSupportScore),
		MinSupportCount: clampInt(raw, "rag_min_support_count", 1, 8, base.MinSupportCount),
		MinItemScore:    clampFloat(raw, "rag_min_item_score", 0, 1.5, base.MinItemScore),

		RagGraphMaxTerms:   clampInt(raw, "rag_graph_max_terms", 4, 40, base.RagGraphMaxTerms),
		GraphChannelWeight: clampFloat(raw, "graph_channel_weight", 0.1, 1.2, base.GraphChannelWeight),
		GraphOnlyPenalty:   clampFloat(raw, "graph_only_penalty", 0.1, 1.0, base.GraphOnlyPenalty),
		VectorSemanticMin:  clampFloat(raw, "vector_semantic_min", 0, 1.0, base.VectorSemanticMin),

		AliasIntentEnabled:  getBool(raw, "alias_intent_enabled", base.AliasIntentEnabled),
		AliasMiningMaxTerms: clampInt(raw, "alias_mining_max_terms", 0, 24, base.AliasMiningMaxTerms),
		CoreferenceEnabled:  getBool(raw, "co_reference_enabled", base.CoreferenceEnabled),

		VectorMultiplier:  clampInt(raw, "vector_candidate_multiplier", 2, 20, base.VectorMultiplier),
		KeywordMultiplier: clampInt(raw, "keyword_candidate_multiplier", 2, 20, base.KeywordMultiplier),
		GraphMultiplier:   clampInt(raw, "graph_candidate_multiplier", 2, 24, base.GraphMultiplier),

		FallbackRelaxEnabled: getBool(raw, "fallback_relax_enabled", base.FallbackRelaxEnabled),
		Top1Relax:            clampFloat(raw, "fallback_top1_relax", 0, 0.30, base.Top1Relax),
		SupportRelax:         clampFloat(raw, "fallback_support_relax", 0, 0.30, base.SupportRelax),
		ItemRelax:            clampFloat(raw, "fallback_item_relax", 0, 0.20, base.ItemRelax),

		SummaryIntentEnabled: getBool(raw, "summary_intent_enabled", base.SummaryIntentEnabled),
		SummaryExpandFactor:  clampInt(raw, "summary_expand_factor", 1, 8, base.SummaryExpandFactor),
		SummaryMinChunks:     clampInt(raw, "summary_min_chunks", 4, 24, base.SummaryMinChunks),
		SummaryPerFileCap:    clampInt(raw, "summary_per_file_cap", 1, 6, base.SummaryPerFileCap),
		SummaryMinFiles:      clampInt(raw, "summary_min_files", 1, 10, base.SummaryMinFiles),

		ExpandOnWeakHits:  getBool(raw, "keyword_fallback_expand_on_weak_hits", base.ExpandOnWeakHits),
		FallbackMaxChunks: clampInt(raw, "keyword_fallback_max_chunks", 20, 800, base.FallbackMaxChunks),
		FallbackMinScore:  clampFloat(raw, "keyword_fallback_min_score", 0, 1.5, base.FallbackMinScore),
		FallbackScanLimit: clampInt(raw, "keyword_fallback_scan_limit", 200, 20000, base.FallbackScanLimit),
	}
	return cfg
}

func clampFloat(raw map[string]any, key string, lo, hi, fallback float64) float64 {
	value, ok := rawFloat(raw, key)
	if !ok || value < lo || value > hi {
		return fallback
	}
	return value
}

func clampInt(raw map[string]any, key string, lo, hi, fallback int) int {
	value, ok := rawFloat(raw, key)
	if !ok {
		return fallback
	}
	n := int(value)
	if n < lo || n > hi {
		return fallback
	}
	return n
}

func rawFloat(raw map[string]any, key string) (float64, bool) {
	if raw == nil {
		return 0, false
	}
	switch v := raw[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func getBool(raw map[string]any, key string, fallback bool) bool {
	if raw == nil {
		return fallback
	}
	if v, ok := raw[key].(bool); ok {
		return v
	}
	return fallback
}

type builtinProfile struct {
	Key         string
	Name        string
	Description string
	ProfileType string
	IsDefault   bool
	Config      map[string]any
}

var builtinProfiles = []builtinProfile{
	{
		Key:         "general_default",
		Name:        "通用默认",
		Description: "平衡的默认检索配置，适合大多数知识库。",
		ProfileType: types.ProfileTypeGeneral,
		IsDefault:   true,
		Config: map[string]any{
			"rag_min_top1_score": 0.30, "rag_min_support_score": 0.18, "rag_min_support_count": 2, "rag_min_item_score": 0.10,
			"rag_graph_max_terms": 12, "graph_channel_weight": 0.65, "graph_only_penalty": 0.55, "vector_semantic_min": 0.12,
			"alias_intent_enabled": true, "alias_mining_max_terms": 8, "co_reference_enabled": true,
			"vector_candidate_multiplier": 3, "keyword_candidate_multiplier": 3, "graph_candidate_multiplier": 4,
			"fallback_relax_enabled": true, "fallback_top1_relax": 0.08, "fallback_support_relax": 0.06, "fallback_item_relax": 0.04,
			"summary_intent_enabled": true, "summary_expand_factor": 3, "summary_min_chunks": 8,
			"summary_per_file_cap": 2, "summary_min_files": 3,
			"keyword_fallback_expand_on_weak_hits": true,
			"keyword_fallback_max_chunks": 240, "keyword_fallback_min_score": 0.08, "keyword_fallback_scan_limit": 8000,
		},
	},
	{
		Key:         "novel_story_cn",
		Name:        "中文小说",
		Description: "面向长篇中文小说的配置，强化别名挖掘与全书总结。",
		ProfileType: types.ProfileTypeNovelStory,
		Config: map[string]any{
			"rag_min_top1_score": 0.27, "rag_min_support_score": 0.16, "rag_min_support_count": 2, "rag_min_item_score": 0.08,
			"rag_graph_max_terms": 10, "graph_channel_weight": 0.60, "graph_only_penalty": 0.50, "vector_semantic_min": 0.10,
			"alias_intent_enabled": true, "alias_mining_max_terms": 10, "co_reference_enabled": true,
			"vector_candidate_multiplier": 3, "keyword_candidate_multiplier": 3, "graph_candidate_multiplier": 4,
			"fallback_relax_enabled": true, "fallback_top1_relax": 0.10, "fallback_support_relax": 0.07, "fallback_item_relax": 0.04,
			"summary_intent_enabled": true, "summary_expand_factor": 4, "summary_min_chunks": 12,
			"summary_per_file_cap": 3, "summary_min_files": 4,
			"keyword_fallback_expand_on_weak_hits": true,
			"keyword_fallback_max_chunks": 280, "keyword_fallback_min_score": 0.06, "keyword_fallback_scan_limit": 10000,
		},
	},
	{
		Key:         "enterprise_docs",
		Name:        "企业文档",
		Description: "面向企业制度与流程文档的配置，阈值更严格。",
		ProfileType: types.ProfileTypeEnterpriseDocs,
		Config: map[string]any{
			"rag_min_top1_score": 0.34, "rag_min_support_score": 0.22, "rag_min_support_count": 2, "rag_min_item_score": 0.12,
			"rag_graph_max_terms": 8, "graph_channel_weight": 0.55, "graph_only_penalty": 0.48, "vector_semantic_min": 0.14,
			"alias_intent_enabled": false, "alias_mining_max_terms": 2, "co_reference_enabled": false,
			"vector_candidate_multiplier": 3, "keyword_candidate_multiplier": 3, "graph_candidate_multiplier": 3,
			"fallback_relax_enabled": true, "fallback_top1_relax": 0.06, "fallback_support_relax": 0.05, "fallback_item_relax": 0.03,
			"summary_intent_enabled": true, "summary_expand_factor": 2, "summary_min_chunks": 8,
			"summary_per_file_cap": 2, "summary_min_files": 3,
			"keyword_fallback_expand_on_weak_hits": true,
			"keyword_fallback_max_chunks": 180, "keyword_fallback_min_score": 0.10, "keyword_fallback_scan_limit": 6000,
		},
	},
	{
		Key:         "scientific_paper",
		Name:        "科研论文",
		Description: "面向论文与技术报告的配置，偏重精确术语匹配。",
		ProfileType: types.ProfileTypeScientificPaper,
		Config: map[string]any{
			"rag_min_top1_score": 0.36, "rag_min_support_score": 0.24, "rag_min_support_count": 2, "rag_min_item_score": 0.14,
			"rag_graph_max_terms": 9, "graph_channel_weight": 0.58, "graph_only_penalty": 0.50, "vector_semantic_min": 0.15,
			"alias_intent_enabled": false, "alias_mining_max_terms": 1, "co_reference_enabled": false,
			"vector_candidate_multiplier": 3, "keyword_candidate_multiplier": 3, "graph_candidate_multiplier": 4,
			"fallback_relax_enabled": true, "fallback_top1_relax": 0.08, "fallback_support_relax": 0.06, "fallback_item_relax": 0.04,
			"summary_intent_enabled": true, "summary_expand_factor": 3, "summary_min_chunks": 9,
			"summary_per_file_cap": 2, "summary_min_files": 3,
			"keyword_fallback_expand_on_weak_hits": true,
			"keyword_fallback_max_chunks": 180, "keyword_fallback_min_score": 0.10, "keyword_fallback_scan_limit": 6000,
		},
	},
	{
		Key:         "humanities_research",
		Name:        "人文研究",
		Description: "面向人文社科资料的配置，兼顾别名与长文总结。",
		ProfileType: types.ProfileTypeHumanitiesPaper,
		Config: map[string]any{
			"rag_min_top1_score": 0.32, "rag_min_support_score": 0.19, "rag_min_support_count": 2, "rag_min_item_score": 0.10,
			"rag_graph_max_terms": 12, "graph_channel_weight": 0.62, "graph_only_penalty": 0.52, "vector_semantic_min": 0.12,
			"alias_intent_enabled": true, "alias_mining_max_terms": 6, "co_reference_enabled": true,
			"vector_candidate_multiplier": 3, "keyword_candidate_multiplier": 3, "graph_candidate_multiplier": 4,
			"fallback_relax_enabled": true, "fallback_top1_relax": 0.08, "fallback_support_relax": 0.06, "fallback_item_relax": 0.04,
			"summary_intent_enabled": true, "summary_expand_factor": 4, "summary_min_chunks": 10,
			"summary_per_file_cap": 3, "summary_min_files": 4,
			"keyword_fallback_expand_on_weak_hits": true,
			"keyword_fallback_max_chunks": 220, "keyword_fallback_min_score": 0.08, "keyword_fallback_scan_limit": 8000,
		},
	},
}

var profileKeyInvalidChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
var profileKeyUnderscoreRuns = regexp.MustCompile(`_+`)

// NormalizeProfileKey sanitizes a user-supplied profile key. Invalid characters
// become underscores, underscore runs collapse, and the result is capped at 80
// characters.
func NormalizeProfileKey(raw string) (string, error) {
	key := profileKeyInvalidChars.ReplaceAllString(strings.TrimSpace(raw), "_")
	key = profileKeyUnderscoreRuns.ReplaceAllString(key, "_")
	key = strings.Trim(key, "_")
	if len(key) > 80 {
		key = key[:80]
	}
	if len(key) < 2 {
		return "", fmt.Errorf("%w: profile key must keep at least 2 valid characters", apperrors.ErrInvalidArgument)
	}
	return key, nil
}

// RetrievalProfileInput carries create/update fields. Nil pointers mean
// "leave unchanged" on update.
type RetrievalProfileInput struct {
	Key         string
	Name        string
	Description string
	ProfileType string
	Config      map[string]any
	IsDefault   *bool
	IsActive    *bool
}

type RetrievalProfileService interface {
	EnsureDefaultProfiles(ctx context.Context) error
	List(ctx context.Context, includeInactive bool) ([]*types.RetrievalProfile, error)
	Create(ctx context.Context, input RetrievalProfileInput, createdBy uuid.UUID) (*types.RetrievalProfile, error)
	Update(ctx context.Context, id uuid.UUID, input RetrievalProfileInput) (*types.RetrievalProfile, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ResolveRuntimeConfig(ctx context.Context, profileID *uuid.UUID) (*uuid.UUID, RetrievalConfig, error)
}

type retrievalProfileService struct {
	log         *logger.Logger
	profileRepo repos.RetrievalProfileRepo
}

func NewRetrievalProfileService(profileRepo repos.RetrievalProfileRepo, log *logger.Logger) RetrievalProfileService {
	return &retrievalProfileService{
		log:         log.With("service", "RetrievalProfileService"),
		profileRepo: profileRepo,
	}
}

// EnsureDefaultProfiles seeds any missing builtin profiles. Existing rows are
// left untouched so admin edits survive restarts.
func (s *retrievalProfileService) EnsureDefaultProfiles(ctx context.Context) error {
	for _, builtin := range builtinProfiles {
		_, err := s.profileRepo.GetByKey(ctx, nil, builtin.Key)
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		config, err := json.Marshal(builtin.Config)
		if err != nil {
			return err
		}
		profile := &types.RetrievalProfile{
			ProfileKey:  builtin.Key,
			Name:        builtin.Name,
			Description: builtin.Description,
			ProfileType: builtin.ProfileType,
			Config:      config,
			IsDefault:   builtin.IsDefault,
			IsBuiltin:   true,
			IsActive:    true,
		}
		if _, err := s.profileRepo.Create(ctx, nil, []*types.RetrievalProfile{profile}); err != nil {
			return err
		}
		s.log.Info("Seeded builtin retrieval profile", "profile_key", builtin.Key)
	}
	return nil
}

func (s *retrievalProfileService) List(ctx context.Context, includeInactive bool) ([]*types.RetrievalProfile, error) {
	return s.profileRepo.List(ctx, nil, includeInactive)
}

func (s *retrievalProfileService) Create(ctx context.Context, input RetrievalProfileInput, createdBy uuid.UUID) (*types.RetrievalProfile, error) {
	key, err := NormalizeProfileKey(input.Key)
	if err != nil {
		return nil, err
	}
	if _, err := s.profileRepo.GetByKey(ctx, nil, key); err == nil {
		return nil, fmt.Errorf("%w: profile key already exists: %s", apperrors.ErrInvalidArgument, key)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	config, err := json.Marshal(input.Config)
	if err != nil {
		return nil, err
	}
	profileType := input.ProfileType
	if profileType == "" {
		profileType = types.ProfileTypeGeneral
	}
	profile := &types.RetrievalProfile{
		ProfileKey:  key,
		Name:        input.Name,
		Description: input.Description,
		ProfileType: profileType,
		Config:      config,
		IsBuiltin:   false,
		IsActive:    true,
		CreatedBy:   &createdBy,
	}
	if input.IsActive != nil {
		profile.IsActive = *input.IsActive
	}
	rows, err := s.profileRepo.Create(ctx, nil, []*types.RetrievalProfile{profile})
	if err != nil {
		return nil, err
	}
	created := rows[0]
	if input.IsDefault != nil && *input.IsDefault {
		created.IsDefault = true
		if _, err := s.profileRepo.Update(ctx, nil, created); err != nil {
			return nil, err
		}
		if err := s.profileRepo.ClearDefaultExcept(ctx, nil, created.ID); err != nil {
			return nil, err
		}
	}
	return created, nil
}

func (s *retrievalProfileService) Update(ctx context.Context, id uuid.UUID, input RetrievalProfileInput) (*types.RetrievalProfile, error) {
	profile, err := s.profileRepo.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: retrieval profile", apperrors.ErrNotFound)
		}
		return nil, err
	}

	if input.Name != "" {
		profile.Name = input.Name
	}
	if input.Description != "" {
		profile.Description = input.Description
	}
	if input.ProfileType != "" {
		profile.ProfileType = input.ProfileType
	}
	if input.Config != nil {
		config, err := json.Marshal(input.Config)
		if err != nil {
			return nil, err
		}
		profile.Config = config
	}
	if input.IsActive != nil {
		profile.IsActive = *input.IsActive
	}
	if input.IsDefault != nil {
		profile.IsDefault = *input.IsDefault
	}

	wasDefault := profile.IsDefault
	updated, err := s.profileRepo.Update(ctx, nil, profile)
	if err != nil {
		return nil, err
	}
	if wasDefault && updated.IsActive {
		if err := s.profileRepo.ClearDefaultExcept(ctx, nil, updated.ID); err != nil {
			return nil, err
		}
	}
	// A deactivated default cannot stay default; fall back to the builtin
	// general profile.
	if !updated.IsActive && updated.IsDefault {
		updated.IsDefault = false
		if _, err := s.profileRepo.Update(ctx, nil, updated); err != nil {
			return nil, err
		}
		if err := s.promoteFallbackDefault(ctx, updated.ID); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

func (s *retrievalProfileService) Delete(ctx context.Context, id uuid.UUID) error {
	profile, err := s.profileRepo.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: retrieval profile", apperrors.ErrNotFound)
		}
		return err
	}
	if profile.IsBuiltin {
		return fmt.Errorf("%w: builtin profiles cannot be deleted", apperrors.ErrInvalidArgument)
	}
	wasDefault := profile.IsDefault
	if err := s.profileRepo.Delete(ctx, nil, id); err != nil {
		return err
	}
	if wasDefault {
		return s.promoteFallbackDefault(ctx, id)
	}
	return nil
}

func (s *retrievalProfileService) promoteFallbackDefault(ctx context.Context, excludeID uuid.UUID) error {
	fallback, err := s.profileRepo.GetByKey(ctx, nil, "general_default")
	if err != nil || fallback.ID == excludeID || !fallback.IsActive {
		profiles, listErr := s.profileRepo.List(ctx, nil, false)
		if listErr != nil {
			return listErr
		}
		fallback = nil
		for _, candidate := range profiles {
			if candidate.ID != excludeID {
				fallback = candidate
				break
			}
		}
		if fallback == nil {
			return nil
		}
	}
	fallback.IsDefault = true
	if _, err := s.profileRepo.Update(ctx, nil, fallback); err != nil {
		return err
	}
	return s.profileRepo.ClearDefaultExcept(ctx, nil, fallback.ID)
}

// ResolveRuntimeConfig turns an optional profile id into the clamped runtime
// config. A missing or inactive profile falls back to the default profile, and
// absent any stored profile the builtin general defaults apply.
func (s *retrievalProfileService) ResolveRuntimeConfig(ctx context.Context, profileID *uuid.UUID) (*uuid.UUID, RetrievalConfig, error) {
	var profile *types.RetrievalProfile
	if profileID != nil {
		candidate, err := s.profileRepo.GetByID(ctx, nil, *profileID)
		if err == nil && candidate.IsActive {
			profile = candidate
		} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, RetrievalConfig{}, err
		}
	}
	if profile == nil {
		candidate, err := s.profileRepo.GetDefault(ctx, nil)
		if err == nil {
			profile = candidate
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, RetrievalConfig{}, err
		}
	}
	if profile == nil {
		return nil, defaultRetrievalConfig(), nil
	}

	var raw map[string]any
	if len(profile.Config) > 0 {
		if err := json.Unmarshal(profile.Config, &raw); err != nil {
			s.log.Warn("Stored profile config is not valid JSON, using defaults",
				"profile_key", profile.ProfileKey, "error", err)
			raw = nil
		}
	}
	resolvedID := profile.ID
	return &resolvedID, BuildRuntimeRetrievalConfig(raw), nil
}
