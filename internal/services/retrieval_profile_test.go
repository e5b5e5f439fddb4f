package services

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/csyeqing/rag-platform/internal/repos"
	"github.com/csyeqing/rag-platform/internal/repos/testutil"
)

func TestNormalizeProfileKey(t *testing.T) {
	key, err := NormalizeProfileKey("  My Custom/Profile!! ")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if key != "My_Custom_Profile" {
		t.Fatalf("key: %q", key)
	}

	if _, err := NormalizeProfileKey("!"); err == nil {
		t.Fatalf("expected error for key with no valid characters")
	}
	if _, err := NormalizeProfileKey("a"); err == nil {
		t.Fatalf("expected error for single-character key")
	}

	long, err := NormalizeProfileKey(strings.Repeat("abcdefghij", 9))
	if err != nil {
		t.Fatalf("long key: %v", err)
	}
	if len(long) != 80 {
		t.Fatalf("long key not capped: %d", len(long))
	}
}

func TestBuildRuntimeRetrievalConfigClamps(t *testing.T) {
	cfg := BuildRuntimeRetrievalConfig(map[string]any{
		"rag_min_top1_score":          0.27,
		"rag_min_support_count":       99.0,
		"graph_candidate_multiplier":  4.0,
		"keyword_fallback_scan_limit": 10000.0,
		"fallback_top1_relax":         -1.0,
	})
	if cfg.MinTop1Score != 0.27 {
		t.Fatalf("rag_min_top1_score: %v", cfg.MinTop1Score)
	}
	if cfg.MinSupportCount != 2 {
		t.Fatalf("out-of-range support count should fall back: %d", cfg.MinSupportCount)
	}
	if cfg.GraphMultiplier != 4 {
		t.Fatalf("graph_candidate_multiplier: %d", cfg.GraphMultiplier)
	}
	if cfg.FallbackScanLimit != 10000 {
		t.Fatalf("keyword_fallback_scan_limit: %d", cfg.FallbackScanLimit)
	}
	if cfg.Top1Relax != 0.08 {
		t.Fatalf("negative relax should fall back: %v", cfg.Top1Relax)
	}

	defaults := BuildRuntimeRetrievalConfig(nil)
	if defaults != defaultRetrievalConfig() {
		t.Fatalf("nil config should yield defaults")
	}
}

func TestRuntimeConfigHonorsStoredProfileSchema(t *testing.T) {
	// Keys as they appear in stored profile JSON, including the fallback
	// toggles.
	cfg := BuildRuntimeRetrievalConfig(map[string]any{
		"rag_min_support_score":                0.22,
		"co_reference_enabled":                 false,
		"vector_candidate_multiplier":          5.0,
		"keyword_candidate_multiplier":         6.0,
		"fallback_relax_enabled":               false,
		"fallback_support_relax":               0.09,
		"keyword_fallback_expand_on_weak_hits": false,
		"keyword_fallback_max_chunks":          300.0,
		"keyword_fallback_min_score":           0.12,
	})
	if cfg.MinSupportScore != 0.22 {
		t.Fatalf("rag_min_support_score: %v", cfg.MinSupportScore)
	}
	if cfg.CoreferenceEnabled {
		t.Fatalf("co_reference_enabled not honored")
	}
	if cfg.VectorMultiplier != 5 || cfg.KeywordMultiplier != 6 {
		t.Fatalf("candidate multipliers: %d/%d", cfg.VectorMultiplier, cfg.KeywordMultiplier)
	}
	if cfg.FallbackRelaxEnabled {
		t.Fatalf("fallback_relax_enabled not honored")
	}
	if cfg.SupportRelax != 0.09 {
		t.Fatalf("fallback_support_relax: %v", cfg.SupportRelax)
	}
	if cfg.ExpandOnWeakHits {
		t.Fatalf("keyword_fallback_expand_on_weak_hits not honored")
	}
	if cfg.FallbackMaxChunks != 300 || cfg.FallbackMinScore != 0.12 {
		t.Fatalf("keyword fallback caps: %d/%v", cfg.FallbackMaxChunks, cfg.FallbackMinScore)
	}
}

func TestBuiltinProfilesWellFormed(t *testing.T) {
	if len(builtinProfiles) != 5 {
		t.Fatalf("builtin count: %d", len(builtinProfiles))
	}
	keys := map[string]bool{}
	defaults := 0
	for _, builtin := range builtinProfiles {
		if keys[builtin.Key] {
			t.Fatalf("duplicate key: %s", builtin.Key)
		}
		keys[builtin.Key] = true
		if builtin.IsDefault {
			defaults++
		}
		cfg := BuildRuntimeRetrievalConfig(builtin.Config)
		round := BuildRuntimeRetrievalConfig(map[string]any{
			"rag_min_top1_score":    cfg.MinTop1Score,
			"rag_min_support_score": cfg.MinSupportScore,
		})
		if round.MinTop1Score != cfg.MinTop1Score {
			t.Fatalf("%s: config does not survive the clamp table", builtin.Key)
		}
	}
	if defaults != 1 {
		t.Fatalf("exactly one builtin default expected, got %d", defaults)
	}
}

func TestProfileServiceLifecycle(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)

	svc := NewRetrievalProfileService(repos.NewRetrievalProfileRepo(tx, log), log)
	if err := svc.EnsureDefaultProfiles(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Idempotent.
	if err := svc.EnsureDefaultProfiles(ctx); err != nil {
		t.Fatalf("reseed: %v", err)
	}

	profiles, err := svc.List(ctx, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(profiles) != 5 {
		t.Fatalf("profile count after seeding: %d", len(profiles))
	}

	admin := testutil.SeedUser(t, ctx, tx, "profile-admin")
	created, err := svc.Create(ctx, RetrievalProfileInput{
		Key:    "my custom",
		Name:   "自定义",
		Config: map[string]any{"rag_min_top1_score": 0.2},
	}, admin.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ProfileKey != "my_custom" {
		t.Fatalf("key: %q", created.ProfileKey)
	}

	if _, err := svc.Create(ctx, RetrievalProfileInput{Key: "my custom"}, admin.ID); err == nil {
		t.Fatalf("duplicate key should be rejected")
	}

	resolvedID, cfg, err := svc.ResolveRuntimeConfig(ctx, &created.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolvedID == nil || *resolvedID != created.ID {
		t.Fatalf("resolved id: %v", resolvedID)
	}
	if cfg.MinTop1Score != 0.2 {
		t.Fatalf("custom knob not applied: %v", cfg.MinTop1Score)
	}

	// Unknown id falls back to the default profile.
	missing := uuid.New()
	fallbackID, _, err := svc.ResolveRuntimeConfig(ctx, &missing)
	if err != nil {
		t.Fatalf("resolve missing: %v", err)
	}
	if fallbackID == nil {
		t.Fatalf("expected default profile id")
	}

	for _, profile := range profiles {
		if profile.IsBuiltin {
			if err := svc.Delete(ctx, profile.ID); err == nil {
				t.Fatalf("builtin %s should be undeletable", profile.ProfileKey)
			}
			break
		}
	}
	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete custom: %v", err)
	}
}
