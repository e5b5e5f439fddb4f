package services

import (
	"context"
	"testing"

	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/services/providers"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestNormalizeVectorDim(t *testing.T) {
	long := make([]float32, 2048)
	for i := range long {
		long[i] = float32(i)
	}
	if got := NormalizeVectorDim(long, 1536); len(got) != 1536 || got[1535] != 1535 {
		t.Fatalf("truncate: len=%d", len(got))
	}

	short := []float32{1, 2, 3}
	padded := NormalizeVectorDim(short, 8)
	if len(padded) != 8 || padded[0] != 1 || padded[3] != 0 {
		t.Fatalf("pad: %v", padded)
	}

	exact := []float32{1, 2}
	if got := NormalizeVectorDim(exact, 2); &got[0] != &exact[0] {
		t.Fatalf("exact dimension should be returned as-is")
	}
}

func TestEmbedTextsHashBackend(t *testing.T) {
	log := testLogger(t)
	svc := NewEmbeddingService(providers.NewRegistry(log), log)

	vectors, err := svc.EmbedTexts(context.Background(), []string{"孙悟空", "猪八戒"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("vector count: %d", len(vectors))
	}
	for _, vec := range vectors {
		if len(vec) != svc.Dim() {
			t.Fatalf("dimension: %d", len(vec))
		}
	}

	again, err := svc.EmbedQuery(context.Background(), "孙悟空")
	if err != nil {
		t.Fatalf("embed query: %v", err)
	}
	for i := range again {
		if again[i] != vectors[0][i] {
			t.Fatalf("hash backend not deterministic at %d", i)
		}
	}
}

type fixedEmbedder struct {
	dim int
}

func (f *fixedEmbedder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for range texts {
		vec := make([]float32, f.dim)
		vec[0] = 1
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

func TestEmbedTextsLocalBackend(t *testing.T) {
	log := testLogger(t)
	t.Setenv("EMBEDDING_BACKEND", "local")
	t.Cleanup(func() { RegisterLocalEmbedder(nil) })

	// Without a registered model the default config degrades to hash.
	RegisterLocalEmbedder(nil)
	svc := NewEmbeddingService(providers.NewRegistry(log), log)
	vectors, err := svc.EmbedTexts(context.Background(), []string{"孙悟空"})
	if err != nil {
		t.Fatalf("fallback embed: %v", err)
	}
	if len(vectors) != 1 || len(vectors[0]) != svc.Dim() {
		t.Fatalf("fallback vectors: %d", len(vectors))
	}

	// With the fallback disabled the missing model surfaces as an error.
	t.Setenv("EMBEDDING_FALLBACK_HASH", "false")
	strict := NewEmbeddingService(providers.NewRegistry(log), log)
	if _, err := strict.EmbedTexts(context.Background(), []string{"孙悟空"}); err == nil {
		t.Fatalf("unregistered local model should error without hash fallback")
	}

	// A registered model serves the backend; output is dimension-normalized.
	RegisterLocalEmbedder(func(modelName, device string) (LocalEmbedder, error) {
		return &fixedEmbedder{dim: 64}, nil
	})
	vectors, err = strict.EmbedTexts(context.Background(), []string{"孙悟空", "猪八戒"})
	if err != nil {
		t.Fatalf("local embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("vector count: %d", len(vectors))
	}
	for _, vec := range vectors {
		if len(vec) != strict.Dim() || vec[0] != 1 {
			t.Fatalf("vector not normalized: len=%d", len(vec))
		}
	}
}

func TestEmbedTextsUnknownBackend(t *testing.T) {
	log := testLogger(t)
	t.Setenv("EMBEDDING_BACKEND", "quantum")

	svc := NewEmbeddingService(providers.NewRegistry(log), log)
	vectors, err := svc.EmbedTexts(context.Background(), []string{"text"})
	if err != nil {
		t.Fatalf("hash fallback should cover unknown backends: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("vector count: %d", len(vectors))
	}

	t.Setenv("EMBEDDING_FALLBACK_HASH", "false")
	strict := NewEmbeddingService(providers.NewRegistry(log), log)
	if _, err := strict.EmbedTexts(context.Background(), []string{"text"}); err == nil {
		t.Fatalf("unknown backend should error without hash fallback")
	}
}

func TestEmbedTextsEmptyInput(t *testing.T) {
	log := testLogger(t)
	svc := NewEmbeddingService(providers.NewRegistry(log), log)

	vectors, err := svc.EmbedTexts(context.Background(), nil)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vectors) != 0 {
		t.Fatalf("expected no vectors, got %d", len(vectors))
	}
}
