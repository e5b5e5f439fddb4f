package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/services/providers"
	"github.com/csyeqing/rag-platform/internal/utils"
)

// EmbeddingService turns text into fixed-dimension vectors. The backend is
// the deterministic hash embedding, an in-process local model, or a remote
// provider endpoint; every produced vector is normalized to the configured
// dimension.
type EmbeddingService interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// LocalEmbedder is an in-process embedding model.
type LocalEmbedder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// The local backend keeps one loaded model per process, keyed by
// model|device, behind a mutex. A factory registered at startup builds the
// model on first use.
var (
	localEmbedderMu      sync.Mutex
	localEmbedderFactory func(modelName, device string) (LocalEmbedder, error)
	localEmbedder        LocalEmbedder
	localEmbedderKey     string
)

// RegisterLocalEmbedder installs the factory the local backend loads models
// through. Replacing the factory drops the cached model.
func RegisterLocalEmbedder(factory func(modelName, device string) (LocalEmbedder, error)) {
	localEmbedderMu.Lock()
	defer localEmbedderMu.Unlock()
	localEmbedderFactory = factory
	localEmbedder = nil
	localEmbedderKey = ""
}

func loadLocalEmbedder(modelName, device string) (LocalEmbedder, error) {
	localEmbedderMu.Lock()
	defer localEmbedderMu.Unlock()
	key := modelName + "|" + device
	if localEmbedder != nil && localEmbedderKey == key {
		return localEmbedder, nil
	}
	if localEmbedderFactory == nil {
		return nil, fmt.Errorf("no local embedder registered for model %s", modelName)
	}
	model, err := localEmbedderFactory(modelName, device)
	if err != nil {
		return nil, err
	}
	localEmbedder = model
	localEmbedderKey = key
	return model, nil
}

type embeddingService struct {
	log          *logger.Logger
	registry     *providers.Registry
	backend      string
	providerType string
	endpointURL  string
	modelName    string
	apiKey       string
	device       string
	dim          int
	batchSize    int
	fallbackHash bool
}

func NewEmbeddingService(registry *providers.Registry, log *logger.Logger) EmbeddingService {
	serviceLog := log.With("service", "EmbeddingService")
	dim := utils.GetEnvAsInt("DEFAULT_EMBEDDING_DIM", 1536, log)
	batchSize := utils.GetEnvAsInt("EMBEDDING_BATCH_SIZE", 16, log)
	if batchSize < 1 {
		batchSize = 1
	}
	return &embeddingService{
		log:          serviceLog,
		registry:     registry,
		backend:      strings.ToLower(utils.GetEnv("EMBEDDING_BACKEND", "hash", log)),
		providerType: utils.GetEnv("EMBEDDING_PROVIDER_TYPE", "openai_compatible", log),
		endpointURL:  utils.GetEnv("EMBEDDING_ENDPOINT_URL", "", log),
		modelName:    utils.GetEnv("EMBEDDING_MODEL_NAME", "BAAI/bge-m3", log),
		apiKey:       utils.GetEnv("EMBEDDING_API_KEY", "", log),
		device:       utils.GetEnv("EMBEDDING_LOCAL_DEVICE", "auto", log),
		dim:          dim,
		batchSize:    batchSize,
		fallbackHash: utils.GetEnvAsBool("EMBEDDING_FALLBACK_HASH", true, log),
	}
}

func (s *embeddingService) Dim() int { return s.dim }

// NormalizeVectorDim truncates or zero-pads a vector to the target dimension.
func NormalizeVectorDim(vec []float32, dim int) []float32 {
	if len(vec) == dim {
		return vec
	}
	if len(vec) > dim {
		return vec[:dim]
	}
	padded := make([]float32, dim)
	copy(padded, vec)
	return padded
}

func (s *embeddingService) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := s.embedBackend(ctx, texts)
	if err == nil {
		return vectors, nil
	}
	if !s.fallbackHash {
		return nil, err
	}
	s.log.Warn("Embedding backend failed, falling back to hash embedding",
		"backend", s.backend, "error", err)
	return s.embedHash(texts), nil
}

func (s *embeddingService) embedBackend(ctx context.Context, texts []string) ([][]float32, error) {
	switch s.backend {
	case "hash":
		return s.embedHash(texts), nil
	case "local":
		return s.embedLocal(ctx, texts)
	case "remote":
		if !strings.HasPrefix(s.endpointURL, "http") {
			return nil, fmt.Errorf("EMBEDDING_ENDPOINT_URL must be set for the remote backend")
		}
		return s.embedRemote(ctx, texts)
	default:
		return nil, fmt.Errorf("unsupported embedding backend: %s", s.backend)
	}
}

func (s *embeddingService) embedLocal(ctx context.Context, texts []string) ([][]float32, error) {
	model, err := loadLocalEmbedder(s.modelName, s.device)
	if err != nil {
		return nil, err
	}
	raw, err := model.Encode(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(raw) != len(texts) {
		return nil, fmt.Errorf("embedding backend returned %d vectors for %d texts", len(raw), len(texts))
	}
	vectors := make([][]float32, 0, len(raw))
	for _, vec := range raw {
		vectors = append(vectors, NormalizeVectorDim(vec, s.dim))
	}
	return vectors, nil
}

func (s *embeddingService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding backend returned %d vectors for one text", len(vectors))
	}
	return vectors[0], nil
}

func (s *embeddingService) embedHash(texts []string) [][]float32 {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vectors = append(vectors, providers.HashEmbedding(text, s.dim))
	}
	return vectors
}

func (s *embeddingService) embedRemote(ctx context.Context, texts []string) ([][]float32, error) {
	adapter, err := s.registry.Get(s.providerType)
	if err != nil {
		return nil, err
	}
	config := providers.Config{
		ProviderType: s.providerType,
		EndpointURL:  s.endpointURL,
		ModelName:    s.modelName,
		APIKey:       s.apiKey,
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]
		resp, err := adapter.Embed(ctx, config, providers.EmbeddingRequest{Model: s.modelName, Texts: batch})
		if err != nil {
			return nil, err
		}
		if len(resp.Vectors) != len(batch) {
			return nil, fmt.Errorf("embedding backend returned %d vectors for %d texts", len(resp.Vectors), len(batch))
		}
		for _, vec := range resp.Vectors {
			vectors = append(vectors, NormalizeVectorDim(vec, s.dim))
		}
	}
	return vectors, nil
}
