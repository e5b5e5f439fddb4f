// Package providers contains the LLM provider adapters. Every adapter speaks
// one upstream wire protocol and degrades to deterministic local algorithms
// when the endpoint is unreachable or not configured.
package providers

import "context"

// Config is the decrypted runtime view of a stored provider configuration.
type Config struct {
	ProviderType        string
	EndpointURL         string
	ModelName           string
	APIKey              string
	ContextWindowTokens int
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	TopP        float64
	MaxTokens   int
}

type ChatDelta struct {
	Delta string
}

type ChatResponse struct {
	Content string
}

type EmbeddingRequest struct {
	Model string
	Texts []string
}

type EmbeddingResponse struct {
	Vectors [][]float32
}

type RerankRequest struct {
	Model     string
	Query     string
	Documents []string
}

type RerankItem struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

type RerankResponse struct {
	Items []RerankItem
}

type ValidationResult struct {
	Valid        bool            `json:"valid"`
	Message      string          `json:"message"`
	Capabilities map[string]bool `json:"capabilities"`
}

// Adapter is implemented once per provider type. ChatStream invokes emit for
// every delta; returning an error from emit aborts the stream.
type Adapter interface {
	Name() string
	ValidateCredentials(config Config) ValidationResult
	Chat(ctx context.Context, config Config, req ChatRequest) (ChatResponse, error)
	ChatStream(ctx context.Context, config Config, req ChatRequest, emit func(ChatDelta) error) error
	Embed(ctx context.Context, config Config, req EmbeddingRequest) (EmbeddingResponse, error)
	Rerank(ctx context.Context, config Config, req RerankRequest) (RerankResponse, error)
}
