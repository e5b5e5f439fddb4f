package providers

import (
	"fmt"
	"time"

	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/utils"
)

// Registry maps provider types to their adapters.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(log *logger.Logger) *Registry {
	timeout := time.Duration(utils.GetEnvAsInt("REQUEST_TIMEOUT_SECONDS", 30, log)) * time.Second
	maxRetries := utils.GetEnvAsInt("PROVIDER_MAX_RETRIES", 2, log)

	return &Registry{
		adapters: map[string]Adapter{
			"openai":            NewOpenAIAdapter("openai", timeout, maxRetries, log),
			"openai_compatible": NewOpenAIAdapter("openai_compatible", timeout, maxRetries, log),
			"anthropic":         NewAnthropicAdapter(timeout, maxRetries, log),
			"gemini":            NewGeminiAdapter(timeout, maxRetries, log),
		},
	}
}

func (r *Registry) Get(providerType string) (Adapter, error) {
	adapter, ok := r.adapters[providerType]
	if !ok {
		return nil, fmt.Errorf("unsupported provider_type: %s", providerType)
	}
	return adapter, nil
}
