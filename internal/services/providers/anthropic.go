package providers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/csyeqing/rag-platform/internal/pkg/logger"
)

// AnthropicAdapter speaks the Anthropic messages API. Embeddings and rerank
// are served locally since the upstream offers neither.
type AnthropicAdapter struct {
	log        *logger.Logger
	client     *http.Client
	maxRetries int
}

func NewAnthropicAdapter(timeout time.Duration, maxRetries int, log *logger.Logger) *AnthropicAdapter {
	return &AnthropicAdapter{
		log:        log.With("adapter", "anthropic"),
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) messageURL(endpoint string) string {
	base := strings.TrimRight(endpoint, "/")
	if strings.HasSuffix(base, "/v1/messages") {
		return base
	}
	return base + "/v1/messages"
}

func (a *AnthropicAdapter) ValidateCredentials(config Config) ValidationResult {
	if config.EndpointURL == "" || config.ModelName == "" || config.APIKey == "" {
		return ValidationResult{Valid: false, Message: "endpoint/model/api_key 不能为空"}
	}
	return ValidationResult{
		Valid:        true,
		Message:      "Anthropic 配置格式有效",
		Capabilities: map[string]bool{"chat": true, "embed": false, "rerank": false},
	}
}

type anthropicChatResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (a *AnthropicAdapter) Chat(ctx context.Context, config Config, req ChatRequest) (ChatResponse, error) {
	if !strings.HasPrefix(config.EndpointURL, "http") {
		return ChatResponse{Content: "Anthropic 模拟回复：请配置可访问的 endpoint_url 后重试。"}, nil
	}

	systemText := ""
	messages := make([]ChatMessage, 0, len(req.Messages))
	for _, message := range req.Messages {
		switch message.Role {
		case "system":
			systemText = message.Content
		case "user", "assistant":
			messages = append(messages, message)
		}
	}

	payload := map[string]any{
		"model":       req.Model,
		"messages":    messages,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
		"top_p":       req.TopP,
	}
	if systemText != "" {
		payload["system"] = systemText
	}
	headers := map[string]string{
		"x-api-key":         config.APIKey,
		"anthropic-version": "2023-06-01",
	}

	var body anthropicChatResponse
	if err := postJSON(ctx, a.client, a.messageURL(config.EndpointURL), headers, payload, &body, a.maxRetries); err != nil {
		a.log.Error("Messages call failed, degrading to local reply", "error", err)
		return ChatResponse{Content: "Anthropic 调用失败，已降级为本地回复。"}, nil
	}
	var sb strings.Builder
	for _, part := range body.Content {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return ChatResponse{Content: "Anthropic 调用失败，已降级为本地回复。"}, nil
	}
	return ChatResponse{Content: sb.String()}, nil
}

func (a *AnthropicAdapter) ChatStream(ctx context.Context, config Config, req ChatRequest, emit func(ChatDelta) error) error {
	resp, err := a.Chat(ctx, config, req)
	if err != nil {
		return err
	}
	return emitAsTokens(resp.Content, emit)
}

func (a *AnthropicAdapter) Embed(ctx context.Context, config Config, req EmbeddingRequest) (EmbeddingResponse, error) {
	return hashEmbedAll(req.Texts), nil
}

func (a *AnthropicAdapter) Rerank(ctx context.Context, config Config, req RerankRequest) (RerankResponse, error) {
	return rerankByTokenOverlap(req), nil
}
