package providers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/csyeqing/rag-platform/internal/pkg/logger"
)

// GeminiAdapter speaks the Gemini generateContent API. Conversations are
// flattened into a single prompt part.
type GeminiAdapter struct {
	log        *logger.Logger
	client     *http.Client
	maxRetries int
}

func NewGeminiAdapter(timeout time.Duration, maxRetries int, log *logger.Logger) *GeminiAdapter {
	return &GeminiAdapter{
		log:        log.With("adapter", "gemini"),
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}
}

func (a *GeminiAdapter) Name() string { return "gemini" }

func (a *GeminiAdapter) chatURL(endpoint, model, apiKey string) string {
	base := strings.TrimRight(endpoint, "/")
	return base + "/v1beta/models/" + url.PathEscape(model) + ":generateContent?key=" + url.QueryEscape(apiKey)
}

func (a *GeminiAdapter) ValidateCredentials(config Config) ValidationResult {
	if config.EndpointURL == "" || config.ModelName == "" || config.APIKey == "" {
		return ValidationResult{Valid: false, Message: "endpoint/model/api_key 不能为空"}
	}
	return ValidationResult{
		Valid:        true,
		Message:      "Gemini 配置格式有效",
		Capabilities: map[string]bool{"chat": true, "embed": false, "rerank": false},
	}
}

type geminiChatResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (a *GeminiAdapter) Chat(ctx context.Context, config Config, req ChatRequest) (ChatResponse, error) {
	if !strings.HasPrefix(config.EndpointURL, "http") {
		return ChatResponse{Content: "Gemini 模拟回复：请配置可访问的 endpoint_url 后重试。"}, nil
	}

	joined := make([]string, 0, len(req.Messages))
	for _, message := range req.Messages {
		joined = append(joined, message.Content)
	}
	payload := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": strings.Join(joined, "\n")}}},
		},
		"generationConfig": map[string]any{
			"temperature":     req.Temperature,
			"topP":            req.TopP,
			"maxOutputTokens": req.MaxTokens,
		},
	}

	var body geminiChatResponse
	if err := postJSON(ctx, a.client, a.chatURL(config.EndpointURL, req.Model, config.APIKey), nil, payload, &body, a.maxRetries); err != nil {
		a.log.Error("generateContent call failed, degrading to local reply", "error", err)
		return ChatResponse{Content: "Gemini 调用失败，已降级为本地回复。"}, nil
	}
	if len(body.Candidates) > 0 {
		var sb strings.Builder
		for _, part := range body.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
		if sb.Len() > 0 {
			return ChatResponse{Content: sb.String()}, nil
		}
	}
	return ChatResponse{Content: "Gemini 调用失败，已降级为本地回复。"}, nil
}

func (a *GeminiAdapter) ChatStream(ctx context.Context, config Config, req ChatRequest, emit func(ChatDelta) error) error {
	resp, err := a.Chat(ctx, config, req)
	if err != nil {
		return err
	}
	return emitAsTokens(resp.Content, emit)
}

func (a *GeminiAdapter) Embed(ctx context.Context, config Config, req EmbeddingRequest) (EmbeddingResponse, error) {
	return hashEmbedAll(req.Texts), nil
}

func (a *GeminiAdapter) Rerank(ctx context.Context, config Config, req RerankRequest) (RerankResponse, error) {
	return rerankByTokenOverlap(req), nil
}
