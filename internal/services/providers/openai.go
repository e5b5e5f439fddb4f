package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/csyeqing/rag-platform/internal/pkg/logger"
)

var versionSuffixPattern = regexp.MustCompile(`/v\d+(?:\.\d+)?$`)

// OpenAIAdapter speaks the OpenAI chat/embeddings wire format. It also covers
// any OpenAI-compatible gateway via the openai_compatible provider type.
type OpenAIAdapter struct {
	name         string
	log          *logger.Logger
	client       *http.Client
	streamClient *http.Client
	maxRetries   int
}

func NewOpenAIAdapter(name string, timeout time.Duration, maxRetries int, log *logger.Logger) *OpenAIAdapter {
	return &OpenAIAdapter{
		name:         name,
		log:          log.With("adapter", name),
		client:       &http.Client{Timeout: timeout},
		streamClient: &http.Client{Timeout: timeout * 10},
		maxRetries:   maxRetries,
	}
}

func (a *OpenAIAdapter) Name() string { return a.name }

func hasVersionSuffix(endpoint string) bool {
	return versionSuffixPattern.MatchString(strings.TrimRight(endpoint, "/"))
}

func (a *OpenAIAdapter) chatURL(endpoint string) string {
	base := strings.TrimRight(endpoint, "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	if hasVersionSuffix(base) {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

func (a *OpenAIAdapter) embedURL(endpoint string) string {
	base := strings.TrimRight(endpoint, "/")
	if strings.HasSuffix(base, "/embeddings") {
		return base
	}
	if hasVersionSuffix(base) {
		return base + "/embeddings"
	}
	return base + "/v1/embeddings"
}

func (a *OpenAIAdapter) ValidateCredentials(config Config) ValidationResult {
	if config.EndpointURL == "" || config.ModelName == "" || config.APIKey == "" {
		return ValidationResult{Valid: false, Message: "endpoint/model/api_key 不能为空"}
	}
	return ValidationResult{
		Valid:        true,
		Message:      "配置格式有效",
		Capabilities: map[string]bool{"chat": true, "embed": true, "rerank": false},
	}
}

type openAIChatPayload struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (a *OpenAIAdapter) Chat(ctx context.Context, config Config, req ChatRequest) (ChatResponse, error) {
	if !strings.HasPrefix(config.EndpointURL, "http") {
		return fallbackChat(req), nil
	}

	payload := openAIChatPayload{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}
	headers := map[string]string{"Authorization": "Bearer " + config.APIKey}

	var body openAIChatResponse
	if err := postJSON(ctx, a.client, a.chatURL(config.EndpointURL), headers, payload, &body, a.maxRetries); err != nil {
		a.log.Error("Chat completion call failed, using local fallback", "error", err)
		return fallbackChat(req), nil
	}
	content := decodeOpenAIContent(body)
	if content == "" {
		content = "模型返回了空结果，请检查参数。"
	}
	return ChatResponse{Content: content}, nil
}

// decodeOpenAIContent handles both plain-string and multi-part content.
func decodeOpenAIContent(body openAIChatResponse) string {
	if len(body.Choices) == 0 {
		return ""
	}
	raw := body.Choices[0].Message.Content
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var sb strings.Builder
		for _, part := range parts {
			sb.WriteString(part.Text)
		}
		return sb.String()
	}
	return ""
}

func (a *OpenAIAdapter) ChatStream(ctx context.Context, config Config, req ChatRequest, emit func(ChatDelta) error) error {
	if !strings.HasPrefix(config.EndpointURL, "http") {
		return emitAsTokens(fallbackChat(req).Content, emit)
	}

	payload := openAIChatPayload{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.chatURL(config.EndpointURL), strings.NewReader(string(raw)))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.streamClient.Do(httpReq)
	if err != nil {
		a.log.Error("Streaming call failed, falling back to buffered chat", "error", err)
		return a.streamViaChat(ctx, config, req, emit)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.log.Error("Streaming call rejected, falling back to buffered chat", "status", resp.StatusCode)
		return a.streamViaChat(ctx, config, req, emit)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(line[len("data: "):])
		if data == "[DONE]" {
			break
		}
		var chunk openAIChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := emit(ChatDelta{Delta: delta}); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (a *OpenAIAdapter) streamViaChat(ctx context.Context, config Config, req ChatRequest, emit func(ChatDelta) error) error {
	resp, err := a.Chat(ctx, config, req)
	if err != nil {
		return err
	}
	return emitAsTokens(resp.Content, emit)
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (a *OpenAIAdapter) Embed(ctx context.Context, config Config, req EmbeddingRequest) (EmbeddingResponse, error) {
	if len(req.Texts) == 0 {
		return EmbeddingResponse{}, nil
	}
	if !strings.HasPrefix(config.EndpointURL, "http") {
		return hashEmbedAll(req.Texts), nil
	}

	payload := map[string]any{"model": req.Model, "input": req.Texts}
	headers := map[string]string{"Authorization": "Bearer " + config.APIKey}

	var body openAIEmbedResponse
	if err := postJSON(ctx, a.client, a.embedURL(config.EndpointURL), headers, payload, &body, a.maxRetries); err != nil {
		a.log.Warn("Embedding call failed, using hash embedding", "error", err)
		return hashEmbedAll(req.Texts), nil
	}
	if len(body.Data) == 0 {
		return hashEmbedAll(req.Texts), nil
	}
	vectors := make([][]float32, 0, len(body.Data))
	for _, item := range body.Data {
		vectors = append(vectors, item.Embedding)
	}
	return EmbeddingResponse{Vectors: vectors}, nil
}

func (a *OpenAIAdapter) Rerank(ctx context.Context, config Config, req RerankRequest) (RerankResponse, error) {
	return rerankByTokenOverlap(req), nil
}

func hashEmbedAll(texts []string) EmbeddingResponse {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vectors = append(vectors, HashEmbedding(text, 1536))
	}
	return EmbeddingResponse{Vectors: vectors}
}

func emitAsTokens(content string, emit func(ChatDelta) error) error {
	for _, token := range strings.Split(content, " ") {
		if err := emit(ChatDelta{Delta: token + " "}); err != nil {
			return err
		}
	}
	return nil
}

// fallbackChat produces a deterministic local reply when no HTTP endpoint is
// configured. It echoes the question and summarizes any retrieval context
// embedded in the system prompt.
func fallbackChat(req ChatRequest) ChatResponse {
	userInput := ""
	contextJSON := "[]"
	for _, message := range req.Messages {
		if message.Role == "user" {
			userInput = message.Content
		}
		if message.Role == "system" && strings.Contains(message.Content, "RAG_CONTEXT=") {
			parts := strings.SplitN(message.Content, "RAG_CONTEXT=", 2)
			contextJSON = parts[len(parts)-1]
		}
	}

	var references []map[string]any
	if err := json.Unmarshal([]byte(contextJSON), &references); err != nil {
		references = nil
	}

	if len(references) > 0 {
		snippets := make([]string, 0, 3)
		for i, item := range references {
			if i >= 3 {
				break
			}
			snippet, _ := item["snippet"].(string)
			runes := []rune(snippet)
			if len(runes) > 80 {
				snippet = string(runes[:80])
			}
			snippets = append(snippets, snippet)
		}
		content := "基于知识库检索结果，问题是：" + userInput + "\n参考摘要：" + strings.Join(snippets, "；") + "\n建议你进一步核对引用来源。"
		return ChatResponse{Content: content}
	}
	return ChatResponse{Content: "知识库未命中，已切换为模型直答模式（模拟）。你的问题是：" + userInput + "。建议结合业务上下文进一步确认。"}
}
