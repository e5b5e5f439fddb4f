package services

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/csyeqing/rag-platform/internal/services/providers"
)

type stubAdapter struct {
	rerank    providers.RerankResponse
	rerankErr error
}

func (a *stubAdapter) Name() string { return "stub" }

func (a *stubAdapter) ValidateCredentials(providers.Config) providers.ValidationResult {
	return providers.ValidationResult{Valid: true}
}

func (a *stubAdapter) Chat(context.Context, providers.Config, providers.ChatRequest) (providers.ChatResponse, error) {
	return providers.ChatResponse{Content: "ok"}, nil
}

func (a *stubAdapter) ChatStream(_ context.Context, _ providers.Config, _ providers.ChatRequest, emit func(providers.ChatDelta) error) error {
	return emit(providers.ChatDelta{Delta: "ok"})
}

func (a *stubAdapter) Embed(context.Context, providers.Config, providers.EmbeddingRequest) (providers.EmbeddingResponse, error) {
	return providers.EmbeddingResponse{}, nil
}

func (a *stubAdapter) Rerank(context.Context, providers.Config, providers.RerankRequest) (providers.RerankResponse, error) {
	return a.rerank, a.rerankErr
}

func TestCitationsFromChunks(t *testing.T) {
	chunkID := uuid.New()
	citations := citationsFromChunks([]RetrievedChunk{
		{ChunkID: chunkID, FileName: "book.txt", Score: 0.42, Source: sourceVector},
	})
	if len(citations) != 1 {
		t.Fatalf("citations: %d", len(citations))
	}
	got := citations[0]
	if got.ChunkID != chunkID || got.FileName != "book.txt" || got.Score != 0.42 {
		t.Fatalf("fields not copied: %+v", got)
	}
	if got.MatchedEntities == nil {
		t.Fatalf("matched entities must serialize as an empty list, not null")
	}
}

func TestBuildRetrievalSystemPrompt(t *testing.T) {
	citations := []Citation{{FileName: "book.txt", Snippet: "孙悟空大闹天宫", Score: 0.9}}

	prompt, err := buildRetrievalSystemPrompt(citations, false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(prompt, "知识库检索结果：") {
		t.Fatalf("missing retrieval block: %q", prompt)
	}
	if !strings.Contains(prompt, "RAG_CONTEXT=") {
		t.Fatalf("missing machine-readable context: %q", prompt)
	}
	if !strings.HasPrefix(prompt, retrievalSystemPrompt) {
		t.Fatalf("wrong base prompt")
	}

	summary, err := buildRetrievalSystemPrompt(citations, true)
	if err != nil {
		t.Fatalf("build summary: %v", err)
	}
	if !strings.HasPrefix(summary, summarySystemPrompt) {
		t.Fatalf("summary mode should switch the base prompt")
	}
}

func TestRerankChunksReorders(t *testing.T) {
	svc := &chatService{log: testLogger(t)}
	items := []RetrievedChunk{
		{Snippet: "第一段", Score: 0.9},
		{Snippet: "第二段", Score: 0.8},
		{Snippet: "第三段", Score: 0.7},
	}
	adapter := &stubAdapter{rerank: providers.RerankResponse{Items: []providers.RerankItem{
		{Index: 2, Score: 0.95},
		{Index: 0, Score: 0.40},
		{Index: 1, Score: 0.10},
	}}}
	out := svc.rerankChunks(context.Background(), adapter, providers.Config{}, "问题", items)
	if len(out) != 3 {
		t.Fatalf("length: %d", len(out))
	}
	if out[0].Snippet != "第三段" || out[0].Score != 0.95 {
		t.Fatalf("rerank order not applied: %+v", out[0])
	}
	if out[2].Snippet != "第二段" {
		t.Fatalf("tail order: %+v", out[2])
	}
}

func TestRerankChunksKeepsOrderOnFailure(t *testing.T) {
	svc := &chatService{log: testLogger(t)}
	items := []RetrievedChunk{
		{Snippet: "第一段", Score: 0.9},
		{Snippet: "第二段", Score: 0.8},
	}
	adapter := &stubAdapter{rerankErr: context.DeadlineExceeded}
	out := svc.rerankChunks(context.Background(), adapter, providers.Config{}, "问题", items)
	if out[0].Snippet != "第一段" || out[0].Score != 0.9 {
		t.Fatalf("failed rerank must keep retrieval order: %+v", out[0])
	}
}
