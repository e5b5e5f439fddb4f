package providers

import (
	"math"
	"strings"
	"testing"

	"github.com/csyeqing/rag-platform/internal/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestHashEmbeddingDeterministic(t *testing.T) {
	a := HashEmbedding("孙悟空 三打白骨精", 1536)
	b := HashEmbedding("孙悟空 三打白骨精", 1536)
	if len(a) != 1536 {
		t.Fatalf("dimension: %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("not deterministic at %d", i)
		}
	}
}

func TestHashEmbeddingUnitNorm(t *testing.T) {
	vec := HashEmbedding("retrieval augmented generation", 256)
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 1e-4 {
		t.Fatalf("norm: %v", math.Sqrt(norm))
	}
}

func TestHashEmbeddingEmptyText(t *testing.T) {
	vec := HashEmbedding("", 64)
	for _, v := range vec {
		if v != 0 {
			t.Fatalf("expected zero vector")
		}
	}
}

func TestTokenOverlapScore(t *testing.T) {
	if got := TokenOverlapScore("alpha beta", "alpha beta gamma"); got != 1.0 {
		t.Fatalf("full overlap: %v", got)
	}
	if got := TokenOverlapScore("alpha beta", "gamma delta"); got != 0 {
		t.Fatalf("no overlap: %v", got)
	}
	if got := TokenOverlapScore("alpha beta", "alpha"); got != 0.5 {
		t.Fatalf("half overlap: %v", got)
	}
	if got := TokenOverlapScore("", "anything"); got != 0 {
		t.Fatalf("empty query: %v", got)
	}
}

func TestRerankByTokenOverlapOrdering(t *testing.T) {
	resp := rerankByTokenOverlap(RerankRequest{
		Query:     "vector index",
		Documents: []string{"nothing here", "vector index tuning", "vector search"},
	})
	if len(resp.Items) != 3 {
		t.Fatalf("item count: %d", len(resp.Items))
	}
	if resp.Items[0].Index != 1 {
		t.Fatalf("best doc: %+v", resp.Items)
	}
	if resp.Items[0].Score < resp.Items[1].Score || resp.Items[1].Score < resp.Items[2].Score {
		t.Fatalf("not sorted: %+v", resp.Items)
	}
}

func TestFallbackChatUsesContext(t *testing.T) {
	resp := fallbackChat(ChatRequest{
		Messages: []ChatMessage{
			{Role: "system", Content: `knowledge RAG_CONTEXT=[{"snippet":"八戒又名猪刚鬣"}]`},
			{Role: "user", Content: "八戒的外号是什么"},
		},
	})
	if resp.Content == "" {
		t.Fatalf("empty fallback")
	}
	if !strings.Contains(resp.Content, "八戒又名猪刚鬣") {
		t.Fatalf("context snippet missing: %q", resp.Content)
	}
}

func TestOpenAIChatURL(t *testing.T) {
	a := NewOpenAIAdapter("openai", 0, 0, testLogger(t))
	cases := map[string]string{
		"https://api.example.com":                        "https://api.example.com/v1/chat/completions",
		"https://api.example.com/v1":                     "https://api.example.com/v1/chat/completions",
		"https://api.example.com/v1/chat/completions":    "https://api.example.com/v1/chat/completions",
		"https://gateway.internal/openai/v2/":            "https://gateway.internal/openai/v2/chat/completions",
	}
	for endpoint, want := range cases {
		if got := a.chatURL(endpoint); got != want {
			t.Fatalf("chatURL(%q) = %q, want %q", endpoint, got, want)
		}
	}
}
