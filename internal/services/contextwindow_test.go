package services

import (
	"strings"
	"testing"

	"github.com/csyeqing/rag-platform/internal/services/providers"
)

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("empty: %d", got)
	}
	if got := EstimateTokens("abcd"); got != 1 {
		t.Fatalf("ascii: %d", got)
	}
	if got := EstimateTokens("a"); got != 1 {
		t.Fatalf("minimum: %d", got)
	}
	cjk := EstimateTokens("孙悟空保护唐僧西行取经")
	if cjk < 5 || cjk > 8 {
		t.Fatalf("cjk estimate out of expected band: %d", cjk)
	}
}

func TestClampContextWindow(t *testing.T) {
	if got := ClampContextWindow(0); got != defaultContextWindowTokens {
		t.Fatalf("default: %d", got)
	}
	if got := ClampContextWindow(10); got != minContextWindowTokens {
		t.Fatalf("floor: %d", got)
	}
	if got := ClampContextWindow(5_000_000); got != maxContextWindowTokens {
		t.Fatalf("ceiling: %d", got)
	}
}

func TestFitContextWindowTrims(t *testing.T) {
	snippet := strings.Repeat("检索片段内容", 40)
	items := make([]RetrievedChunk, 0, 40)
	for i := 0; i < 40; i++ {
		items = append(items, RetrievedChunk{FileName: "book.txt", Snippet: snippet})
	}

	kept := FitContextWindow(items, "测试问题", nil, 2048, 512, false)
	if len(kept) >= 40 {
		t.Fatalf("tight window should trim items: %d", len(kept))
	}
	if len(kept) < minRetrievalKeepDefault {
		t.Fatalf("floor violated: %d", len(kept))
	}

	// Summary mode keeps a deeper floor.
	keptSummary := FitContextWindow(items, "测试问题", nil, 2048, 512, true)
	if len(keptSummary) < minRetrievalKeepSummary {
		t.Fatalf("summary floor violated: %d", len(keptSummary))
	}

	// A huge window keeps everything.
	keptAll := FitContextWindow(items, "测试问题", nil, 200000, 1024, false)
	if len(keptAll) != 40 {
		t.Fatalf("large window should keep all items: %d", len(keptAll))
	}
}

func TestFitContextWindowCountsHistory(t *testing.T) {
	items := make([]RetrievedChunk, 0, 30)
	for i := 0; i < 30; i++ {
		items = append(items, RetrievedChunk{Snippet: strings.Repeat("历史会挤占片段预算", 20)})
	}
	history := make([]providers.ChatMessage, 0, 30)
	for i := 0; i < 30; i++ {
		history = append(history, providers.ChatMessage{Role: "user", Content: strings.Repeat("之前的问题", 60)})
	}
	withHistory := FitContextWindow(items, "提问", history, 8192, 512, false)
	withoutHistory := FitContextWindow(items, "提问", nil, 8192, 512, false)
	if len(withHistory) > len(withoutHistory) {
		t.Fatalf("history should shrink the retrieval budget: %d > %d", len(withHistory), len(withoutHistory))
	}
}

func TestFitContextWindowReservesQueryTokens(t *testing.T) {
	items := make([]RetrievedChunk, 0, 30)
	for i := 0; i < 30; i++ {
		items = append(items, RetrievedChunk{Snippet: strings.Repeat("片段内容预算", 20)})
	}
	longQuery := strings.Repeat("这是一个非常长的用户问题", 80)
	withQuery := FitContextWindow(items, longQuery, nil, 4096, 512, false)
	withoutQuery := FitContextWindow(items, "", nil, 4096, 512, false)
	if len(withQuery) >= len(withoutQuery) {
		t.Fatalf("long query should shrink the retrieval budget: %d >= %d", len(withQuery), len(withoutQuery))
	}
}
