package services

import (
	"github.com/csyeqing/rag-platform/internal/services/providers"
)

const (
	minContextWindowTokens     = 1024
	maxContextWindowTokens     = 2_000_000
	defaultContextWindowTokens = 131072

	historyReserveMessages = 24
	promptOverheadSummary  = 1800
	promptOverheadDefault  = 1200

	minRetrievalKeepSummary = 10
	minRetrievalKeepDefault = 5
)

// EstimateTokens approximates token usage without a tokenizer: roughly four
// ASCII bytes or 1.6 CJK runes per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	ascii := 0
	wide := 0
	for _, r := range text {
		if r < 128 {
			ascii++
		} else {
			wide++
		}
	}
	estimate := ascii/4 + int(float64(wide)/1.6)
	if estimate < 1 {
		estimate = 1
	}
	return estimate
}

// ClampContextWindow normalizes a provider-reported context window size.
func ClampContextWindow(windowTokens int) int {
	if windowTokens <= 0 {
		return defaultContextWindowTokens
	}
	return clampRange(windowTokens, minContextWindowTokens, maxContextWindowTokens)
}

func retrievalItemCost(item RetrievedChunk) int {
	cost := EstimateTokens(item.Snippet) + EstimateTokens(item.FileName) + 40
	if cost < 48 {
		cost = 48
	}
	return cost
}

// FitContextWindow trims the retrieved list so that system prompt, the user
// query, recent history and the reserved response all fit inside the model's
// context window. Summary queries keep a larger floor since their value is
// breadth.
func FitContextWindow(items []RetrievedChunk, query string, history []providers.ChatMessage, windowTokens, maxResponseTokens int, summaryMode bool) []RetrievedChunk {
	if len(items) == 0 {
		return items
	}
	window := ClampContextWindow(windowTokens)

	responseReserve := maxResponseTokens
	if responseReserve < 512 {
		responseReserve = 512
	}
	if ceiling := int(0.45 * float64(window)); responseReserve > ceiling {
		responseReserve = ceiling
	}

	recent := history
	if len(recent) > historyReserveMessages {
		recent = recent[len(recent)-historyReserveMessages:]
	}
	historyTokens := 0
	for _, message := range recent {
		historyTokens += EstimateTokens(message.Content) + 8
	}

	overhead := promptOverheadDefault
	minKeep := minRetrievalKeepDefault
	if summaryMode {
		overhead = promptOverheadSummary
		minKeep = minRetrievalKeepSummary
	}

	available := window - responseReserve - historyTokens - EstimateTokens(query) - overhead
	if available < 256 {
		available = 256
	}

	kept := make([]RetrievedChunk, 0, len(items))
	used := 0
	for _, item := range items {
		cost := retrievalItemCost(item)
		if used+cost > available && len(kept) >= minKeep {
			break
		}
		kept = append(kept, item)
		used += cost
	}
	return kept
}
