package providers

import (
	"crypto/sha256"
	"math"
	"regexp"
	"sort"
	"strings"
)

var wordTokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// HashEmbedding deterministically embeds text into a unit vector of the given
// dimension. Each token's sha256 digest scatters signed byte weights across
// the vector, so identical text always produces the identical embedding.
func HashEmbedding(text string, dim int) []float32 {
	if dim <= 0 {
		dim = 1536
	}
	vec := make([]float32, dim)
	tokens := wordTokenPattern.FindAllString(strings.ToLower(text), -1)
	for _, token := range tokens {
		digest := sha256.Sum256([]byte(token))
		for idx, b := range digest {
			pos := (idx*31 + int(b)) % dim
			vec[pos] += float32(b)/255.0 - 0.5
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1.0
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// TokenOverlapScore measures how much of the query's token multiset the
// document covers, normalized by distinct query tokens.
func TokenOverlapScore(query, doc string) float64 {
	queryTokens := wordTokenPattern.FindAllString(strings.ToLower(query), -1)
	docTokens := wordTokenPattern.FindAllString(strings.ToLower(doc), -1)

	queryCounts := make(map[string]int, len(queryTokens))
	for _, token := range queryTokens {
		queryCounts[token]++
	}
	docCounts := make(map[string]int, len(docTokens))
	for _, token := range docTokens {
		docCounts[token]++
	}

	overlap := 0
	for token, qc := range queryCounts {
		dc := docCounts[token]
		if dc < qc {
			overlap += dc
		} else {
			overlap += qc
		}
	}
	distinct := len(queryCounts)
	if distinct < 1 {
		distinct = 1
	}
	return float64(overlap) / float64(distinct)
}

// rerankByTokenOverlap is the shared local rerank used by every adapter.
func rerankByTokenOverlap(req RerankRequest) RerankResponse {
	items := make([]RerankItem, 0, len(req.Documents))
	for index, doc := range req.Documents {
		items = append(items, RerankItem{Index: index, Score: TokenOverlapScore(req.Query, doc)})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	return RerankResponse{Items: items}
}
