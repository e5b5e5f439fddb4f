package normalization

import (
	"regexp"
	"strings"
)

var sentenceSplitPattern = regexp.MustCompile(`[。！？!?;；\n]`)

// Relation types inferred from sentence cues.
const (
	RelationIsA      = "is_a"
	RelationContains = "contains"
	RelationDepends  = "depends_on"
	RelationCauses   = "causes"
	RelationCoOccurs = "co_occurs"
)

// Relation is a directed edge candidate mined from a single sentence. Source
// and Target are ordered so that NormalizeTerm(Source) <= NormalizeTerm(Target).
type Relation struct {
	Source   string
	Target   string
	Type     string
	Evidence string
}

// SplitSentences splits text on Chinese and ASCII sentence terminators.
func SplitSentences(text string) []string {
	return sentenceSplitPattern.Split(text, -1)
}

// InferRelationType classifies the relation expressed by a sentence from
// lexical cues, falling back to co-occurrence.
func InferRelationType(sentence string) string {
	lowered := strings.ToLower(sentence)
	switch {
	case strings.Contains(sentence, "属于") || strings.Contains(sentence, "是一种") || strings.Contains(lowered, " is a "):
		return RelationIsA
	case strings.Contains(sentence, "包括") || strings.Contains(sentence, "包含") ||
		strings.Contains(lowered, " consist of ") || strings.Contains(lowered, " includes "):
		return RelationContains
	case strings.Contains(sentence, "依赖") || strings.Contains(sentence, "基于") || strings.Contains(lowered, " depends on "):
		return RelationDepends
	case strings.Contains(sentence, "导致") || strings.Contains(sentence, "造成") || strings.Contains(lowered, " causes "):
		return RelationCauses
	}
	return RelationCoOccurs
}

// ExtractRelations mines entity pair relations sentence by sentence. Every
// ordered pair of distinct entities in a sentence yields one relation carrying
// the sentence (capped at 240 characters) as evidence.
func ExtractRelations(text string) []Relation {
	var relations []Relation
	for _, sentence := range SplitSentences(text) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		entities := ExtractEntities(sentence, 8)
		if len(entities) < 2 {
			continue
		}
		relationType := InferRelationType(sentence)
		evidence := truncateRunes(sentence, 240)
		for i := 0; i < len(entities); i++ {
			for j := i + 1; j < len(entities); j++ {
				source, target := entities[i], entities[j]
				if NormalizeTerm(source) == NormalizeTerm(target) {
					continue
				}
				if NormalizeTerm(source) > NormalizeTerm(target) {
					source, target = target, source
				}
				relations = append(relations, Relation{
					Source:   source,
					Target:   target,
					Type:     relationType,
					Evidence: evidence,
				})
			}
		}
	}
	return relations
}
