package services

import (
	"regexp"
	"sort"
	"strings"

	"github.com/csyeqing/rag-platform/internal/normalization"
)

// Query-intent keyword sets. Detection is plain substring matching on the raw
// query so that short colloquial questions still trigger.
var (
	aliasIntentKeywords = []string{
		"外号", "绰号", "称呼", "别名", "又名", "俗称", "法号", "叫什么", "怎么叫", "怎么称呼",
	}
	coreferencePronouns = []string{
		"他", "她", "它", "他们", "她们", "它们", "其", "这个人", "那个人", "这家伙", "那家伙",
	}
	summaryIntentKeywords = []string{
		"总结", "概述", "归纳", "梳理", "总览", "全貌", "整体", "总体", "全盘", "综述",
		"主要内容", "核心内容", "全书", "整本", "全文", "通篇", "主线", "脉络",
	}
	countIntentKeywords = []string{
		"几个", "多少", "几位", "几人", "几名", "几条", "几种", "几次", "数量",
	}
	rosterIntentKeywords = []string{
		"徒弟", "弟子", "成员", "角色", "团队", "同伴", "取经团队", "师徒", "班底", "有哪些人",
	}
	rosterSignalKeywords = []string{
		"徒弟", "弟子", "师徒", "成员", "团队", "同伴", "角色", "取经",
	}
	groupContextKeywords = []string{
		"一起", "同行", "同去", "同往", "随行", "陪同", "团队", "队伍", "同伴", "师徒", "取经",
	}
	queryNoiseTerms = []string{
		"几个", "多少", "哪些", "什么", "为何", "为什么", "怎么", "如何", "是否", "请问", "一下", "一下子",
	}
	countUnitHints = []string{
		"个", "位", "人", "名", "种", "条", "次", "章", "卷", "岁", "年", "月", "天",
		"小时", "分钟", "秒", "徒弟", "弟子", "成员", "角色", "团队", "队伍", "同伴", "师徒", "众",
	}
	nicknameTokenBlacklist = []string{
		"师父", "师兄", "师弟", "徒弟", "外号", "别名", "称呼", "名字", "身份", "问题", "答案",
		"这个", "那个", "这些", "那些", "一个", "一种", "事情", "东西", "这里", "那里",
	}
	rosterSeedTerms = []string{"师徒", "徒弟", "成员", "团队", "同伴", "同行", "取经"}
)

// graphNeighborRelationWeights biases roster mining toward structural edges.
var graphNeighborRelationWeights = map[string]float64{
	normalization.RelationContains: 1.25,
	normalization.RelationIsA:      1.10,
	normalization.RelationDepends:  1.00,
	normalization.RelationCauses:   0.90,
	normalization.RelationCoOccurs: 0.75,
}

var (
	nicknameHintPattern = regexp.MustCompile(`(?:外号|绰号|别名|又名|俗称|法号|叫做|叫作|称作)`)
	nicknameCallPattern = regexp.MustCompile(`(?:叫|称|唤|骂)[^。！？\n]{0,8}[“"「『]?([\x{4e00}-\x{9fff}]{2,5})`)
	// These two need a speech verb shortly before the match; checked in code
	// since RE2 has no lookbehind.
	nicknameAddressPattern = regexp.MustCompile(`(?:你这|你个|这|那)([\x{4e00}-\x{9fff}]{2,4})`)
	nicknameQuotedPattern  = regexp.MustCompile(`[“"「『]([\x{4e00}-\x{9fff}]{2,5})[”"」』]`)
	speechVerbPattern      = regexp.MustCompile(`[道骂叫称唤喊喝]`)

	countSignalPattern = regexp.MustCompile(`([0-9]+|[一二三四五六七八九十百千两俩]+)`)
	rosterCountPattern = regexp.MustCompile(`(?:[0-9]+|[一二三四五六七八九十百千两俩]+).{0,4}(?:徒弟|弟子|成员|人|众)`)
	rosterListPattern  = regexp.MustCompile(`[\x{4e00}-\x{9fff}]{2,4}[、和与及][\x{4e00}-\x{9fff}]{2,4}`)
)

func containsAnyKeyword(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

func hasAliasIntent(query string) bool {
	return containsAnyKeyword(query, aliasIntentKeywords)
}

func hasCoreference(query string) bool {
	return containsAnyKeyword(query, coreferencePronouns)
}

// IsGlobalSummaryQuery reports whether the query asks for a whole-corpus
// summary rather than a pointed lookup.
func IsGlobalSummaryQuery(query string) bool {
	return containsAnyKeyword(query, summaryIntentKeywords)
}

func hasCountIntent(query string) bool {
	return containsAnyKeyword(query, countIntentKeywords)
}

func hasRosterIntent(query string) bool {
	return containsAnyKeyword(query, rosterIntentKeywords) ||
		(containsAnyKeyword(query, rosterSignalKeywords) && containsAnyKeyword(query, groupContextKeywords))
}

func isQueryNoise(term string) bool {
	for _, noise := range queryNoiseTerms {
		if term == noise {
			return true
		}
	}
	return false
}

// queryCountUnits returns the count-unit hints present in the query, at most
// eight, in list order.
func queryCountUnits(query string) []string {
	units := make([]string, 0, 8)
	for _, unit := range countUnitHints {
		if strings.Contains(query, unit) {
			units = append(units, unit)
			if len(units) == 8 {
				break
			}
		}
	}
	return units
}

// hasCountSignal reports whether the text carries a numeral immediately
// before one of the query's count units. Without units a bare numeral counts.
func hasCountSignal(text string, units []string, rosterish bool) bool {
	if len(units) == 0 {
		return countSignalPattern.MatchString(text)
	}
	for _, unit := range units {
		pattern, err := regexp.Compile(countSignalPattern.String() + `\s*` + regexp.QuoteMeta(unit))
		if err != nil {
			continue
		}
		if pattern.MatchString(text) {
			return true
		}
	}
	if rosterish && rosterCountPattern.MatchString(text) {
		return true
	}
	return false
}

// hasRosterSignal reports whether the text looks like it names members of a
// group: an explicit member count, an enumeration near roster words, or several
// anchor entities co-occurring.
func hasRosterSignal(text string, anchorTerms []string) bool {
	if rosterCountPattern.MatchString(text) {
		return true
	}
	anchorHits := 0
	for i, anchor := range anchorTerms {
		if i >= 10 {
			break
		}
		if anchor != "" && strings.Contains(text, anchor) {
			anchorHits++
		}
	}
	if containsAnyKeyword(text, rosterSignalKeywords) {
		if rosterListPattern.MatchString(text) || anchorHits >= 2 {
			return true
		}
	}
	return anchorHits >= 3
}

// mineNicknames scans chunk texts for nickname-shaped mentions around the
// anchor names and returns candidates ranked by occurrence count then length.
func mineNicknames(texts []string, anchors []string, maxTerms int) []string {
	if maxTerms <= 0 {
		return nil
	}
	counts := map[string]int{}

	consider := func(candidate string) {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			return
		}
		norm := normalization.NormalizeTerm(candidate)
		if normalization.RuneLen(norm) < 2 || normalization.IsStopword(norm) {
			return
		}
		for _, blocked := range nicknameTokenBlacklist {
			if norm == blocked {
				return
			}
		}
		for _, anchor := range anchors {
			if norm == normalization.NormalizeTerm(anchor) {
				return
			}
		}
		counts[candidate]++
	}

	for _, text := range texts {
		for _, match := range nicknameCallPattern.FindAllStringSubmatch(text, -1) {
			consider(match[1])
		}
		for _, idx := range nicknameAddressPattern.FindAllStringSubmatchIndex(text, -1) {
			if hasSpeechVerbBefore(text, idx[0], 8) {
				consider(text[idx[2]:idx[3]])
			}
		}
		for _, idx := range nicknameQuotedPattern.FindAllStringSubmatchIndex(text, -1) {
			if hasSpeechVerbBefore(text, idx[0], 10) {
				consider(text[idx[2]:idx[3]])
			}
		}
		if nicknameHintPattern.MatchString(text) {
			for _, match := range nicknameQuotedPattern.FindAllStringSubmatch(text, -1) {
				consider(match[1])
			}
		}
	}

	type scored struct {
		term  string
		count int
	}
	ranked := make([]scored, 0, len(counts))
	for term, count := range counts {
		ranked = append(ranked, scored{term: term, count: count})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return len(ranked[i].term) > len(ranked[j].term)
	})
	terms := make([]string, 0, maxTerms)
	for _, item := range ranked {
		terms = append(terms, item.term)
		if len(terms) == maxTerms {
			break
		}
	}
	return terms
}

// hasSpeechVerbBefore checks the window of runes immediately before byte
// offset start for a speech verb.
func hasSpeechVerbBefore(text string, start, window int) bool {
	prefix := text[:start]
	runes := []rune(prefix)
	if len(runes) > window {
		runes = runes[len(runes)-window:]
	}
	return speechVerbPattern.MatchString(string(runes))
}
