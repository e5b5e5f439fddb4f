// Package normalization holds the language-aware text primitives shared by the
// knowledge graph builder and the retrieval engine: term normalization, entity
// extraction for mixed Chinese/English text, alias resolution for title-style
// references, and search tokenization.
package normalization

import (
	"regexp"
	"strings"
	"unicode"
)

// EnStopwords are English tokens too generic to act as entities or keyword terms.
var EnStopwords = newSet(
	"the", "and", "for", "with", "from", "this", "that", "into", "then", "than",
	"are", "is", "was", "were", "what", "when", "where", "who", "why", "how",
	"can", "will", "should", "could", "would", "use", "using", "used", "data", "model",
)

// ZhStopwords are Chinese function words and generic fillers.
var ZhStopwords = newSet(
	"我们", "你们", "他们", "这些", "那些", "这个", "那个",
	"以及", "或者", "可以", "进行", "因为", "所以", "通过",
	"如果", "然后", "其中", "一种", "什么",
	"怎么", "如何", "为什么", "时候", "地方", "人们", "大家",
	"自己", "没有", "有的", "还有", "一些", "其他", "可能",
)

// entitySuffixBlacklist drops candidates that end in verb, generic-noun or
// adjective suffixes ("XX说", "XX时候"), which are narration fragments rather
// than entities.
var entitySuffixBlacklist = newSet(
	"说", "道", "曰", "云", "称", "表示", "指出", "强调", "提出", "要求", "希望", "介绍", "说明", "解释", "告诉",
	"问", "答", "笑", "哭", "想", "知道", "觉得", "发现", "看到", "听到", "记得", "完了", "接着", "起来", "下来",
	"过来", "回来", "出去", "开始", "结束", "继续", "停止", "想起", "感到", "看来", "上去", "回去", "进去", "出来",
	"下去", "住", "掉", "成", "到", "好", "完", "起", "下", "上", "来", "去", "出", "进", "回", "过",
	"时候", "地方", "意思", "情况", "样子", "声音", "电话", "手表", "东西", "事情", "问题", "之后", "以前", "以后",
	"这样", "那样", "怎样", "如何", "这个", "那个", "什么", "大家", "我们", "你们", "他们", "自己", "别人",
	"不是", "就是", "但是", "因为", "所以", "如果", "虽然", "已经", "曾经", "正在", "将要", "可能", "应该",
	"必须", "需要", "可以", "愿意", "喜欢", "讨厌", "害怕", "担心", "相信", "怀疑", "理解", "明白", "了解",
	"认识", "熟悉", "进行", "完成", "实现", "形成", "包括", "有关", "对于", "关于", "由于", "根据", "通过",
	"非常", "特别", "十分", "相当", "比较", "很", "真", "坏", "多", "少", "大", "小", "长", "短", "高", "低",
	"新", "旧", "快", "慢", "早", "晚",
)

// singleCharBlacklist rejects meaningless single-character Chinese candidates.
var singleCharBlacklist = newRuneSet(
	"的是在了和与或有我你他她它们这那就也都而及着被把让给向从到至对于为以如因所当时后前上下中内外里间之其" +
		"可能要会应该才已曾将且又则但却只仅比等似像属含带通过做作使令叫请派劝求望盼很真好坏多少大小长短高低" +
		"新旧快慢早晚明暗轻重软硬热冷干湿满空开关来去进出起落生死始终止加减乘除正负左右东西南北天地日月星山" +
		"水火风雨雪花草树木虫鸟鱼兽人事物心手足口耳目头身力气血骨肉皮毛肝脾肺肾胃肠胆子女夫妻父母兄弟姐妹友" +
		"敌君臣民官兵商学工农知识字文句章篇书报刊杂志画图像影声音乐曲歌诗词赋艺术科技法律理数化生医药政治经" +
		"济贸金银铜铁钢煤油气电光磁原核波粒量功率压强温度密容积面体形色彩红黄蓝绿白黑紫橙粉灰棕铝锌锡铅镍铬" +
		"锰钛铂钨钼汞硝硫磷碳硅钙镁钾钠氯氧氢氮氟溴碘硼",
)

// TitleSuffixes are job-title suffixes used to resolve references such as
// "皮副市长" back to the formal person name "皮杰".
var TitleSuffixes = newSet(
	"市长", "副市长", "省长", "副省长", "书记", "副书记", "主席", "副主席",
	"主任", "副主任", "厅长", "副厅长", "局长", "副局长", "处长", "副处长",
	"科长", "副科长", "镇长", "副镇长", "乡长", "副乡长", "行长", "副行长",
	"总裁", "副总裁", "总经理", "副总经理", "董事长", "副董事长", "总监", "副总监",
	"院长", "副院长", "校长", "副校长", "所长", "副所长",
	"部长", "副部长", "经理", "副经理", "老板",
	"组长", "副组长", "队长", "副队长",
	"教授", "副教授", "讲师", "助教", "老师", "医生", "护士", "医师",
)

// commonSurnames gates which 2-4 character candidates may be treated as person names.
var commonSurnames = newRuneSet(
	"王李张刘陈杨赵黄周吴徐孙胡朱高林何郭马罗梁宋郑谢韩唐冯于董萧" +
		"程曹袁邓许傅沈曾彭吕苏卢蒋蔡贾丁魏薛叶阎余潘杜戴夏钟汪田石皮",
)

var (
	enEntityPattern = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_\-/]{2,40}`)
	whitespacePat   = regexp.MustCompile(`\s+`)
	asciiTermPat    = regexp.MustCompile(`^[A-Za-z0-9_\-/ ]+$`)
)

const entityTrimCutset = " ,.;:()[]{}\"'"

func newSet(items ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

func newRuneSet(chars string) map[rune]struct{} {
	set := make(map[rune]struct{}, len(chars))
	for _, r := range chars {
		set[r] = struct{}{}
	}
	return set
}

// NormalizeTerm collapses whitespace and lowercases pure ASCII identifier-like
// terms. Chinese terms keep their original form.
func NormalizeTerm(name string) string {
	stripped := strings.TrimSpace(whitespacePat.ReplaceAllString(name, " "))
	if stripped == "" {
		return ""
	}
	if asciiTermPat.MatchString(stripped) {
		return strings.ToLower(stripped)
	}
	return stripped
}

// IsStopword reports whether the normalized term is an English or Chinese stopword.
func IsStopword(norm string) bool {
	if _, ok := EnStopwords[norm]; ok {
		return true
	}
	_, ok := ZhStopwords[norm]
	return ok
}

func RuneLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}

func firstRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func truncateRunes(s string, n int) string {
	return firstRunes(s, n)
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// StripTitleSuffix removes a trailing job-title suffix from a reference like
// "皮副市长", returning the name stem. The longest matching suffix wins.
func StripTitleSuffix(name string) (string, bool) {
	best := ""
	for suffix := range TitleSuffixes {
		if strings.HasSuffix(name, suffix) && len(suffix) > len(best) {
			best = suffix
		}
	}
	if best == "" {
		return "", false
	}
	return name[:len(name)-len(best)], true
}

// ResolveEntityAliases maps title-style references to formal person names found
// in the same candidate list, e.g. {"皮副市长": "皮杰"}.
func ResolveEntityAliases(entities []string) map[string]string {
	var personNames []string
	seen := make(map[string]struct{})
	for _, e := range entities {
		n := RuneLen(e)
		if n < 2 || n > 4 {
			continue
		}
		first, _ := firstRune(e)
		if _, ok := commonSurnames[first]; !ok {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		personNames = append(personNames, e)
	}

	aliasMap := make(map[string]string)
	for _, e := range entities {
		if RuneLen(e) < 3 {
			continue
		}
		namePart, ok := StripTitleSuffix(e)
		if !ok {
			continue
		}
		var matched string
		prefix := firstRunes(namePart, 2)
		for _, person := range personNames {
			if person == namePart {
				matched = person
				break
			}
			if RuneLen(namePart) >= 2 && strings.HasPrefix(person, prefix) {
				if matched == "" || len(person) > len(matched) {
					matched = person
				}
			}
		}
		if matched != "" {
			aliasMap[e] = matched
		}
	}
	return aliasMap
}

func firstRune(s string) (rune, bool) {
	for _, r := range s {
		return r, true
	}
	return 0, false
}

func hasBlacklistedSuffix(norm string) bool {
	for suffix := range entitySuffixBlacklist {
		if strings.HasSuffix(norm, suffix) {
			return true
		}
	}
	return false
}

// ExtractEntities pulls candidate entity mentions from mixed Chinese/English
// text. Chinese candidates are 2-4 character runs, English candidates are
// identifier-like tokens. Title-style aliases are resolved to their canonical
// person names before filtering.
func ExtractEntities(text string, maxEntities int) []string {
	if text == "" {
		return nil
	}
	if maxEntities <= 0 {
		maxEntities = 20
	}

	candidates := hanCandidates(text)
	candidates = append(candidates, enEntityPattern.FindAllString(text, -1)...)

	aliasMap := ResolveEntityAliases(candidates)
	for alias, canonical := range aliasMap {
		if !containsString(candidates, alias) {
			candidates = append(candidates, alias)
		}
		if !containsString(candidates, canonical) {
			candidates = append(candidates, canonical)
		}
	}
	aliasToCanonical := ResolveEntityAliases(candidates)

	var results []string
	seen := make(map[string]struct{})
	for _, raw := range candidates {
		cleaned := strings.Trim(raw, entityTrimCutset)
		if RuneLen(cleaned) < 2 {
			continue
		}
		if canonical, ok := aliasToCanonical[cleaned]; ok {
			cleaned = canonical
		}
		norm := NormalizeTerm(cleaned)
		if norm == "" {
			continue
		}
		if IsStopword(norm) {
			continue
		}
		if RuneLen(norm) == 1 {
			if r, ok := firstRune(norm); ok {
				if _, blocked := singleCharBlacklist[r]; blocked {
					continue
				}
			}
		}
		if hasBlacklistedSuffix(norm) {
			continue
		}
		if isAllDigits(norm) {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		results = append(results, cleaned)
		if len(results) >= maxEntities {
			break
		}
	}
	return results
}

// hanCandidates emits 2-4 character windows from each contiguous Han run,
// longest first at every start position. Paired with the suffix and stopword
// filters this behaves like greedy maximum-matching segmentation and surfaces
// both full names ("孙悟空") and short aliases ("悟空") without a dictionary.
func hanCandidates(text string) []string {
	var candidates []string
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		if !isHan(runes[i]) {
			i++
			continue
		}
		j := i
		for j < len(runes) && isHan(runes[j]) {
			j++
		}
		run := runes[i:j]
		for start := 0; start < len(run); start++ {
			for length := 4; length >= 2; length-- {
				if start+length <= len(run) {
					candidates = append(candidates, string(run[start:start+length]))
				}
			}
		}
		i = j
	}
	return candidates
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
