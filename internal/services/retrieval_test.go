package services

import (
	"testing"

	"github.com/google/uuid"

	"github.com/csyeqing/rag-platform/internal/types"
)

func TestTermHitRatio(t *testing.T) {
	text := "孙悟空保护唐僧西行取经"
	if got := termHitRatio(text, []string{"孙悟空", "唐僧"}); got != 1.0 {
		t.Fatalf("both terms hit: %v", got)
	}
	if got := termHitRatio(text, []string{"孙悟空", "白骨精"}); got != 0.5 {
		t.Fatalf("half hit: %v", got)
	}
	if got := termHitRatio(text, nil); got != 0 {
		t.Fatalf("no terms: %v", got)
	}
	// Denominator caps at eight even for long term lists.
	terms := []string{"孙悟空", "a", "b", "c", "d", "e", "f", "g", "h", "i"}
	if got := termHitRatio(text, terms); got != Round6(1.0/8.0) {
		t.Fatalf("capped denominator: %v", got)
	}
	if got := termHitRatio("Kube-APIServer restarts", []string{"kube-apiserver"}); got == 0 {
		t.Fatalf("matching should ignore case")
	}
}

func TestIntentDetection(t *testing.T) {
	if !hasAliasIntent("猪八戒的外号是什么") {
		t.Fatalf("alias intent")
	}
	if !hasCoreference("他后来去了哪里") {
		t.Fatalf("coreference")
	}
	if !IsGlobalSummaryQuery("请总结全书的主线") {
		t.Fatalf("summary intent")
	}
	if !hasCountIntent("唐僧有几个徒弟") {
		t.Fatalf("count intent")
	}
	if !hasRosterIntent("取经团队有哪些人") {
		t.Fatalf("roster intent")
	}
	if hasRosterIntent("今天天气怎么样") {
		t.Fatalf("false roster intent")
	}
}

func TestScoreVectorCandidateMonotonic(t *testing.T) {
	closeScore, closeSim := scoreVectorCandidate(0.15, 0)
	farScore, farSim := scoreVectorCandidate(0.75, 0)
	if closeScore <= farScore {
		t.Fatalf("closer chunk must score higher: %v vs %v", closeScore, farScore)
	}
	if closeSim <= farSim {
		t.Fatalf("closer chunk must be more similar: %v vs %v", closeSim, farSim)
	}
	// Same distance at a worse rank loses its rank bonus.
	first, _ := scoreVectorCandidate(0.3, 0)
	third, _ := scoreVectorCandidate(0.3, 2)
	if first <= third {
		t.Fatalf("rank bonus: %v vs %v", first, third)
	}
	// Degenerate distances stay in range.
	if score, sim := scoreVectorCandidate(2.0, 0); sim != 0 || score <= 0 {
		t.Fatalf("out-of-range distance: score=%v sim=%v", score, sim)
	}
}

func TestPickContextEntitiesCoreference(t *testing.T) {
	query := "孙悟空还叫过他什么外号？"
	history := []string{"猪八戒", "八戒"}
	picked := pickContextEntities(query, []string{"孙悟空"}, history, hasAliasIntent(query), true)
	found := false
	for _, entity := range picked {
		if entity == "猪八戒" || entity == "八戒" {
			found = true
		}
	}
	if !found {
		t.Fatalf("history entity must be grafted onto the query, got %v", picked)
	}
	// Without history there is nothing to borrow.
	if got := pickContextEntities(query, []string{"孙悟空"}, nil, true, true); got != nil {
		t.Fatalf("no history: %v", got)
	}
	// A self-contained query stays untouched.
	if got := pickContextEntities("唐僧是谁", []string{"唐僧"}, history, false, true); got != nil {
		t.Fatalf("self-contained query: %v", got)
	}
}

func TestHasCountSignal(t *testing.T) {
	units := queryCountUnits("唐僧有几个徒弟")
	if len(units) == 0 {
		t.Fatalf("no units extracted")
	}
	if !hasCountSignal("唐僧收了三个徒弟", units, true) {
		t.Fatalf("numeral next to unit should signal")
	}
	if hasCountSignal("唐僧一路向西", []string{"徒弟"}, false) {
		t.Fatalf("no numeral near unit should not signal")
	}
	if !hasCountSignal("共计五人", nil, false) {
		t.Fatalf("bare numeral without units should signal")
	}
	if !hasCountSignal("共 3 人", []string{"人"}, false) {
		t.Fatalf("whitespace between numeral and unit should signal")
	}
	if hasCountSignal("三名学生与徒弟同坐", []string{"徒弟"}, false) {
		t.Fatalf("numeral separated from the unit should not signal")
	}
}

func TestHasRosterSignal(t *testing.T) {
	anchors := []string{"孙悟空", "猪八戒", "沙僧"}
	if !hasRosterSignal("师徒四人：孙悟空、猪八戒和沙僧随行", anchors) {
		t.Fatalf("explicit roster text should signal")
	}
	if !hasRosterSignal("孙悟空与猪八戒还有沙僧同路", anchors) {
		t.Fatalf("three anchors co-occurring should signal")
	}
	if hasRosterSignal("今日无事", anchors) {
		t.Fatalf("plain text should not signal")
	}
}

func TestMineNicknames(t *testing.T) {
	texts := []string{
		"行者骂道：你这泼猴，还不现形！",
		"八戒又被人叫做“猪刚鬣”，旁人听了直笑。",
		"师父唤他“猪刚鬣”。",
	}
	mined := mineNicknames(texts, []string{"猪八戒", "孙悟空"}, 5)
	found := false
	for _, term := range mined {
		if term == "猪刚鬣" {
			found = true
		}
		if term == "猪八戒" {
			t.Fatalf("anchor leaked into mined nicknames")
		}
	}
	if !found {
		t.Fatalf("expected 猪刚鬣 in %v", mined)
	}
}

func TestRelaxedConfigFloors(t *testing.T) {
	cfg := defaultRetrievalConfig()
	cfg.MinTop1Score = 0.05
	cfg.Top1Relax = 0.10
	cfg.MinSupportCount = 1
	relaxed := relaxedConfig(cfg)
	if relaxed.MinTop1Score != 0 {
		t.Fatalf("top1 floor: %v", relaxed.MinTop1Score)
	}
	if relaxed.MinSupportCount != 1 {
		t.Fatalf("support count floor: %d", relaxed.MinSupportCount)
	}
}

func TestBuildKeywordQueriesRosterSeeds(t *testing.T) {
	sig := querySignals{countIntent: true, rosterIntent: true}
	queries := buildKeywordQueries([]string{"唐僧"}, sig)
	found := false
	for _, term := range queries {
		if term == "师徒" {
			found = true
		}
	}
	if !found {
		t.Fatalf("roster seeds missing from %v", queries)
	}
	if queries[0] != "唐僧" {
		t.Fatalf("query terms must precede the seeds: %v", queries)
	}
	// Seeds only apply to count-plus-roster questions.
	if got := buildKeywordQueries([]string{"唐僧"}, querySignals{countIntent: true}); len(got) != 1 {
		t.Fatalf("count-only query should stay untouched: %v", got)
	}
}

func TestApplyRosterTermsWidensSets(t *testing.T) {
	sig := querySignals{
		keywordTermSet: []string{"唐僧"},
		anchorTerms:    []string{"唐僧"},
	}
	queries := applyRosterTerms(&sig, []string{"唐僧"}, []string{"孙悟空", "猪八戒"})
	if len(queries) != 3 {
		t.Fatalf("queries: %v", queries)
	}
	wantMined := func(terms []string) bool {
		for _, term := range terms {
			if term == "孙悟空" {
				return true
			}
		}
		return false
	}
	if !wantMined(sig.keywordTermSet) {
		t.Fatalf("keyword term set not widened: %v", sig.keywordTermSet)
	}
	if !wantMined(sig.anchorTerms) {
		t.Fatalf("anchor terms not widened: %v", sig.anchorTerms)
	}
}

func TestMergeTermsDedupe(t *testing.T) {
	merged := mergeTerms([]string{"Etcd", "唐僧"}, []string{"etcd", "孙悟空", "唐僧"}, 10)
	if len(merged) != 3 {
		t.Fatalf("merged: %v", merged)
	}
	if merged[0] != "Etcd" || merged[2] != "孙悟空" {
		t.Fatalf("order: %v", merged)
	}
}

func candidateForFile(fileID uuid.UUID, score float64) *retrievalCandidate {
	return &retrievalCandidate{
		chunk: &types.Chunk{ID: uuid.New(), FileID: fileID, Content: "x"},
		score: score,
	}
}

func TestSelectDiverseSpreadsFiles(t *testing.T) {
	fileA, fileB, fileC := uuid.New(), uuid.New(), uuid.New()
	items := []*retrievalCandidate{
		candidateForFile(fileA, 0.9),
		candidateForFile(fileA, 0.8),
		candidateForFile(fileA, 0.7),
		candidateForFile(fileB, 0.6),
		candidateForFile(fileC, 0.5),
	}
	selected := selectDiverse(items, 4, 2, 3)
	if len(selected) != 4 {
		t.Fatalf("selected: %d", len(selected))
	}
	files := map[uuid.UUID]int{}
	for _, item := range selected {
		files[item.chunk.FileID]++
	}
	if len(files) < 3 {
		t.Fatalf("expected all three files covered: %v", files)
	}
	if files[fileA] > 2 {
		t.Fatalf("per-file cap exceeded: %v", files)
	}
}

func TestMergeCandidateListsDedupesInOrder(t *testing.T) {
	a := &retrievalCandidate{chunk: &types.Chunk{ID: uuid.New()}}
	b := &retrievalCandidate{chunk: &types.Chunk{ID: uuid.New()}}
	c := &retrievalCandidate{chunk: &types.Chunk{ID: uuid.New()}}
	merged := mergeCandidateLists([]*retrievalCandidate{a, b}, []*retrievalCandidate{b, c}, 10)
	if len(merged) != 3 {
		t.Fatalf("merged: %d", len(merged))
	}
	want := []uuid.UUID{a.chunk.ID, b.chunk.ID, c.chunk.ID}
	for i, candidate := range merged {
		if candidate.chunk.ID != want[i] {
			t.Fatalf("order broken at %d", i)
		}
	}
}

func TestIsRetrievalHitRejectsWeakTop1(t *testing.T) {
	svc := &retrievalService{}
	cfg := defaultRetrievalConfig()
	weak := []*retrievalCandidate{
		{chunk: &types.Chunk{ID: uuid.New()}, score: 0.10},
		{chunk: &types.Chunk{ID: uuid.New()}, score: 0.05},
	}
	if svc.isRetrievalHit(weak, cfg) {
		t.Fatalf("weak top1 should not gate through")
	}

	strong := []*retrievalCandidate{
		{chunk: &types.Chunk{ID: uuid.New()}, score: 0.60, keywordOverlap: 0.5},
		{chunk: &types.Chunk{ID: uuid.New()}, score: 0.30, keywordOverlap: 0.2},
	}
	if !svc.isRetrievalHit(strong, cfg) {
		t.Fatalf("lexical support should gate through")
	}

	// High score but zero overlap anywhere: only passes on semantic evidence.
	pseudo := []*retrievalCandidate{
		{chunk: &types.Chunk{ID: uuid.New()}, score: 0.40},
		{chunk: &types.Chunk{ID: uuid.New()}, score: 0.25},
	}
	if svc.isRetrievalHit(pseudo, cfg) {
		t.Fatalf("no lexical and no semantic evidence should fail the gate")
	}
	pseudo[0].vectorSim = 0.8
	if !svc.isRetrievalHit(pseudo, cfg) {
		t.Fatalf("semantic top1 above threshold should pass")
	}
}

func TestIsRetrievalHitNeedsSemanticFloor(t *testing.T) {
	svc := &retrievalService{}
	cfg := defaultRetrievalConfig()

	// Score clears the raised top1 bar but the vector similarity sits far
	// below vector_semantic_min; the last branch must not fire.
	stacked := []*retrievalCandidate{
		{chunk: &types.Chunk{ID: uuid.New()}, score: 0.41, vectorSim: 0.06},
		{chunk: &types.Chunk{ID: uuid.New()}, score: 0.27, vectorSim: 0.04},
	}
	if svc.isRetrievalHit(stacked, cfg) {
		t.Fatalf("sub-threshold similarity should fail the semantic branch")
	}
	stacked[0].vectorSim = cfg.VectorSemanticMin
	if !svc.isRetrievalHit(stacked, cfg) {
		t.Fatalf("similarity at the floor with a strong score should pass")
	}
}

func TestIsRetrievalHitGraphSignal(t *testing.T) {
	svc := &retrievalService{}
	cfg := defaultRetrievalConfig()

	// Graph evidence needs actual term overlap, not just the channel label.
	labeled := []*retrievalCandidate{
		{chunk: &types.Chunk{ID: uuid.New()}, score: 0.32, vectorSim: 0.20, source: sourceGraph},
		{chunk: &types.Chunk{ID: uuid.New()}, score: 0.20, source: sourceGraph},
	}
	if svc.isRetrievalHit(labeled, cfg) {
		t.Fatalf("graph source without overlap should not gate through")
	}
	labeled[0].graphOverlap = 0.25
	if !svc.isRetrievalHit(labeled, cfg) {
		t.Fatalf("graph overlap plus semantic similarity should pass")
	}
	// Graph overlap alone is not enough without the semantic floor.
	labeled[0].vectorSim = 0.05
	if svc.isRetrievalHit(labeled, cfg) {
		t.Fatalf("graph overlap without semantic support should fail")
	}
}

func TestFuseCandidatesMergesChannels(t *testing.T) {
	shared := &types.Chunk{ID: uuid.New(), FileID: uuid.New(), Content: "孙悟空"}
	vector := []*retrievalCandidate{{chunk: shared, score: 0.5, source: sourceVector, vectorSim: 0.6}}
	keyword := []*retrievalCandidate{{chunk: shared, score: 0.3, source: sourceKeyword, keywordOverlap: 0.4}}
	graph := []*retrievalCandidate{{chunk: shared, score: 0.1, source: sourceGraph, graphOverlap: 0.5}}
	fused := fuseCandidates(vector, keyword, graph)
	if len(fused) != 1 {
		t.Fatalf("fused: %d", len(fused))
	}
	if fused[0].score != 0.9 {
		t.Fatalf("summed score: %v", fused[0].score)
	}
	if fused[0].vectorSim != 0.6 || fused[0].keywordOverlap != 0.4 {
		t.Fatalf("overlaps not kept: %+v", fused[0])
	}
	if fused[0].graphOverlap != 0.5 {
		t.Fatalf("graph overlap not merged: %v", fused[0].graphOverlap)
	}
}

func TestShouldExpandOnMissingAnchors(t *testing.T) {
	svc := &retrievalService{}
	cfg := defaultRetrievalConfig()
	sig := querySignals{anchorTerms: []string{"孙悟空"}}
	results := []*retrievalCandidate{
		{chunk: &types.Chunk{ID: uuid.New(), Content: "无关内容"}, score: 0.5},
	}
	if !svc.shouldExpand(results, cfg, sig) {
		t.Fatalf("zero anchor overlap should trigger expansion")
	}
	results[0].anchorOverlap = 0.5
	results[0].keywordOverlap = 0.4
	results[0].score = 0.9
	if svc.shouldExpand(results, cfg, sig) {
		t.Fatalf("strong anchored result should not expand")
	}
	sig.summaryMode = true
	if svc.shouldExpand(results, cfg, sig) {
		t.Fatalf("summary mode never expands")
	}

	sig.summaryMode = false
	results[0].anchorOverlap = 0
	cfg.ExpandOnWeakHits = false
	if svc.shouldExpand(results, cfg, sig) {
		t.Fatalf("disabled expansion knob must win")
	}
}

func TestFinalizeLenientOnlyWhenAllowed(t *testing.T) {
	svc := &retrievalService{}
	cfg := defaultRetrievalConfig()
	sig := querySignals{}
	items := []*retrievalCandidate{
		{chunk: &types.Chunk{ID: uuid.New(), FileID: uuid.New()}, score: 0.22, focusOverlap: 0.30, keywordOverlap: 0.10},
		{chunk: &types.Chunk{ID: uuid.New(), FileID: uuid.New()}, score: 0.12},
	}
	if got := svc.finalize(items, cfg, 6, 6, sig, false); got != nil {
		t.Fatalf("strict pass must not take the lenient branch: %d", len(got))
	}
	if got := svc.finalize(items, cfg, 6, 6, sig, true); len(got) != 2 {
		t.Fatalf("lenient pass should accept focused lexical evidence: %d", len(got))
	}
}
