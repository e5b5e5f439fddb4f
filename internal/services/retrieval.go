package services

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/csyeqing/rag-platform/internal/normalization"
	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/repos"
	"github.com/csyeqing/rag-platform/internal/types"
)

const (
	retrievalSnippetRunes = 500
	sourceVector          = "vector"
	sourceKeyword         = "keyword"
	sourceGraph           = "graph"
	sourceKeywordFallback = "keyword_fallback"
)

// RetrievedChunk is one serialized retrieval result, ready for citation lists
// and prompt assembly.
type RetrievedChunk struct {
	LibraryID         uuid.UUID `json:"library_id"`
	FileID            uuid.UUID `json:"file_id"`
	FileName          string    `json:"file_name"`
	ChunkID           uuid.UUID `json:"chunk_id"`
	Score             float64   `json:"score"`
	Snippet           string    `json:"snippet"`
	Source            string    `json:"source"`
	MatchedEntities   []string  `json:"matched_entities"`
	VectorSimilarity  float64   `json:"vector_similarity"`
	KeywordOverlap    float64   `json:"keyword_overlap"`
	EntityOverlap     float64   `json:"entity_overlap"`
	AnchorTermOverlap float64   `json:"anchor_term_overlap"`
	QueryFocusOverlap float64   `json:"query_focus_overlap"`
	GraphOverlap      float64   `json:"graph_overlap"`
}

// RetrievalService fans a query out over the vector, keyword and graph
// channels, fuses and gates the results, and falls back to a raw keyword scan
// when the fused evidence is too thin.
type RetrievalService interface {
	HybridSearch(ctx context.Context, libraryIDs []uuid.UUID, query string, topK int, history []string, cfg RetrievalConfig) ([]RetrievedChunk, error)
}

type retrievalService struct {
	log          *logger.Logger
	chunkRepo    repos.ChunkRepo
	fileRepo     repos.KnowledgeFileRepo
	entityRepo   repos.KnowledgeEntityRepo
	relationRepo repos.KnowledgeRelationRepo
	embedder     EmbeddingService
	graph        GraphService
}

func NewRetrievalService(
	chunkRepo repos.ChunkRepo,
	fileRepo repos.KnowledgeFileRepo,
	entityRepo repos.KnowledgeEntityRepo,
	relationRepo repos.KnowledgeRelationRepo,
	embedder EmbeddingService,
	graph GraphService,
	log *logger.Logger,
) RetrievalService {
	return &retrievalService{
		log:          log.With("service", "RetrievalService"),
		chunkRepo:    chunkRepo,
		fileRepo:     fileRepo,
		entityRepo:   entityRepo,
		relationRepo: relationRepo,
		embedder:     embedder,
		graph:        graph,
	}
}

type retrievalCandidate struct {
	chunk           *types.Chunk
	score           float64
	source          string
	vectorSim       float64
	keywordOverlap  float64
	entityOverlap   float64
	anchorOverlap   float64
	focusOverlap    float64
	graphOverlap    float64
	matchedEntities []string
}

// querySignals captures intent flags and term sets computed once per query.
type querySignals struct {
	summaryMode  bool
	aliasIntent  bool
	countIntent  bool
	rosterIntent bool
	countUnits   []string

	keywordTermSet  []string
	queryFocusTerms []string
	anchorTerms     []string
}

func (s *retrievalService) HybridSearch(ctx context.Context, libraryIDs []uuid.UUID, query string, topK int, history []string, cfg RetrievalConfig) ([]RetrievedChunk, error) {
	query = strings.TrimSpace(query)
	if len(libraryIDs) == 0 || query == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 6
	}

	sig := querySignals{
		summaryMode:  cfg.SummaryIntentEnabled && IsGlobalSummaryQuery(query),
		aliasIntent:  cfg.AliasIntentEnabled && hasAliasIntent(query),
		countIntent:  hasCountIntent(query),
		rosterIntent: hasRosterIntent(query),
		countUnits:   queryCountUnits(query),
	}

	effectiveTopK := topK
	if sig.summaryMode {
		effectiveTopK = max(topK, cfg.SummaryMinChunks, topK*cfg.SummaryExpandFactor)
	}
	vectorMult, keywordMult, graphMult := cfg.VectorMultiplier, cfg.KeywordMultiplier, cfg.GraphMultiplier
	if !sig.summaryMode {
		vectorMult = min(vectorMult, 3)
		keywordMult = min(keywordMult, 3)
		graphMult = min(graphMult, 4)
	}

	index, err := s.loadEntityIndex(ctx, libraryIDs)
	if err != nil {
		return nil, err
	}

	queryEntities := extractQueryEntities(query, 10)
	historyEntities := extractHistoryEntities(history)
	contextEntities := pickContextEntities(query, queryEntities, historyEntities, sig.aliasIntent, cfg.CoreferenceEnabled)

	contextualQuery := query
	appended := 0
	for _, entity := range contextEntities {
		if appended == 3 {
			break
		}
		if !strings.Contains(contextualQuery, entity) {
			contextualQuery += " " + entity
			appended++
		}
	}
	if contextualQuery != query {
		queryEntities = mergeTerms(queryEntities, normalization.ExtractEntities(contextualQuery, 8), 12)
	}

	embedding, err := s.embedder.EmbedQuery(ctx, contextualQuery)
	if err != nil {
		return nil, err
	}

	allEntitiesForSearch := mergeTerms(queryEntities, historyEntities, 20)
	allEntitiesForSearch = mergeTerms(allEntitiesForSearch, contextEntities, 22)

	allQueryTerms := []string{query}
	if contextualQuery != query {
		allQueryTerms = append(allQueryTerms, contextualQuery)
	}
	matchedEntities := make([]*types.KnowledgeEntity, 0, len(allEntitiesForSearch))
	matchedIDs := map[uuid.UUID]bool{}
	for _, term := range allEntitiesForSearch {
		entity := index.lookup(term)
		if entity == nil {
			allQueryTerms = append(allQueryTerms, term)
			continue
		}
		if !matchedIDs[entity.ID] {
			matchedIDs[entity.ID] = true
			matchedEntities = append(matchedEntities, entity)
		}
		allQueryTerms = append(allQueryTerms, entity.Name, entity.DisplayName)
		allQueryTerms = append(allQueryTerms, entityAliases(entity)...)
	}
	for _, token := range normalization.CutForSearch(query) {
		norm := normalization.NormalizeTerm(token)
		if normalization.RuneLen(norm) >= 2 && !normalization.IsStopword(norm) {
			allQueryTerms = append(allQueryTerms, token)
		}
	}

	keywordQueries := buildKeywordQueries(allQueryTerms, sig)
	sig.keywordTermSet = mergeTerms(keywordQueries, nil, 28)
	sig.queryFocusTerms = buildFocusTerms(queryEntities, 8)
	anchorLimit := 12
	if sig.rosterIntent {
		anchorLimit = 16
	}
	sig.anchorTerms = buildAnchorTerms(queryEntities, matchedEntities, anchorLimit)

	matchedDisplays := make([]string, 0, len(matchedEntities))
	for _, entity := range matchedEntities {
		matchedDisplays = append(matchedDisplays, entity.DisplayName)
	}

	// Vector and keyword channels are independent; run them together.
	var vectorRows []*repos.ChunkWithDistance
	var keywordRows []*types.Chunk
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		limit := max(topK*vectorMult, effectiveTopK*2, 16)
		rows, err := s.chunkRepo.SearchByEmbedding(groupCtx, nil, libraryIDs, pgvector.NewVector(NormalizeVectorDim(embedding, s.embedder.Dim())), limit)
		vectorRows = rows
		return err
	})
	group.Go(func() error {
		if len(keywordQueries) == 0 {
			return nil
		}
		scanCap := max(topK*keywordMult*6, effectiveTopK*6, 120)
		if sig.countIntent {
			scanCap = max(scanCap, 360)
		}
		if sig.rosterIntent {
			scanCap = max(scanCap, 900)
		}
		rows, err := s.chunkRepo.SearchByTerms(groupCtx, nil, libraryIDs, keywordQueries, min(scanCap, 5000))
		keywordRows = rows
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	vectorCands := make([]*retrievalCandidate, 0, len(vectorRows))
	for rank, row := range vectorRows {
		score, sim := scoreVectorCandidate(row.Distance, rank)
		chunk := row.Chunk
		vectorCands = append(vectorCands, &retrievalCandidate{
			chunk:     &chunk,
			score:     score,
			source:    sourceVector,
			vectorSim: sim,
		})
	}

	keywordCands := s.scoreKeywordChunks(keywordRows, sig)
	sort.SliceStable(keywordCands, func(i, j int) bool { return keywordCands[i].score > keywordCands[j].score })
	if keep := max(topK*keywordMult, effectiveTopK*2, 20); len(keywordCands) > keep {
		keywordCands = keywordCands[:keep]
	}

	// Graph channel: neighborhood expansion plus intent-driven term mining.
	graphTermsMax := clampRange(cfg.RagGraphMaxTerms, 6, 24)
	graphTerms, graphMatchedDisplays, err := s.expandGraphTerms(ctx, libraryIDs, contextualQuery, graphTermsMax)
	if err != nil {
		return nil, err
	}
	if sig.aliasIntent && cfg.AliasMiningMaxTerms > 0 {
		mined, err := s.mineAliasTerms(ctx, libraryIDs, graphMatchedDisplays, allEntitiesForSearch, cfg.AliasMiningMaxTerms)
		if err != nil {
			return nil, err
		}
		graphTerms = mergeTerms(graphTerms, mined, graphTermsMax*2)
	}
	if sig.rosterIntent {
		rosterTerms, err := s.mineRosterTerms(ctx, libraryIDs, index, sig.anchorTerms, graphMatchedDisplays, graphTermsMax)
		if err != nil {
			return nil, err
		}
		graphTerms = mergeTerms(graphTerms, rosterTerms, min(graphTermsMax*3, 48))
		keywordQueries = applyRosterTerms(&sig, keywordQueries, rosterTerms)

		extra, err := s.rosterScan(ctx, libraryIDs, rosterTerms, sig, topK, keywordMult, effectiveTopK)
		if err != nil {
			return nil, err
		}
		keywordCands = appendNonDuplicate(keywordCands, extra, max(effectiveTopK*5, 40))
	}

	graphCands, err := s.searchGraphChannel(ctx, libraryIDs, graphTerms, matchedDisplays, sig, cfg, topK, graphMult, effectiveTopK)
	if err != nil {
		return nil, err
	}

	fused := fuseCandidates(vectorCands, keywordCands, graphCands)
	s.refineCandidates(fused, sig, matchedDisplays)
	sort.SliceStable(fused, func(i, j int) bool { return fused[i].score > fused[j].score })

	results := s.finalize(fused, cfg, topK, effectiveTopK, sig, false)
	if len(results) > 0 {
		if s.shouldExpand(results, cfg, sig) {
			fallback, err := s.keywordFallback(ctx, libraryIDs, sig, cfg, topK)
			if err != nil {
				return nil, err
			}
			results = mergeCandidateLists(results, fallback, cfg.FallbackMaxChunks)
			sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })
			if len(results) > effectiveTopK {
				results = results[:effectiveTopK]
			}
		}
		return s.serialize(ctx, results)
	}

	if !cfg.FallbackRelaxEnabled {
		return nil, nil
	}
	results = s.finalize(fused, relaxedConfig(cfg), topK, effectiveTopK, sig, true)
	if len(results) == 0 {
		fallback, err := s.keywordFallback(ctx, libraryIDs, sig, cfg, topK)
		if err != nil {
			return nil, err
		}
		results = fallback
		if len(results) > effectiveTopK {
			results = results[:effectiveTopK]
		}
	}

	return s.serialize(ctx, results)
}

type entityIndex struct {
	byNorm map[string]*types.KnowledgeEntity
}

func (ix *entityIndex) lookup(term string) *types.KnowledgeEntity {
	norm := normalization.NormalizeTerm(term)
	if norm == "" {
		return nil
	}
	return ix.byNorm[norm]
}

func (s *retrievalService) loadEntityIndex(ctx context.Context, libraryIDs []uuid.UUID) (*entityIndex, error) {
	index := &entityIndex{byNorm: map[string]*types.KnowledgeEntity{}}
	for _, libraryID := range libraryIDs {
		entities, err := s.entityRepo.ListByLibrary(ctx, nil, libraryID)
		if err != nil {
			return nil, err
		}
		for _, entity := range entities {
			keys := append([]string{entity.Name, entity.DisplayName}, entityAliases(entity)...)
			for _, key := range keys {
				norm := normalization.NormalizeTerm(key)
				if norm == "" {
					continue
				}
				if existing, ok := index.byNorm[norm]; !ok || entity.Frequency > existing.Frequency {
					index.byNorm[norm] = entity
				}
			}
		}
	}
	return index, nil
}

func entityAliases(entity *types.KnowledgeEntity) []string {
	if len(entity.Metadata) == 0 {
		return nil
	}
	var meta struct {
		Aliases []string `json:"aliases"`
	}
	if err := json.Unmarshal(entity.Metadata, &meta); err != nil {
		return nil
	}
	return meta.Aliases
}

func extractQueryEntities(query string, limit int) []string {
	entities := normalization.ExtractEntities(query, limit)
	for _, token := range normalization.CutForSearch(query) {
		norm := normalization.NormalizeTerm(token)
		n := normalization.RuneLen(norm)
		if n < 2 || n > 8 || normalization.IsStopword(norm) {
			continue
		}
		entities = mergeTerms(entities, []string{token}, limit)
	}
	return entities
}

func extractHistoryEntities(history []string) []string {
	if len(history) > 4 {
		history = history[len(history)-4:]
	}
	var merged []string
	for _, message := range history {
		merged = mergeTerms(merged, normalization.ExtractEntities(message, 6), 15)
	}
	return merged
}

// pickContextEntities selects history entities to graft onto the query:
// pronoun references pull in the most recent ones, alias questions pull in a
// few more, and an entity-free query borrows the two freshest.
func pickContextEntities(query string, queryEntities, historyEntities []string, aliasIntent, coreferenceEnabled bool) []string {
	if len(historyEntities) == 0 {
		return nil
	}
	recent := make([]string, len(historyEntities))
	for i, entity := range historyEntities {
		recent[len(historyEntities)-1-i] = entity
	}
	switch {
	case coreferenceEnabled && hasCoreference(query):
		return capSlice(recent, 4)
	case aliasIntent:
		return capSlice(recent, 5)
	case len(queryEntities) == 0:
		return capSlice(recent, 2)
	default:
		return nil
	}
}

// buildKeywordQueries assembles the keyword-channel query list. Count-plus-
// roster questions always carry the roster seed vocabulary.
func buildKeywordQueries(terms []string, sig querySignals) []string {
	queries := filterKeywordQueries(terms, 64)
	if sig.countIntent && sig.rosterIntent {
		queries = mergeTerms(queries, rosterSeedTerms, 64)
	}
	return queries
}

// applyRosterTerms widens the lexical term sets with mined roster members so
// rescoring, gating and fallback all see them.
func applyRosterTerms(sig *querySignals, keywordQueries, rosterTerms []string) []string {
	keywordQueries = mergeTerms(keywordQueries, rosterTerms, 48)
	sig.keywordTermSet = mergeTerms(keywordQueries, nil, 48)
	sig.anchorTerms = mergeTerms(sig.anchorTerms, rosterTerms, 16)
	return keywordQueries
}

func filterKeywordQueries(terms []string, limit int) []string {
	result := make([]string, 0, limit)
	seen := map[string]bool{}
	for _, term := range terms {
		norm := normalization.NormalizeTerm(term)
		if normalization.RuneLen(norm) < 2 || isQueryNoise(norm) || normalization.IsStopword(norm) {
			continue
		}
		if seen[norm] {
			continue
		}
		seen[norm] = true
		result = append(result, term)
		if len(result) == limit {
			break
		}
	}
	return result
}

func buildFocusTerms(queryEntities []string, limit int) []string {
	result := make([]string, 0, limit)
	for _, term := range queryEntities {
		norm := normalization.NormalizeTerm(term)
		if normalization.RuneLen(norm) < 2 || isQueryNoise(norm) || normalization.IsStopword(norm) {
			continue
		}
		result = append(result, term)
		if len(result) == limit {
			break
		}
	}
	return result
}

func buildAnchorTerms(queryEntities []string, matched []*types.KnowledgeEntity, limit int) []string {
	limit = clampRange(limit, 6, 24)
	candidates := make([]string, 0, len(queryEntities)+len(matched))
	candidates = append(candidates, queryEntities...)
	for _, entity := range matched {
		candidates = append(candidates, entity.DisplayName)
	}
	result := make([]string, 0, limit)
	seen := map[string]bool{}
	for _, term := range candidates {
		norm := normalization.NormalizeTerm(term)
		if normalization.RuneLen(norm) < 2 || isQueryNoise(norm) || normalization.IsStopword(norm) || seen[norm] {
			continue
		}
		seen[norm] = true
		result = append(result, term)
		if len(result) == limit {
			break
		}
	}
	return result
}

func (s *retrievalService) scoreKeywordChunks(rows []*types.Chunk, sig querySignals) []*retrievalCandidate {
	candidates := make([]*retrievalCandidate, 0, len(rows))
	for _, chunk := range rows {
		candidate := scoreKeywordChunk(chunk, sig)
		if candidate.score > 0 {
			candidates = append(candidates, candidate)
		}
	}
	return candidates
}

func scoreKeywordChunk(chunk *types.Chunk, sig querySignals) *retrievalCandidate {
	keywordOverlap := termHitRatio(chunk.Content, sig.keywordTermSet)
	anchorOverlap := termHitRatio(chunk.Content, sig.anchorTerms)
	countBoost := 0.0
	if sig.countIntent && hasCountSignal(chunk.Content, sig.countUnits, sig.rosterIntent) {
		countBoost = 0.10
	}
	rosterBoost := 0.0
	if sig.rosterIntent && hasRosterSignal(chunk.Content, sig.anchorTerms) {
		rosterBoost = 0.10
	}
	return &retrievalCandidate{
		chunk:          chunk,
		score:          Round6(0.52*keywordOverlap + 0.32*anchorOverlap + countBoost + rosterBoost),
		source:         sourceKeyword,
		keywordOverlap: keywordOverlap,
		anchorOverlap:  anchorOverlap,
	}
}

func (s *retrievalService) expandGraphTerms(ctx context.Context, libraryIDs []uuid.UUID, contextualQuery string, maxTerms int) ([]string, []string, error) {
	queryEntities := normalization.ExtractEntities(contextualQuery, maxTerms)
	var terms []string
	var matchedDisplays []string
	for _, libraryID := range libraryIDs {
		matched, expanded, err := s.graph.ExpandQueryTerms(ctx, libraryID, queryEntities, maxTerms)
		if err != nil {
			return nil, nil, err
		}
		for _, entity := range matched {
			matchedDisplays = mergeTerms(matchedDisplays, []string{entity.DisplayName}, maxTerms)
		}
		terms = mergeTerms(terms, expanded, maxTerms)
	}
	return terms, matchedDisplays, nil
}

func (s *retrievalService) mineAliasTerms(ctx context.Context, libraryIDs []uuid.UUID, graphMatched, allEntities []string, maxTerms int) ([]string, error) {
	anchors := mergeTerms(graphMatched, allEntities, 12)
	if len(anchors) == 0 {
		return nil, nil
	}
	scanTerms := capSlice(anchors, 6)
	chunks, err := s.chunkRepo.SearchByTerms(ctx, nil, libraryIDs, scanTerms, 120)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		texts = append(texts, chunk.Content)
	}
	return mineNicknames(texts, anchors, clampRange(maxTerms, 0, 24)), nil
}

// mineRosterTerms walks weighted relations outward from the anchor entities
// and returns the strongest neighbor names, favoring structural relation
// types.
func (s *retrievalService) mineRosterTerms(ctx context.Context, libraryIDs []uuid.UUID, index *entityIndex, anchorTerms, graphMatched []string, maxTerms int) ([]string, error) {
	seeds := mergeTerms(anchorTerms, graphMatched, 14)
	seedIDs := make([]uuid.UUID, 0, len(seeds))
	seedNorms := map[string]bool{}
	for _, seed := range seeds {
		seedNorms[normalization.NormalizeTerm(seed)] = true
		if entity := index.lookup(seed); entity != nil {
			seedIDs = append(seedIDs, entity.ID)
		}
	}
	if len(seedIDs) == 0 {
		return nil, nil
	}

	neighborScore := map[uuid.UUID]float64{}
	for _, libraryID := range libraryIDs {
		relations, err := s.relationRepo.ListByEntityIDs(ctx, nil, libraryID, seedIDs, 260)
		if err != nil {
			return nil, err
		}
		seedSet := map[uuid.UUID]bool{}
		for _, id := range seedIDs {
			seedSet[id] = true
		}
		for _, relation := range relations {
			sourceIsSeed := seedSet[relation.SourceEntityID]
			targetIsSeed := seedSet[relation.TargetEntityID]
			if sourceIsSeed == targetIsSeed {
				continue
			}
			neighbor := relation.SourceEntityID
			if sourceIsSeed {
				neighbor = relation.TargetEntityID
			}
			factor, ok := graphNeighborRelationWeights[relation.RelationType]
			if !ok {
				factor = graphNeighborRelationWeights[normalization.RelationCoOccurs]
			}
			neighborScore[neighbor] += max(1.0, float64(relation.Weight)) * factor
		}
	}
	if len(neighborScore) == 0 {
		return nil, nil
	}

	type neighbor struct {
		id    uuid.UUID
		score float64
	}
	ranked := make([]neighbor, 0, len(neighborScore))
	for id, score := range neighborScore {
		ranked = append(ranked, neighbor{id: id, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if keep := maxTerms * 4; len(ranked) > keep {
		ranked = ranked[:keep]
	}

	ids := make([]uuid.UUID, 0, len(ranked))
	for _, item := range ranked {
		ids = append(ids, item.id)
	}
	entities, err := s.entityRepo.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	byID := map[uuid.UUID]*types.KnowledgeEntity{}
	for _, entity := range entities {
		byID[entity.ID] = entity
	}

	keepTerms := clampRange(maxTerms, 4, 16)
	terms := make([]string, 0, keepTerms)
	seen := map[string]bool{}
	appendTerm := func(term string) {
		norm := normalization.NormalizeTerm(term)
		if normalization.RuneLen(norm) < 2 || seedNorms[norm] || normalization.IsStopword(norm) || isQueryNoise(norm) || seen[norm] {
			return
		}
		seen[norm] = true
		terms = append(terms, term)
	}
	for _, item := range ranked {
		if len(terms) >= keepTerms {
			break
		}
		entity, ok := byID[item.id]
		if !ok {
			continue
		}
		appendTerm(entity.DisplayName)
		for i, alias := range entityAliases(entity) {
			if i == 2 || len(terms) >= keepTerms {
				break
			}
			appendTerm(alias)
		}
	}
	return terms, nil
}

func (s *retrievalService) rosterScan(ctx context.Context, libraryIDs []uuid.UUID, rosterTerms []string, sig querySignals, topK, keywordMult, effectiveTopK int) ([]*retrievalCandidate, error) {
	terms := capSlice(rosterTerms, 10)
	if len(terms) == 0 {
		return nil, nil
	}
	limit := max(topK*keywordMult*6, effectiveTopK*6, 240)
	chunks, err := s.chunkRepo.SearchByTerms(ctx, nil, libraryIDs, terms, limit)
	if err != nil {
		return nil, err
	}
	rosterSig := sig
	rosterSig.rosterIntent = true
	candidates := s.scoreKeywordChunks(chunks, rosterSig)
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	return candidates, nil
}

func (s *retrievalService) searchGraphChannel(ctx context.Context, libraryIDs []uuid.UUID, graphTerms, matchedDisplays []string, sig querySignals, cfg RetrievalConfig, topK, graphMult, effectiveTopK int) ([]*retrievalCandidate, error) {
	searchTerms := make([]string, 0, len(graphTerms))
	for _, term := range graphTerms {
		if normalization.RuneLen(term) >= 2 {
			searchTerms = append(searchTerms, term)
		}
	}
	searchTerms = capSlice(searchTerms, 24)
	if len(searchTerms) == 0 {
		return nil, nil
	}
	limit := max(topK*graphMult, effectiveTopK*3, 20)
	chunks, err := s.chunkRepo.SearchByTerms(ctx, nil, libraryIDs, searchTerms, limit)
	if err != nil {
		return nil, err
	}

	candidates := make([]*retrievalCandidate, 0, len(chunks))
	for rank, chunk := range chunks {
		hitRatio := termHitRatio(chunk.Content, searchTerms)
		entityBoost := termHitRatio(chunk.Content, matchedDisplays)
		keywordOverlap := termHitRatio(chunk.Content, sig.keywordTermSet)
		score := Round6(cfg.GraphChannelWeight * (0.55*hitRatio + 0.35/float64(rank+1) + 0.10*entityBoost))
		if keywordOverlap == 0 && entityBoost == 0 {
			score = Round6(score * cfg.GraphOnlyPenalty)
		}
		candidates = append(candidates, &retrievalCandidate{
			chunk:          chunk,
			score:          score,
			source:         sourceGraph,
			keywordOverlap: keywordOverlap,
			entityOverlap:  entityBoost,
			anchorOverlap:  termHitRatio(chunk.Content, sig.anchorTerms),
			graphOverlap:   hitRatio,
		})
	}
	return candidates, nil
}

func fuseCandidates(lists ...[]*retrievalCandidate) []*retrievalCandidate {
	byChunk := map[uuid.UUID]*retrievalCandidate{}
	order := make([]uuid.UUID, 0)
	for _, list := range lists {
		for _, candidate := range list {
			existing, ok := byChunk[candidate.chunk.ID]
			if !ok {
				clone := *candidate
				byChunk[candidate.chunk.ID] = &clone
				order = append(order, candidate.chunk.ID)
				continue
			}
			existing.score = Round6(existing.score + candidate.score)
			existing.source = SummarizeGraphSources([]string{existing.source, candidate.source})
			existing.vectorSim = max(existing.vectorSim, candidate.vectorSim)
			existing.keywordOverlap = max(existing.keywordOverlap, candidate.keywordOverlap)
			existing.entityOverlap = max(existing.entityOverlap, candidate.entityOverlap)
			existing.anchorOverlap = max(existing.anchorOverlap, candidate.anchorOverlap)
			existing.graphOverlap = max(existing.graphOverlap, candidate.graphOverlap)
		}
	}
	fused := make([]*retrievalCandidate, 0, len(order))
	for _, id := range order {
		fused = append(fused, byChunk[id])
	}
	return fused
}

// refineCandidates rescoring pass: snippet-level focus and anchor overlap,
// count and roster boosts, and the off-anchor penalty.
func (s *retrievalService) refineCandidates(candidates []*retrievalCandidate, sig querySignals, matchedDisplays []string) {
	for _, candidate := range candidates {
		snippet := runeTruncate(candidate.chunk.Content, retrievalSnippetRunes)
		focus := termHitRatio(snippet, sig.queryFocusTerms)
		anchor := max(candidate.anchorOverlap, termHitRatio(snippet, sig.anchorTerms))
		countBoost := 0.0
		if sig.countIntent && hasCountSignal(snippet, sig.countUnits, sig.rosterIntent) {
			countBoost = 0.08
		}
		rosterBoost := 0.0
		if sig.rosterIntent && hasRosterSignal(snippet, sig.anchorTerms) {
			rosterBoost = 0.10
		}
		if focus > 0 || anchor > 0 || countBoost > 0 || rosterBoost > 0 {
			candidate.score = Round6(candidate.score + Round6(0.20*focus+0.24*anchor+countBoost+rosterBoost))
		}
		if len(sig.anchorTerms) > 0 && !sig.summaryMode && anchor == 0 {
			candidate.score = Round6(candidate.score * 0.72)
		}
		candidate.focusOverlap = focus
		candidate.anchorOverlap = anchor

		for _, display := range matchedDisplays {
			if len(candidate.matchedEntities) == 6 {
				break
			}
			if display != "" && strings.Contains(candidate.chunk.Content, display) {
				candidate.matchedEntities = append(candidate.matchedEntities, display)
			}
		}
	}
}

func relaxedConfig(cfg RetrievalConfig) RetrievalConfig {
	relaxed := cfg
	relaxed.MinTop1Score = max(0.0, cfg.MinTop1Score-cfg.Top1Relax)
	relaxed.MinSupportScore = max(0.0, cfg.MinSupportScore-cfg.SupportRelax)
	relaxed.MinItemScore = max(0.0, cfg.MinItemScore-cfg.ItemRelax)
	relaxed.MinSupportCount = max(1, cfg.MinSupportCount-1)
	relaxed.VectorSemanticMin = max(0.0, cfg.VectorSemanticMin-cfg.SupportRelax*0.5)
	return relaxed
}

func (s *retrievalService) isRetrievalHit(items []*retrievalCandidate, cfg RetrievalConfig) bool {
	if len(items) == 0 {
		return false
	}
	top := items[0]
	if top.score < cfg.MinTop1Score {
		return false
	}
	support := 0
	for _, item := range items {
		if item.score >= cfg.MinSupportScore {
			support++
		}
	}
	if support < cfg.MinSupportCount && top.score < cfg.MinTop1Score+0.15 {
		return false
	}
	window := items[:min(len(items), max(3, cfg.MinSupportCount))]
	for _, item := range window {
		if item.keywordOverlap > 0 || item.entityOverlap > 0 || item.anchorOverlap > 0 || item.focusOverlap > 0 {
			return true
		}
	}
	graphSignal := false
	for _, item := range window {
		if item.graphOverlap > 0 {
			graphSignal = true
			break
		}
	}
	semanticSignal := top.vectorSim >= cfg.VectorSemanticMin
	if graphSignal && semanticSignal {
		return true
	}
	return semanticSignal && top.score >= cfg.MinTop1Score+0.08
}

func (s *retrievalService) finalize(candidates []*retrievalCandidate, cfg RetrievalConfig, topK, effectiveTopK int, sig querySignals, allowLenient bool) []*retrievalCandidate {
	pruned := make([]*retrievalCandidate, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.score >= cfg.MinItemScore {
			pruned = append(pruned, candidate)
		}
	}
	if len(pruned) == 0 {
		return nil
	}

	window := pruned[:min(len(pruned), max(topK*2, cfg.MinSupportCount+1))]
	if !s.isRetrievalHit(window, cfg) && !(allowLenient && s.lenientHit(pruned, cfg, sig)) {
		return nil
	}
	if sig.summaryMode {
		return selectDiverse(pruned, effectiveTopK, cfg.SummaryPerFileCap, cfg.SummaryMinFiles)
	}
	if len(pruned) > topK {
		pruned = pruned[:topK]
	}
	return pruned
}

// lenientHit is the second-chance gate: summary queries accept broad but
// shallow evidence, pointed queries accept a single strong lexical or intent
// signal in the head of the list.
func (s *retrievalService) lenientHit(items []*retrievalCandidate, cfg RetrievalConfig, sig querySignals) bool {
	window := items[:min(len(items), 8)]
	if sig.summaryMode {
		lexical := 0
		semantic := 0
		files := map[uuid.UUID]bool{}
		total := 0.0
		vectorFloor := cfg.VectorSemanticMin * 0.8
		for _, item := range window {
			if item.keywordOverlap > 0 || item.anchorOverlap > 0 {
				lexical++
			}
			if item.vectorSim >= vectorFloor {
				semantic++
			}
			files[item.chunk.FileID] = true
			total += item.score
		}
		if lexical >= 1 || semantic >= 2 {
			return true
		}
		return len(files) >= 2 && total/float64(len(window)) >= cfg.MinItemScore
	}

	semanticFloor := cfg.VectorSemanticMin * 0.85
	for _, item := range window {
		secondary := item.keywordOverlap >= 0.08 || item.entityOverlap >= 0.08 || item.anchorOverlap >= 0.08 || item.vectorSim >= semanticFloor
		if item.focusOverlap >= 0.22 && secondary {
			return true
		}
		if item.keywordOverlap >= 0.20 && (item.entityOverlap >= 0.08 || item.anchorOverlap >= 0.08) {
			return true
		}
		if sig.countIntent && hasCountSignal(item.chunk.Content, sig.countUnits, sig.rosterIntent) &&
			(item.focusOverlap >= 0.15 || item.keywordOverlap >= 0.12 || item.entityOverlap >= 0.08 || item.anchorOverlap >= 0.08) {
			return true
		}
		if sig.rosterIntent && hasRosterSignal(item.chunk.Content, sig.anchorTerms) &&
			(item.focusOverlap >= 0.12 || item.keywordOverlap >= 0.10 || item.entityOverlap >= 0.08 || item.anchorOverlap >= 0.08) {
			return true
		}
	}
	return false
}

func (s *retrievalService) shouldExpand(results []*retrievalCandidate, cfg RetrievalConfig, sig querySignals) bool {
	if len(results) == 0 || sig.summaryMode || !cfg.ExpandOnWeakHits || cfg.FallbackMaxChunks <= 0 {
		return false
	}
	window := results[:min(len(results), 8)]
	if len(sig.anchorTerms) > 0 {
		topAnchor := 0.0
		for _, item := range window {
			topAnchor = max(topAnchor, item.anchorOverlap)
		}
		if topAnchor == 0 {
			return true
		}
	}
	if sig.countIntent {
		found := false
		for _, item := range window {
			if hasCountSignal(item.chunk.Content, sig.countUnits, sig.rosterIntent) {
				found = true
				break
			}
		}
		if !found {
			return true
		}
	}
	if sig.rosterIntent {
		found := false
		for _, item := range window {
			if hasRosterSignal(item.chunk.Content, sig.anchorTerms) {
				found = true
				break
			}
		}
		if !found {
			return true
		}
	}
	weakLexical := 0
	for _, item := range window {
		if item.keywordOverlap >= 0.12 || item.anchorOverlap >= 0.10 {
			weakLexical++
		}
	}
	return weakLexical <= 1 && results[0].score < cfg.MinTop1Score+0.05
}

// keywordFallback is the last line of defense: a bounded substring-filtered
// scan over the anchor and keyword terms, scored with the keyword formula.
func (s *retrievalService) keywordFallback(ctx context.Context, libraryIDs []uuid.UUID, sig querySignals, cfg RetrievalConfig, topK int) ([]*retrievalCandidate, error) {
	terms := mergeTerms(sig.anchorTerms, sig.keywordTermSet, 32)
	if len(terms) == 0 {
		return nil, nil
	}
	scanLimit := max(topK*30, 220)
	if sig.countIntent {
		scanLimit = max(scanLimit, 720)
	}
	if sig.rosterIntent {
		scanLimit = max(scanLimit, 1200)
	}
	chunks, err := s.chunkRepo.SearchByTerms(ctx, nil, libraryIDs, terms, min(scanLimit, cfg.FallbackScanLimit))
	if err != nil {
		return nil, err
	}

	candidates := make([]*retrievalCandidate, 0)
	for _, chunk := range chunks {
		keywordOverlap := termHitRatio(chunk.Content, sig.keywordTermSet)
		anchorOverlap := termHitRatio(chunk.Content, sig.anchorTerms)
		if len(sig.anchorTerms) > 0 && anchorOverlap == 0 && keywordOverlap < 0.25 {
			continue
		}
		candidate := scoreKeywordChunk(chunk, sig)
		if candidate.score < cfg.FallbackMinScore {
			continue
		}
		candidate.score = max(0.16, candidate.score)
		candidate.source = sourceKeywordFallback
		candidates = append(candidates, candidate)
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > cfg.FallbackMaxChunks {
		candidates = candidates[:cfg.FallbackMaxChunks]
	}
	return candidates, nil
}

func mergeCandidateLists(primary, secondary []*retrievalCandidate, maxItems int) []*retrievalCandidate {
	maxItems = clampRange(maxItems, 5, 800)
	seen := map[uuid.UUID]bool{}
	merged := make([]*retrievalCandidate, 0, len(primary)+len(secondary))
	for _, list := range [][]*retrievalCandidate{primary, secondary} {
		for _, candidate := range list {
			if seen[candidate.chunk.ID] {
				continue
			}
			seen[candidate.chunk.ID] = true
			merged = append(merged, candidate)
			if len(merged) == maxItems {
				return merged
			}
		}
	}
	return merged
}

func appendNonDuplicate(base, extra []*retrievalCandidate, maxItems int) []*retrievalCandidate {
	seen := map[uuid.UUID]bool{}
	for _, candidate := range base {
		seen[candidate.chunk.ID] = true
	}
	for _, candidate := range extra {
		if len(base) >= maxItems {
			break
		}
		if seen[candidate.chunk.ID] {
			continue
		}
		seen[candidate.chunk.ID] = true
		base = append(base, candidate)
	}
	return base
}

// selectDiverse spreads summary-mode results across files: one top chunk per
// file first, then round-robin up to the per-file cap, then greedy fill.
func selectDiverse(items []*retrievalCandidate, topK, perFileCap, minFiles int) []*retrievalCandidate {
	perFileCap = clampRange(perFileCap, 1, 6)
	minFiles = clampRange(minFiles, 1, 10)

	byFile := map[uuid.UUID][]*retrievalCandidate{}
	fileOrder := make([]uuid.UUID, 0)
	for _, item := range items {
		if _, ok := byFile[item.chunk.FileID]; !ok {
			fileOrder = append(fileOrder, item.chunk.FileID)
		}
		byFile[item.chunk.FileID] = append(byFile[item.chunk.FileID], item)
	}

	selected := make([]*retrievalCandidate, 0, topK)
	chosen := map[uuid.UUID]bool{}
	headCount := min(len(fileOrder), minFiles, topK)
	for _, fileID := range fileOrder[:headCount] {
		item := byFile[fileID][0]
		selected = append(selected, item)
		chosen[item.chunk.ID] = true
	}
	for depth := 1; depth < perFileCap && len(selected) < topK; depth++ {
		for _, fileID := range fileOrder {
			if len(selected) >= topK {
				break
			}
			group := byFile[fileID]
			if depth < len(group) && !chosen[group[depth].chunk.ID] {
				selected = append(selected, group[depth])
				chosen[group[depth].chunk.ID] = true
			}
		}
	}
	for _, item := range items {
		if len(selected) >= topK {
			break
		}
		if !chosen[item.chunk.ID] {
			selected = append(selected, item)
			chosen[item.chunk.ID] = true
		}
	}
	if len(selected) > topK {
		selected = selected[:topK]
	}
	return selected
}

func (s *retrievalService) serialize(ctx context.Context, candidates []*retrievalCandidate) ([]RetrievedChunk, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	fileIDs := make([]uuid.UUID, 0, len(candidates))
	seen := map[uuid.UUID]bool{}
	for _, candidate := range candidates {
		if !seen[candidate.chunk.FileID] {
			seen[candidate.chunk.FileID] = true
			fileIDs = append(fileIDs, candidate.chunk.FileID)
		}
	}
	files, err := s.fileRepo.GetByIDs(ctx, nil, fileIDs)
	if err != nil {
		return nil, err
	}
	fileNames := map[uuid.UUID]string{}
	for _, file := range files {
		fileNames[file.ID] = file.Filename
	}

	results := make([]RetrievedChunk, 0, len(candidates))
	for _, candidate := range candidates {
		matched := candidate.matchedEntities
		if matched == nil {
			matched = []string{}
		}
		results = append(results, RetrievedChunk{
			LibraryID:         candidate.chunk.LibraryID,
			FileID:            candidate.chunk.FileID,
			FileName:          fileNames[candidate.chunk.FileID],
			ChunkID:           candidate.chunk.ID,
			Score:             Round6(candidate.score),
			Snippet:           runeTruncate(candidate.chunk.Content, retrievalSnippetRunes),
			Source:            candidate.source,
			MatchedEntities:   matched,
			VectorSimilarity:  Round6(candidate.vectorSim),
			KeywordOverlap:    Round6(candidate.keywordOverlap),
			EntityOverlap:     Round6(candidate.entityOverlap),
			AnchorTermOverlap: Round6(candidate.anchorOverlap),
			QueryFocusOverlap: Round6(candidate.focusOverlap),
			GraphOverlap:      Round6(candidate.graphOverlap),
		})
	}
	return results, nil
}

// scoreVectorCandidate converts cosine distance to a similarity plus a small
// rank bonus. Lower distance always wins at equal rank.
func scoreVectorCandidate(distance float64, rank int) (score, similarity float64) {
	sim := clamp01(1 - max(0.0, distance))
	return Round6(0.85*sim + 0.15*(1.0/float64(rank+1))), Round6(sim)
}

// termHitRatio counts how many terms appear in the text, over a denominator
// capped at eight so long term lists do not drown single strong hits.
func termHitRatio(text string, terms []string) float64 {
	if len(terms) == 0 || text == "" {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(term)) {
			hits++
		}
	}
	ratio := float64(hits) / float64(max(1, min(len(terms), 8)))
	return Round6(min(ratio, 1.0))
}

func mergeTerms(primary, secondary []string, limit int) []string {
	result := make([]string, 0, limit)
	seen := map[string]bool{}
	for _, list := range [][]string{primary, secondary} {
		for _, term := range list {
			norm := normalization.NormalizeTerm(term)
			if norm == "" || seen[norm] {
				continue
			}
			seen[norm] = true
			result = append(result, term)
			if len(result) == limit {
				return result
			}
		}
	}
	return result
}

func capSlice(items []string, limit int) []string {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

func clampRange(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func runeTruncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
