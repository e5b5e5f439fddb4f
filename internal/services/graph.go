package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/csyeqing/rag-platform/internal/normalization"
	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/repos"
	"github.com/csyeqing/rag-platform/internal/types"
)

const (
	maxEntitiesPerChunk     = 20
	maxEvidencePerRelation  = 3
	neighborRelationLimit   = 80
	defaultSnapshotNodes    = 80
	defaultSnapshotEdges    = 150
)

// GraphRebuildResult reports what a full graph rebuild produced.
type GraphRebuildResult struct {
	LibraryID  uuid.UUID `json:"library_id"`
	NodeCount  int       `json:"node_count"`
	EdgeCount  int       `json:"edge_count"`
	ChunkCount int       `json:"chunk_count"`
}

type GraphNode struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	EntityType  string    `json:"entity_type"`
	Frequency   int       `json:"frequency"`
}

type GraphEdge struct {
	ID           uuid.UUID `json:"id"`
	SourceID     uuid.UUID `json:"source_id"`
	TargetID     uuid.UUID `json:"target_id"`
	SourceName   string    `json:"source_name"`
	TargetName   string    `json:"target_name"`
	RelationType string    `json:"relation_type"`
	Weight       int       `json:"weight"`
	Evidence     []string  `json:"evidence,omitempty"`
}

type GraphSnapshot struct {
	LibraryID uuid.UUID   `json:"library_id"`
	Nodes     []GraphNode `json:"nodes"`
	Edges     []GraphEdge `json:"edges"`
}

// GraphService maintains the per-library co-occurrence graph and answers
// neighborhood expansion queries for retrieval.
type GraphService interface {
	RebuildLibraryGraph(ctx context.Context, libraryID uuid.UUID) (*GraphRebuildResult, error)
	GetLibraryGraphSnapshot(ctx context.Context, libraryID uuid.UUID, limitNodes, limitEdges int) (*GraphSnapshot, error)
	ExpandQueryTerms(ctx context.Context, libraryID uuid.UUID, queryEntities []string, maxTerms int) ([]*types.KnowledgeEntity, []string, error)
}

type graphService struct {
	log          *logger.Logger
	db           *gorm.DB
	chunkRepo    repos.ChunkRepo
	entityRepo   repos.KnowledgeEntityRepo
	relationRepo repos.KnowledgeRelationRepo
}

func NewGraphService(
	db *gorm.DB,
	chunkRepo repos.ChunkRepo,
	entityRepo repos.KnowledgeEntityRepo,
	relationRepo repos.KnowledgeRelationRepo,
	log *logger.Logger,
) GraphService {
	return &graphService{
		log:          log.With("service", "GraphService"),
		db:           db,
		chunkRepo:    chunkRepo,
		entityRepo:   entityRepo,
		relationRepo: relationRepo,
	}
}

type relationKey struct {
	source string
	target string
	rtype  string
}

type relationAgg struct {
	weight   int
	evidence []string
}

// RebuildLibraryGraph replaces the library's graph inside a single
// transaction so a failed rebuild never leaves the graph half-deleted.
func (s *graphService) RebuildLibraryGraph(ctx context.Context, libraryID uuid.UUID) (*GraphRebuildResult, error) {
	var result *GraphRebuildResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rebuilt, err := s.rebuildLibraryGraphTx(ctx, tx, libraryID)
		if err != nil {
			return err
		}
		result = rebuilt
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Rebuilt library graph",
		"library_id", libraryID,
		"nodes", result.NodeCount,
		"edges", result.EdgeCount,
		"chunks", result.ChunkCount)
	return result, nil
}

func (s *graphService) rebuildLibraryGraphTx(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID) (*GraphRebuildResult, error) {
	if err := s.relationRepo.DeleteByLibrary(ctx, tx, libraryID); err != nil {
		return nil, err
	}
	if err := s.entityRepo.DeleteByLibrary(ctx, tx, libraryID); err != nil {
		return nil, err
	}

	chunks, err := s.chunkRepo.ListByLibrary(ctx, tx, libraryID)
	if err != nil {
		return nil, err
	}

	frequency := map[string]int{}
	display := map[string]string{}
	relations := map[relationKey]*relationAgg{}

	for _, chunk := range chunks {
		for _, entity := range normalization.ExtractEntities(chunk.Content, maxEntitiesPerChunk) {
			norm := normalization.NormalizeTerm(entity)
			frequency[norm]++
			if _, ok := display[norm]; !ok {
				display[norm] = entity
			}
		}
		for _, rel := range normalization.ExtractRelations(chunk.Content) {
			key := relationKey{
				source: normalization.NormalizeTerm(rel.Source),
				target: normalization.NormalizeTerm(rel.Target),
				rtype:  rel.Type,
			}
			agg, ok := relations[key]
			if !ok {
				agg = &relationAgg{}
				relations[key] = agg
			}
			agg.weight++
			if len(agg.evidence) < maxEvidencePerRelation && !containsString(agg.evidence, rel.Evidence) {
				agg.evidence = append(agg.evidence, rel.Evidence)
			}
		}
	}

	entities := make([]*types.KnowledgeEntity, 0, len(frequency))
	for norm, freq := range frequency {
		entities = append(entities, &types.KnowledgeEntity{
			LibraryID:   libraryID,
			Name:        norm,
			DisplayName: display[norm],
			EntityType:  "concept",
			Frequency:   freq,
		})
	}
	if _, err := s.entityRepo.Create(ctx, tx, entities); err != nil {
		return nil, err
	}

	// Re-read rather than trusting returned ids so default-generated keys are
	// always the persisted ones.
	stored, err := s.entityRepo.ListByLibrary(ctx, tx, libraryID)
	if err != nil {
		return nil, err
	}
	idByName := make(map[string]uuid.UUID, len(stored))
	for _, entity := range stored {
		idByName[entity.Name] = entity.ID
	}

	rows := make([]*types.KnowledgeRelation, 0, len(relations))
	for key, agg := range relations {
		sourceID, sourceOK := idByName[key.source]
		targetID, targetOK := idByName[key.target]
		if !sourceOK || !targetOK {
			continue
		}
		evidence, err := json.Marshal(agg.evidence)
		if err != nil {
			return nil, err
		}
		rows = append(rows, &types.KnowledgeRelation{
			LibraryID:      libraryID,
			SourceEntityID: sourceID,
			TargetEntityID: targetID,
			RelationType:   key.rtype,
			Weight:         agg.weight,
			Evidence:       evidence,
		})
	}
	if _, err := s.relationRepo.Create(ctx, tx, rows); err != nil {
		return nil, err
	}

	return &GraphRebuildResult{
		LibraryID:  libraryID,
		NodeCount:  len(stored),
		EdgeCount:  len(rows),
		ChunkCount: len(chunks),
	}, nil
}

func (s *graphService) GetLibraryGraphSnapshot(ctx context.Context, libraryID uuid.UUID, limitNodes, limitEdges int) (*GraphSnapshot, error) {
	if limitNodes <= 0 {
		limitNodes = defaultSnapshotNodes
	}
	if limitEdges <= 0 {
		limitEdges = defaultSnapshotEdges
	}

	entities, err := s.entityRepo.ListTopByFrequency(ctx, nil, libraryID, limitNodes)
	if err != nil {
		return nil, err
	}
	relations, err := s.relationRepo.ListTopByWeight(ctx, nil, libraryID, limitEdges)
	if err != nil {
		return nil, err
	}

	nameByID := make(map[uuid.UUID]string, len(entities))
	nodes := make([]GraphNode, 0, len(entities))
	for _, entity := range entities {
		nameByID[entity.ID] = entity.DisplayName
		nodes = append(nodes, GraphNode{
			ID:          entity.ID,
			Name:        entity.Name,
			DisplayName: entity.DisplayName,
			EntityType:  entity.EntityType,
			Frequency:   entity.Frequency,
		})
	}

	// Heavy edges can reference nodes outside the frequency cut; resolve their
	// names separately so the snapshot stays self-describing.
	missing := make([]uuid.UUID, 0)
	for _, relation := range relations {
		if _, ok := nameByID[relation.SourceEntityID]; !ok {
			missing = append(missing, relation.SourceEntityID)
		}
		if _, ok := nameByID[relation.TargetEntityID]; !ok {
			missing = append(missing, relation.TargetEntityID)
		}
	}
	if len(missing) > 0 {
		extra, err := s.entityRepo.GetByIDs(ctx, nil, missing)
		if err != nil {
			return nil, err
		}
		for _, entity := range extra {
			nameByID[entity.ID] = entity.DisplayName
		}
	}

	edges := make([]GraphEdge, 0, len(relations))
	for _, relation := range relations {
		var evidence []string
		if len(relation.Evidence) > 0 {
			_ = json.Unmarshal(relation.Evidence, &evidence)
		}
		edges = append(edges, GraphEdge{
			ID:           relation.ID,
			SourceID:     relation.SourceEntityID,
			TargetID:     relation.TargetEntityID,
			SourceName:   nameByID[relation.SourceEntityID],
			TargetName:   nameByID[relation.TargetEntityID],
			RelationType: relation.RelationType,
			Weight:       relation.Weight,
			Evidence:     evidence,
		})
	}

	return &GraphSnapshot{LibraryID: libraryID, Nodes: nodes, Edges: edges}, nil
}

// ExpandQueryTerms matches query entities against the library graph and walks
// one hop of neighbors. It returns the matched entities and the neighbor
// display names ordered by frequency.
func (s *graphService) ExpandQueryTerms(ctx context.Context, libraryID uuid.UUID, queryEntities []string, maxTerms int) ([]*types.KnowledgeEntity, []string, error) {
	if maxTerms <= 0 || len(queryEntities) == 0 {
		return nil, nil, nil
	}
	if len(queryEntities) > maxTerms {
		queryEntities = queryEntities[:maxTerms]
	}

	matched := make([]*types.KnowledgeEntity, 0, len(queryEntities))
	matchedIDs := map[uuid.UUID]bool{}
	for _, term := range queryEntities {
		entity, err := s.matchEntity(ctx, libraryID, term)
		if err != nil {
			return nil, nil, err
		}
		if entity == nil || matchedIDs[entity.ID] {
			continue
		}
		matchedIDs[entity.ID] = true
		matched = append(matched, entity)
	}
	if len(matched) == 0 {
		return nil, nil, nil
	}

	ids := make([]uuid.UUID, 0, len(matched))
	for _, entity := range matched {
		ids = append(ids, entity.ID)
	}
	relations, err := s.relationRepo.ListByEntityIDs(ctx, nil, libraryID, ids, neighborRelationLimit)
	if err != nil {
		return nil, nil, err
	}

	neighborIDs := make([]uuid.UUID, 0, len(relations))
	seen := map[uuid.UUID]bool{}
	for _, relation := range relations {
		for _, id := range []uuid.UUID{relation.SourceEntityID, relation.TargetEntityID} {
			if matchedIDs[id] || seen[id] {
				continue
			}
			seen[id] = true
			neighborIDs = append(neighborIDs, id)
		}
	}
	neighbors, err := s.entityRepo.GetByIDs(ctx, nil, neighborIDs)
	if err != nil {
		return nil, nil, err
	}
	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].Frequency > neighbors[j].Frequency
	})
	if len(neighbors) > maxTerms {
		neighbors = neighbors[:maxTerms]
	}

	expanded := make([]string, 0, len(neighbors))
	for _, neighbor := range neighbors {
		expanded = append(expanded, neighbor.DisplayName)
	}
	return matched, expanded, nil
}

// matchEntity tries exact normalized-name lookup first, then a fuzzy match on
// the title-stripped stem when the stem keeps at least two characters.
func (s *graphService) matchEntity(ctx context.Context, libraryID uuid.UUID, term string) (*types.KnowledgeEntity, error) {
	norm := normalization.NormalizeTerm(term)
	if norm == "" {
		return nil, nil
	}
	entity, err := s.entityRepo.GetByLibraryAndName(ctx, nil, libraryID, norm)
	if err == nil {
		return entity, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	stem, stripped := normalization.StripTitleSuffix(term)
	if !stripped {
		stem = term
	}
	if normalization.RuneLen(stem) < 2 {
		return nil, nil
	}
	candidates, err := s.entityRepo.SearchByDisplayName(ctx, nil, libraryID, stem, 5)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return candidates[0], nil
}

// SummarizeGraphSources collapses per-channel provenance labels into one tag.
func SummarizeGraphSources(sources []string) string {
	set := map[string]bool{}
	for _, source := range sources {
		if source != "" {
			set[source] = true
		}
	}
	if len(set) == 0 {
		return "none"
	}
	unique := make([]string, 0, len(set))
	for source := range set {
		unique = append(unique, source)
	}
	if len(unique) == 1 {
		return unique[0]
	}
	sort.Strings(unique)
	return strings.Join(unique, "_")
}

// Round6 keeps fused scores stable across merge passes.
func Round6(value float64) float64 {
	return math.Round(value*1e6) / 1e6
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
