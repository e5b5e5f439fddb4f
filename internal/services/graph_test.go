package services

import (
	"context"
	"testing"

	"github.com/pgvector/pgvector-go"

	"github.com/csyeqing/rag-platform/internal/repos"
	"github.com/csyeqing/rag-platform/internal/repos/testutil"
	"github.com/csyeqing/rag-platform/internal/types"
)

func TestSummarizeGraphSources(t *testing.T) {
	if got := SummarizeGraphSources(nil); got != "none" {
		t.Fatalf("empty: %q", got)
	}
	if got := SummarizeGraphSources([]string{"vector"}); got != "vector" {
		t.Fatalf("single: %q", got)
	}
	if got := SummarizeGraphSources([]string{"vector", "keyword", "vector"}); got != "keyword_vector" {
		t.Fatalf("merged: %q", got)
	}
}

func TestRound6(t *testing.T) {
	if got := Round6(0.1234567); got != 0.123457 {
		t.Fatalf("round: %v", got)
	}
	if got := Round6(0.5); got != 0.5 {
		t.Fatalf("exact: %v", got)
	}
}

func TestRebuildLibraryGraphAndExpand(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)

	user := testutil.SeedUser(t, ctx, tx, "graph-user")
	library := testutil.SeedLibrary(t, ctx, tx, user.ID)
	file := testutil.SeedKnowledgeFile(t, ctx, tx, library.ID, "journey.txt")

	chunkRepo := repos.NewChunkRepo(tx, log)
	contents := []string{
		"唐僧是师父。孙悟空保护唐僧西行取经。",
		"孙悟空和猪八戒是同伴。唐僧带领孙悟空。",
	}
	chunks := make([]*types.Chunk, 0, len(contents))
	for i, content := range contents {
		chunks = append(chunks, &types.Chunk{
			LibraryID:  library.ID,
			FileID:     file.ID,
			ChunkIndex: i,
			Content:    content,
			Embedding:  pgvector.NewVector(make([]float32, 1536)),
		})
	}
	if _, err := chunkRepo.Create(ctx, nil, chunks); err != nil {
		t.Fatalf("seed chunks: %v", err)
	}

	svc := NewGraphService(
		tx,
		chunkRepo,
		repos.NewKnowledgeEntityRepo(tx, log),
		repos.NewKnowledgeRelationRepo(tx, log),
		log,
	)

	result, err := svc.RebuildLibraryGraph(ctx, library.ID)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if result.ChunkCount != 2 {
		t.Fatalf("chunk count: %d", result.ChunkCount)
	}
	if result.NodeCount == 0 || result.EdgeCount == 0 {
		t.Fatalf("empty graph: %+v", result)
	}

	snapshot, err := svc.GetLibraryGraphSnapshot(ctx, library.ID, 0, 0)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	names := map[string]bool{}
	for _, node := range snapshot.Nodes {
		names[node.DisplayName] = true
	}
	if !names["唐僧"] || !names["孙悟空"] {
		t.Fatalf("main entities missing from snapshot: %v", names)
	}
	for _, edge := range snapshot.Edges {
		if edge.SourceName == "" || edge.TargetName == "" {
			t.Fatalf("edge endpoint name not resolved: %+v", edge)
		}
	}

	matched, expanded, err := svc.ExpandQueryTerms(ctx, library.ID, []string{"唐僧"}, 6)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(matched) != 1 || matched[0].DisplayName != "唐僧" {
		t.Fatalf("matched: %+v", matched)
	}
	if len(expanded) == 0 {
		t.Fatalf("no neighbors expanded for 唐僧")
	}
	for _, term := range expanded {
		if term == "唐僧" {
			t.Fatalf("matched entity leaked into expansion: %v", expanded)
		}
	}

	// A second rebuild replaces the graph atomically; the delete-then-insert
	// sequence must not trip the uniqueness key or change the counts.
	again, err := svc.RebuildLibraryGraph(ctx, library.ID)
	if err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	if again.NodeCount != result.NodeCount || again.EdgeCount != result.EdgeCount {
		t.Fatalf("rebuild not idempotent: %+v vs %+v", again, result)
	}
}
