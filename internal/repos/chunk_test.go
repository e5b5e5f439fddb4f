package repos_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/csyeqing/rag-platform/internal/repos"
	"github.com/csyeqing/rag-platform/internal/repos/testutil"
	"github.com/csyeqing/rag-platform/internal/types"
)

func unitVector(axis int) pgvector.Vector {
	vec := make([]float32, 1536)
	vec[axis] = 1
	return pgvector.NewVector(vec)
}

func TestChunkRepoSearchByEmbedding(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	user := testutil.SeedUser(t, ctx, tx, "vector-user")
	lib := testutil.SeedLibrary(t, ctx, tx, user.ID)
	file := testutil.SeedKnowledgeFile(t, ctx, tx, lib.ID, "a.txt")

	repo := repos.NewChunkRepo(db, log)
	chunks := []*types.Chunk{
		{ID: uuid.New(), LibraryID: lib.ID, FileID: file.ID, ChunkIndex: 0, Content: "axis zero", Embedding: unitVector(0)},
		{ID: uuid.New(), LibraryID: lib.ID, FileID: file.ID, ChunkIndex: 1, Content: "axis one", Embedding: unitVector(1)},
		{ID: uuid.New(), LibraryID: lib.ID, FileID: file.ID, ChunkIndex: 2, Content: "axis two", Embedding: unitVector(2)},
	}
	if _, err := repo.Create(ctx, tx, chunks); err != nil {
		t.Fatalf("create chunks: %v", err)
	}

	results, err := repo.SearchByEmbedding(ctx, tx, []uuid.UUID{lib.ID}, unitVector(1), 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("result count: %d", len(results))
	}
	if results[0].Content != "axis one" {
		t.Fatalf("nearest chunk: %q", results[0].Content)
	}
	if results[0].Distance >= results[1].Distance {
		t.Fatalf("distances not ascending: %v %v", results[0].Distance, results[1].Distance)
	}
}

func TestChunkRepoSearchByTerms(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	user := testutil.SeedUser(t, ctx, tx, "terms-user")
	lib := testutil.SeedLibrary(t, ctx, tx, user.ID)
	file := testutil.SeedKnowledgeFile(t, ctx, tx, lib.ID, "b.txt")

	repo := repos.NewChunkRepo(db, log)
	chunks := []*types.Chunk{
		{ID: uuid.New(), LibraryID: lib.ID, FileID: file.ID, ChunkIndex: 0, Content: "孙悟空大闹天宫", Embedding: unitVector(0)},
		{ID: uuid.New(), LibraryID: lib.ID, FileID: file.ID, ChunkIndex: 1, Content: "scheduler Uses ETCD", Embedding: unitVector(1)},
		{ID: uuid.New(), LibraryID: lib.ID, FileID: file.ID, ChunkIndex: 2, Content: "unrelated text", Embedding: unitVector(2)},
	}
	if _, err := repo.Create(ctx, tx, chunks); err != nil {
		t.Fatalf("create chunks: %v", err)
	}

	results, err := repo.SearchByTerms(ctx, tx, []uuid.UUID{lib.ID}, []string{"悟空", "etcd"}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("result count: %d", len(results))
	}

	none, err := repo.SearchByTerms(ctx, tx, nil, []string{"悟空"}, 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("empty library scope: %v %v", none, err)
	}
}

func TestChunkRepoSearchByTermsFiltersBeforeLimit(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	user := testutil.SeedUser(t, ctx, tx, "limit-user")
	lib := testutil.SeedLibrary(t, ctx, tx, user.ID)
	file := testutil.SeedKnowledgeFile(t, ctx, tx, lib.ID, "c.txt")

	repo := repos.NewChunkRepo(db, log)
	chunks := make([]*types.Chunk, 0, 41)
	for i := 0; i < 40; i++ {
		chunks = append(chunks, &types.Chunk{
			ID: uuid.New(), LibraryID: lib.ID, FileID: file.ID,
			ChunkIndex: i, Content: "无关填充段落", Embedding: unitVector(0),
		})
	}
	chunks = append(chunks, &types.Chunk{
		ID: uuid.New(), LibraryID: lib.ID, FileID: file.ID,
		ChunkIndex: 40, Content: "白骨精第三次现身", Embedding: unitVector(1),
	})
	if _, err := repo.Create(ctx, tx, chunks); err != nil {
		t.Fatalf("create chunks: %v", err)
	}

	// The term filter applies before LIMIT, so a small limit still surfaces
	// a match inserted after many non-matching rows.
	results, err := repo.SearchByTerms(ctx, tx, []uuid.UUID{lib.ID}, []string{"白骨精"}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ChunkIndex != 40 {
		t.Fatalf("expected the single late match, got %d rows", len(results))
	}
}

func TestKnowledgeEntityRepoTopByFrequency(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	user := testutil.SeedUser(t, ctx, tx, "entity-user")
	lib := testutil.SeedLibrary(t, ctx, tx, user.ID)

	repo := repos.NewKnowledgeEntityRepo(db, log)
	entities := []*types.KnowledgeEntity{
		{ID: uuid.New(), LibraryID: lib.ID, Name: "悟空", DisplayName: "悟空", EntityType: "concept", Frequency: 9},
		{ID: uuid.New(), LibraryID: lib.ID, Name: "八戒", DisplayName: "八戒", EntityType: "concept", Frequency: 4},
		{ID: uuid.New(), LibraryID: lib.ID, Name: "沙僧", DisplayName: "沙僧", EntityType: "concept", Frequency: 9},
	}
	if _, err := repo.Create(ctx, tx, entities); err != nil {
		t.Fatalf("create entities: %v", err)
	}

	top, err := repo.ListTopByFrequency(ctx, tx, lib.ID, 2)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("top count: %d", len(top))
	}
	if top[0].Frequency < top[1].Frequency {
		t.Fatalf("not ordered by frequency: %v", top)
	}
}

func TestKnowledgeEntityRepoCreateIgnoresDuplicates(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	user := testutil.SeedUser(t, ctx, tx, "dupe-user")
	lib := testutil.SeedLibrary(t, ctx, tx, user.ID)

	repo := repos.NewKnowledgeEntityRepo(db, log)
	first := []*types.KnowledgeEntity{
		{ID: uuid.New(), LibraryID: lib.ID, Name: "悟空", DisplayName: "悟空", EntityType: "concept", Frequency: 3},
	}
	if _, err := repo.Create(ctx, tx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	dupe := []*types.KnowledgeEntity{
		{ID: uuid.New(), LibraryID: lib.ID, Name: "悟空", DisplayName: "悟空", EntityType: "concept", Frequency: 5},
	}
	if _, err := repo.Create(ctx, tx, dupe); err != nil {
		t.Fatalf("duplicate create should be a no-op: %v", err)
	}
	count, err := repo.CountByLibrary(ctx, tx, lib.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("duplicate row inserted: %d", count)
	}
}
