package repos

import (
	"context"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/types"
)

// ChunkWithDistance carries a chunk plus its cosine distance to the query
// vector as computed by pgvector.
type ChunkWithDistance struct {
	types.Chunk
	Distance float64 `gorm:"column:distance"`
}

type ChunkRepo interface {
	Create(ctx context.Context, tx *gorm.DB, chunks []*types.Chunk) ([]*types.Chunk, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Chunk, error)
	ListByLibrary(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID) ([]*types.Chunk, error)
	CountByLibraries(ctx context.Context, tx *gorm.DB, libraryIDs []uuid.UUID) (int64, error)
	DeleteByFile(ctx context.Context, tx *gorm.DB, fileID uuid.UUID) error
	DeleteByLibrary(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID) error
	SearchByEmbedding(ctx context.Context, tx *gorm.DB, libraryIDs []uuid.UUID, query pgvector.Vector, limit int) ([]*ChunkWithDistance, error)
	SearchByTerms(ctx context.Context, tx *gorm.DB, libraryIDs []uuid.UUID, terms []string, limit int) ([]*types.Chunk, error)
}

type chunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChunkRepo(db *gorm.DB, baseLog *logger.Logger) ChunkRepo {
	repoLog := baseLog.With("repo", "ChunkRepo")
	return &chunkRepo{db: db, log: repoLog}
}

func (r *chunkRepo) Create(ctx context.Context, tx *gorm.DB, chunks []*types.Chunk) ([]*types.Chunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chunks) == 0 {
		return []*types.Chunk{}, nil
	}

	// Keep batches small because Content and Embedding are large
	const batchSize = 100

	if err := transaction.WithContext(ctx).CreateInBatches(chunks, batchSize).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *chunkRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Chunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Chunk
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *chunkRepo) ListByLibrary(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID) ([]*types.Chunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Chunk
	if err := transaction.WithContext(ctx).
		Where("library_id = ?", libraryID).
		Order("file_id, chunk_index ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *chunkRepo) CountByLibraries(ctx context.Context, tx *gorm.DB, libraryIDs []uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(libraryIDs) == 0 {
		return 0, nil
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.Chunk{}).
		Where("library_id IN ?", libraryIDs).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *chunkRepo) DeleteByFile(ctx context.Context, tx *gorm.DB, fileID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("file_id = ?", fileID).
		Delete(&types.Chunk{}).Error
}

func (r *chunkRepo) DeleteByLibrary(ctx context.Context, tx *gorm.DB, libraryID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("library_id = ?", libraryID).
		Delete(&types.Chunk{}).Error
}

// SearchByEmbedding ranks chunks by cosine distance to the query vector,
// nearest first.
func (r *chunkRepo) SearchByEmbedding(ctx context.Context, tx *gorm.DB, libraryIDs []uuid.UUID, query pgvector.Vector, limit int) ([]*ChunkWithDistance, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*ChunkWithDistance
	if len(libraryIDs) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Table("chunk").
		Select("*, (embedding <=> ?) AS distance", query).
		Where("library_id IN ?", libraryIDs).
		Order("distance ASC").
		Limit(limit).
		Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// SearchByTerms matches chunks whose content contains any of the terms,
// case-insensitively.
func (r *chunkRepo) SearchByTerms(ctx context.Context, tx *gorm.DB, libraryIDs []uuid.UUID, terms []string, limit int) ([]*types.Chunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Chunk
	if len(libraryIDs) == 0 || len(terms) == 0 {
		return results, nil
	}
	cond := transaction.Where("content ILIKE ?", "%"+terms[0]+"%")
	for _, term := range terms[1:] {
		cond = cond.Or("content ILIKE ?", "%"+term+"%")
	}
	if err := transaction.WithContext(ctx).
		Where("library_id IN ?", libraryIDs).
		Where(cond).
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
