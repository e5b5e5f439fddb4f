package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/text/encoding/simplifiedchinese"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/csyeqing/rag-platform/internal/normalization"
	apperrors "github.com/csyeqing/rag-platform/internal/pkg/errors"
	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/repos"
	"github.com/csyeqing/rag-platform/internal/types"
	"github.com/csyeqing/rag-platform/internal/utils"
)

const (
	defaultChunkRunes   = 500
	defaultChunkOverlap = 80

	maxLibraryDirRunes = 64
)

var supportedFileExtensions = map[string]bool{
	".txt": true,
	".md":  true,
	".csv": true,
}

var libraryTypes = map[string]bool{
	types.LibraryTypeGeneral:         true,
	types.LibraryTypeNovelStory:      true,
	types.LibraryTypeEnterpriseDocs:  true,
	types.LibraryTypeScientificPaper: true,
	types.LibraryTypeHumanitiesPaper: true,
}

// SplitText cuts text into overlapping rune windows. The window advances by
// size-overlap so adjacent chunks share context across the boundary.
func SplitText(text string, size, overlap int) []string {
	if size <= 0 {
		size = defaultChunkRunes
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(strings.TrimSpace(text))
	total := len(runes)
	if total == 0 {
		return nil
	}
	var parts []string
	start := 0
	for {
		end := start + size
		if end > total {
			end = total
		}
		part := strings.TrimSpace(string(runes[start:end]))
		if part != "" {
			parts = append(parts, part)
		}
		if end >= total {
			break
		}
		start = end - overlap
	}
	return parts
}

// DecodeText turns raw file bytes into UTF-8 text. Valid UTF-8 passes through
// with the BOM stripped; otherwise GB18030 is tried, which covers GBK and GB2312
// legacy exports. Anything else falls back to a Latin-1 byte mapping so the
// pipeline never rejects a file for its encoding alone.
func DecodeText(raw []byte) string {
	if utf8.Valid(raw) {
		return string(bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF}))
	}
	if decoded, err := simplifiedchinese.GB18030.NewDecoder().Bytes(raw); err == nil && utf8.Valid(decoded) {
		return string(decoded)
	}
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes)
}

// IsSupportedFileType reports whether the extension (with leading dot) is
// accepted for ingestion.
func IsSupportedFileType(ext string) bool {
	return supportedFileExtensions[strings.ToLower(ext)]
}

type CreateLibraryParams struct {
	Name        string
	Description string
	LibraryType string
	OwnerType   string
	Tags        []string
}

type UpdateLibraryParams struct {
	Name        *string
	Description *string
	LibraryType *string
	Tags        *[]string
}

type KBService interface {
	CreateLibrary(ctx context.Context, userID uuid.UUID, isAdmin bool, params CreateLibraryParams) (*types.Library, error)
	ListLibraries(ctx context.Context, userID uuid.UUID, isAdmin bool) ([]*types.Library, error)
	GetLibrary(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID) (*types.Library, error)
	UpdateLibrary(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID, params UpdateLibraryParams) (*types.Library, error)
	DeleteLibrary(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID) error

	UploadFile(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID, filename string, content []byte) (*types.KnowledgeFile, error)
	ListFiles(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID) ([]*types.KnowledgeFile, error)
	DeleteFile(ctx context.Context, userID uuid.UUID, isAdmin bool, fileID uuid.UUID) error

	SyncDirectory(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID, directoryPath string) (*types.IngestionTask, error)
	RebuildIndex(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID) (*types.IngestionTask, error)
	GetTask(ctx context.Context, userID uuid.UUID, isAdmin bool, taskID uuid.UUID) (*types.IngestionTask, error)

	GetGraphSnapshot(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID, limitNodes, limitEdges int) (*GraphSnapshot, error)
	RebuildGraph(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID) (*GraphRebuildResult, error)
}

type kbService struct {
	libraryRepo  repos.LibraryRepo
	fileRepo     repos.KnowledgeFileRepo
	chunkRepo    repos.ChunkRepo
	entityRepo   repos.KnowledgeEntityRepo
	relationRepo repos.KnowledgeRelationRepo
	taskRepo     repos.IngestionTaskRepo
	embedder     EmbeddingService
	graph        GraphService
	storageRoot  string
	syncRoot     string
	log          *logger.Logger
}

func NewKBService(
	libraryRepo repos.LibraryRepo,
	fileRepo repos.KnowledgeFileRepo,
	chunkRepo repos.ChunkRepo,
	entityRepo repos.KnowledgeEntityRepo,
	relationRepo repos.KnowledgeRelationRepo,
	taskRepo repos.IngestionTaskRepo,
	embedder EmbeddingService,
	graph GraphService,
	baseLog *logger.Logger,
) KBService {
	serviceLog := baseLog.With("service", "KBService")
	return &kbService{
		libraryRepo:  libraryRepo,
		fileRepo:     fileRepo,
		chunkRepo:    chunkRepo,
		entityRepo:   entityRepo,
		relationRepo: relationRepo,
		taskRepo:     taskRepo,
		embedder:     embedder,
		graph:        graph,
		storageRoot:  utils.GetEnv("STORAGE_ROOT", "./data", serviceLog),
		syncRoot:     utils.GetEnv("KB_SYNC_ROOT", "./data/knowledge", serviceLog),
		log:          serviceLog,
	}
}

// CanReadLibrary reports read access: shared libraries are readable by every
// authenticated user, private ones by their owner and admins.
func CanReadLibrary(library *types.Library, userID uuid.UUID, isAdmin bool) bool {
	if library.OwnerType == types.OwnerTypeShared || isAdmin {
		return true
	}
	return library.OwnerID != nil && *library.OwnerID == userID
}

// CanWriteLibrary reports write access: shared libraries are writable only by
// admins, private ones by their owner and admins.
func CanWriteLibrary(library *types.Library, userID uuid.UUID, isAdmin bool) bool {
	if isAdmin {
		return true
	}
	if library.OwnerType == types.OwnerTypeShared {
		return false
	}
	return library.OwnerID != nil && *library.OwnerID == userID
}

func (s *kbService) loadLibrary(ctx context.Context, libraryID uuid.UUID) (*types.Library, error) {
	library, err := s.libraryRepo.GetByID(ctx, nil, libraryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: library", apperrors.ErrNotFound)
		}
		return nil, err
	}
	return library, nil
}

func (s *kbService) loadReadable(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID) (*types.Library, error) {
	library, err := s.loadLibrary(ctx, libraryID)
	if err != nil {
		return nil, err
	}
	if !CanReadLibrary(library, userID, isAdmin) {
		return nil, fmt.Errorf("%w: library access denied", apperrors.ErrForbidden)
	}
	return library, nil
}

func (s *kbService) loadWritable(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID) (*types.Library, error) {
	library, err := s.loadLibrary(ctx, libraryID)
	if err != nil {
		return nil, err
	}
	if !CanWriteLibrary(library, userID, isAdmin) {
		return nil, fmt.Errorf("%w: library is not writable for this user", apperrors.ErrForbidden)
	}
	return library, nil
}

func safeDirName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	cleaned := strings.Trim(b.String(), "_")
	runes := []rune(cleaned)
	if len(runes) > maxLibraryDirRunes {
		cleaned = string(runes[:maxLibraryDirRunes])
	}
	return cleaned
}

func pathWithin(root, candidate string) (string, bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	absCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return "", false
	}
	if absCandidate == absRoot {
		return absCandidate, true
	}
	return absCandidate, strings.HasPrefix(absCandidate, absRoot+string(filepath.Separator))
}

func (s *kbService) libraryRoot(ownerType string, userID uuid.UUID, name string) (string, error) {
	scope := userID.String()
	if ownerType == types.OwnerTypeShared {
		scope = "shared"
	}
	dir := safeDirName(name)
	if dir == "" {
		dir = time.Now().Format("20060102_150405")
	}
	root := filepath.Join(s.storageRoot, "libraries", scope, dir)
	abs, ok := pathWithin(s.storageRoot, root)
	if !ok {
		return "", fmt.Errorf("%w: library name resolves outside the storage root", apperrors.ErrInvalidArgument)
	}
	return abs, nil
}

func (s *kbService) CreateLibrary(ctx context.Context, userID uuid.UUID, isAdmin bool, params CreateLibraryParams) (*types.Library, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: library name is required", apperrors.ErrInvalidArgument)
	}
	libraryType := params.LibraryType
	if libraryType == "" {
		libraryType = types.LibraryTypeGeneral
	}
	if !libraryTypes[libraryType] {
		return nil, fmt.Errorf("%w: unknown library type: %s", apperrors.ErrInvalidArgument, libraryType)
	}
	ownerType := params.OwnerType
	if ownerType == "" {
		ownerType = types.OwnerTypePrivate
	}
	if ownerType != types.OwnerTypePrivate && ownerType != types.OwnerTypeShared {
		return nil, fmt.Errorf("%w: owner type must be private or shared", apperrors.ErrInvalidArgument)
	}
	if ownerType == types.OwnerTypeShared && !isAdmin {
		return nil, fmt.Errorf("%w: only admins can create shared libraries", apperrors.ErrForbidden)
	}

	root, err := s.libraryRoot(ownerType, userID, name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create library directory: %w", err)
	}

	library := &types.Library{
		Name:        name,
		Description: params.Description,
		LibraryType: libraryType,
		OwnerType:   ownerType,
		RootPath:    root,
	}
	if ownerType == types.OwnerTypePrivate {
		owner := userID
		library.OwnerID = &owner
	}
	if len(params.Tags) > 0 {
		raw, err := json.Marshal(params.Tags)
		if err != nil {
			return nil, err
		}
		library.Tags = datatypes.JSON(raw)
	}

	rows, err := s.libraryRepo.Create(ctx, nil, []*types.Library{library})
	if err != nil {
		return nil, err
	}
	created := rows[0]
	s.log.Info("library created", "library_id", created.ID, "owner_type", ownerType, "library_type", libraryType)
	return created, nil
}

func (s *kbService) ListLibraries(ctx context.Context, userID uuid.UUID, isAdmin bool) ([]*types.Library, error) {
	return s.libraryRepo.ListVisible(ctx, nil, userID, isAdmin)
}

func (s *kbService) GetLibrary(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID) (*types.Library, error) {
	return s.loadReadable(ctx, userID, isAdmin, libraryID)
}

func (s *kbService) UpdateLibrary(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID, params UpdateLibraryParams) (*types.Library, error) {
	library, err := s.loadWritable(ctx, userID, isAdmin, libraryID)
	if err != nil {
		return nil, err
	}
	if params.Name != nil {
		name := strings.TrimSpace(*params.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: library name is required", apperrors.ErrInvalidArgument)
		}
		library.Name = name
	}
	if params.Description != nil {
		library.Description = *params.Description
	}
	if params.LibraryType != nil {
		if !libraryTypes[*params.LibraryType] {
			return nil, fmt.Errorf("%w: unknown library type: %s", apperrors.ErrInvalidArgument, *params.LibraryType)
		}
		library.LibraryType = *params.LibraryType
	}
	if params.Tags != nil {
		raw, err := json.Marshal(*params.Tags)
		if err != nil {
			return nil, err
		}
		library.Tags = datatypes.JSON(raw)
	}
	return s.libraryRepo.Update(ctx, nil, library)
}

func (s *kbService) DeleteLibrary(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID) error {
	library, err := s.loadWritable(ctx, userID, isAdmin, libraryID)
	if err != nil {
		return err
	}
	if err := s.relationRepo.DeleteByLibrary(ctx, nil, libraryID); err != nil {
		return err
	}
	if err := s.entityRepo.DeleteByLibrary(ctx, nil, libraryID); err != nil {
		return err
	}
	if err := s.chunkRepo.DeleteByLibrary(ctx, nil, libraryID); err != nil {
		return err
	}
	if err := s.fileRepo.DeleteByLibrary(ctx, nil, libraryID); err != nil {
		return err
	}
	if err := s.libraryRepo.Delete(ctx, nil, libraryID); err != nil {
		return err
	}
	if _, ok := pathWithin(s.storageRoot, library.RootPath); ok {
		if err := os.RemoveAll(library.RootPath); err != nil {
			s.log.Warn("failed to remove library directory", "library_id", libraryID, "error", err)
		}
	}
	s.log.Info("library deleted", "library_id", libraryID)
	return nil
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// upsertFile creates or refreshes the file record keyed on (library, filepath).
func (s *kbService) upsertFile(ctx context.Context, libraryID uuid.UUID, filename, path string, content []byte) (*types.KnowledgeFile, bool, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	fileType := strings.TrimPrefix(ext, ".")
	hash := contentHash(content)

	existing, err := s.fileRepo.GetByLibraryAndPath(ctx, nil, libraryID, path)
	if err == nil {
		existing.Filename = filename
		existing.FileType = fileType
		existing.ContentHash = hash
		existing.Status = types.FileStatusIndexed
		updated, err := s.fileRepo.Update(ctx, nil, existing)
		return updated, false, err
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	record := &types.KnowledgeFile{
		LibraryID:   libraryID,
		Filename:    filename,
		Filepath:    path,
		FileType:    fileType,
		ContentHash: hash,
		Status:      types.FileStatusIndexed,
	}
	rows, err := s.fileRepo.Create(ctx, nil, []*types.KnowledgeFile{record})
	if err != nil {
		return nil, false, err
	}
	return rows[0], true, nil
}

// chunkEmbedding sizes a stored vector to the embedder's configured
// dimension so inserts match the column and query vectors.
func (s *kbService) chunkEmbedding(vec []float32) pgvector.Vector {
	return pgvector.NewVector(NormalizeVectorDim(vec, s.embedder.Dim()))
}

// reindexFile replaces the file's chunks with freshly split and embedded ones.
func (s *kbService) reindexFile(ctx context.Context, file *types.KnowledgeFile, text string) (int, error) {
	parts := SplitText(text, defaultChunkRunes, defaultChunkOverlap)
	var vectors [][]float32
	if len(parts) > 0 {
		var err error
		vectors, err = s.embedder.EmbedTexts(ctx, parts)
		if err != nil {
			return 0, err
		}
		if len(vectors) != len(parts) {
			return 0, fmt.Errorf("embedding produced %d vectors for %d chunks", len(vectors), len(parts))
		}
	}
	if err := s.chunkRepo.DeleteByFile(ctx, nil, file.ID); err != nil {
		return 0, err
	}
	if len(parts) == 0 {
		return 0, nil
	}
	chunks := make([]*types.Chunk, 0, len(parts))
	for i, part := range parts {
		meta, err := json.Marshal(map[string]any{"length": normalization.RuneLen(part)})
		if err != nil {
			return 0, err
		}
		chunks = append(chunks, &types.Chunk{
			LibraryID:  file.LibraryID,
			FileID:     file.ID,
			ChunkIndex: i,
			Content:    part,
			Embedding:  s.chunkEmbedding(vectors[i]),
			Metadata:   datatypes.JSON(meta),
		})
	}
	if _, err := s.chunkRepo.Create(ctx, nil, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

func (s *kbService) UploadFile(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID, filename string, content []byte) (*types.KnowledgeFile, error) {
	library, err := s.loadWritable(ctx, userID, isAdmin, libraryID)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(strings.TrimSpace(filename))
	ext := strings.ToLower(filepath.Ext(base))
	if !IsSupportedFileType(ext) {
		return nil, fmt.Errorf("%w: unsupported file type: %s", apperrors.ErrInvalidArgument, ext)
	}

	target := filepath.Join(library.RootPath, base)
	abs, ok := pathWithin(library.RootPath, target)
	if !ok {
		return nil, fmt.Errorf("%w: invalid filename", apperrors.ErrInvalidArgument)
	}
	if err := os.MkdirAll(library.RootPath, 0o755); err != nil {
		return nil, fmt.Errorf("create library directory: %w", err)
	}
	if err := os.WriteFile(abs, content, 0o644); err != nil {
		return nil, fmt.Errorf("write uploaded file: %w", err)
	}

	file, created, err := s.upsertFile(ctx, libraryID, base, abs, content)
	if err != nil {
		return nil, err
	}
	if _, err := s.reindexFile(ctx, file, DecodeText(content)); err != nil {
		if created {
			if delErr := s.fileRepo.Delete(ctx, nil, file.ID); delErr != nil {
				s.log.Warn("failed to remove file record after index failure", "file_id", file.ID, "error", delErr)
			}
		} else {
			file.Status = types.FileStatusFailed
			if _, updErr := s.fileRepo.Update(ctx, nil, file); updErr != nil {
				s.log.Warn("failed to mark file as failed", "file_id", file.ID, "error", updErr)
			}
		}
		return nil, err
	}
	if _, err := s.graph.RebuildLibraryGraph(ctx, libraryID); err != nil {
		s.log.Warn("graph rebuild after upload failed", "library_id", libraryID, "error", err)
	}
	s.log.Info("file uploaded", "library_id", libraryID, "file_id", file.ID, "filename", base)
	return file, nil
}

func (s *kbService) ListFiles(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID) ([]*types.KnowledgeFile, error) {
	if _, err := s.loadReadable(ctx, userID, isAdmin, libraryID); err != nil {
		return nil, err
	}
	return s.fileRepo.ListByLibrary(ctx, nil, libraryID)
}

func (s *kbService) DeleteFile(ctx context.Context, userID uuid.UUID, isAdmin bool, fileID uuid.UUID) error {
	file, err := s.fileRepo.GetByID(ctx, nil, fileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: file", apperrors.ErrNotFound)
		}
		return err
	}
	library, err := s.loadWritable(ctx, userID, isAdmin, file.LibraryID)
	if err != nil {
		return err
	}
	if err := s.chunkRepo.DeleteByFile(ctx, nil, fileID); err != nil {
		return err
	}
	if err := s.fileRepo.Delete(ctx, nil, fileID); err != nil {
		return err
	}
	if _, err := s.graph.RebuildLibraryGraph(ctx, file.LibraryID); err != nil {
		s.log.Warn("graph rebuild after delete failed", "library_id", file.LibraryID, "error", err)
	}
	if _, ok := pathWithin(library.RootPath, file.Filepath); ok {
		if err := os.Remove(file.Filepath); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to remove file from disk", "file_id", fileID, "error", err)
		}
	}
	s.log.Info("file deleted", "library_id", file.LibraryID, "file_id", fileID)
	return nil
}

func (s *kbService) createTask(ctx context.Context, taskType string, libraryID, userID uuid.UUID) (*types.IngestionTask, error) {
	now := time.Now()
	task := &types.IngestionTask{
		TaskType:  taskType,
		Status:    types.TaskStatusRunning,
		LibraryID: libraryID,
		CreatedBy: userID,
		StartedAt: &now,
	}
	rows, err := s.taskRepo.Create(ctx, nil, []*types.IngestionTask{task})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func (s *kbService) finishTask(ctx context.Context, task *types.IngestionTask, detail map[string]any, taskErr error) *types.IngestionTask {
	now := time.Now()
	task.FinishedAt = &now
	if taskErr != nil {
		task.Status = types.TaskStatusFailed
		task.ErrorMessage = taskErr.Error()
	} else {
		task.Status = types.TaskStatusCompleted
	}
	if detail != nil {
		if raw, err := json.Marshal(detail); err == nil {
			task.Detail = datatypes.JSON(raw)
		}
	}
	updated, err := s.taskRepo.Update(ctx, nil, task)
	if err != nil {
		s.log.Error("failed to persist task result", "task_id", task.ID, "error", err)
		return task
	}
	return updated
}

// SyncDirectory indexes every supported file under a directory inside the
// configured sync root. The task runs synchronously and its detail records the
// outcome counts.
func (s *kbService) SyncDirectory(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID, directoryPath string) (*types.IngestionTask, error) {
	if _, err := s.loadWritable(ctx, userID, isAdmin, libraryID); err != nil {
		return nil, err
	}
	abs, ok := pathWithin(s.syncRoot, directoryPath)
	if !ok {
		return nil, fmt.Errorf("%w: directory must live under the sync root", apperrors.ErrInvalidArgument)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: directory not found: %s", apperrors.ErrInvalidArgument, directoryPath)
	}

	task, err := s.createTask(ctx, types.TaskTypeSyncDirectory, libraryID, userID)
	if err != nil {
		return nil, err
	}

	totalFiles := 0
	indexedFiles := 0
	walkErr := filepath.WalkDir(abs, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !IsSupportedFileType(filepath.Ext(entry.Name())) {
			return nil
		}
		totalFiles++
		content, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("skipping unreadable file", "path", path, "error", err)
			return nil
		}
		file, _, err := s.upsertFile(ctx, libraryID, entry.Name(), path, content)
		if err != nil {
			return err
		}
		if _, err := s.reindexFile(ctx, file, DecodeText(content)); err != nil {
			s.log.Warn("failed to index file during sync", "path", path, "error", err)
			file.Status = types.FileStatusFailed
			if _, updErr := s.fileRepo.Update(ctx, nil, file); updErr != nil {
				s.log.Warn("failed to mark file as failed", "file_id", file.ID, "error", updErr)
			}
			return nil
		}
		indexedFiles++
		return nil
	})

	detail := map[string]any{
		"directory_path": directoryPath,
		"total_files":    totalFiles,
		"indexed_files":  indexedFiles,
		"graph_nodes":    0,
		"graph_edges":    0,
	}
	if walkErr != nil {
		return s.finishTask(ctx, task, detail, walkErr), nil
	}

	graphResult, graphErr := s.graph.RebuildLibraryGraph(ctx, libraryID)
	if graphErr != nil {
		return s.finishTask(ctx, task, detail, graphErr), nil
	}
	detail["graph_nodes"] = graphResult.NodeCount
	detail["graph_edges"] = graphResult.EdgeCount
	return s.finishTask(ctx, task, detail, nil), nil
}

// RebuildIndex re-reads every registered file from disk and rebuilds chunks,
// embeddings and the knowledge graph for the library.
func (s *kbService) RebuildIndex(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID) (*types.IngestionTask, error) {
	if _, err := s.loadWritable(ctx, userID, isAdmin, libraryID); err != nil {
		return nil, err
	}
	task, err := s.createTask(ctx, types.TaskTypeRebuildIndex, libraryID, userID)
	if err != nil {
		return nil, err
	}

	files, err := s.fileRepo.ListByLibrary(ctx, nil, libraryID)
	if err != nil {
		return s.finishTask(ctx, task, map[string]any{"file_count": 0}, err), nil
	}

	reindexed := 0
	for _, file := range files {
		content, err := os.ReadFile(file.Filepath)
		if err != nil {
			s.log.Warn("source file missing, marking failed", "file_id", file.ID, "path", file.Filepath)
			file.Status = types.FileStatusFailed
			if _, updErr := s.fileRepo.Update(ctx, nil, file); updErr != nil {
				s.log.Warn("failed to mark file as failed", "file_id", file.ID, "error", updErr)
			}
			continue
		}
		file.ContentHash = contentHash(content)
		file.Status = types.FileStatusIndexed
		if _, err := s.fileRepo.Update(ctx, nil, file); err != nil {
			return s.finishTask(ctx, task, map[string]any{"file_count": reindexed}, err), nil
		}
		if _, err := s.reindexFile(ctx, file, DecodeText(content)); err != nil {
			return s.finishTask(ctx, task, map[string]any{"file_count": reindexed}, err), nil
		}
		reindexed++
	}

	if _, err := s.graph.RebuildLibraryGraph(ctx, libraryID); err != nil {
		return s.finishTask(ctx, task, map[string]any{"file_count": reindexed}, err), nil
	}
	return s.finishTask(ctx, task, map[string]any{"file_count": reindexed}, nil), nil
}

func (s *kbService) GetTask(ctx context.Context, userID uuid.UUID, isAdmin bool, taskID uuid.UUID) (*types.IngestionTask, error) {
	task, err := s.taskRepo.GetByID(ctx, nil, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: task", apperrors.ErrNotFound)
		}
		return nil, err
	}
	if task.CreatedBy != userID && !isAdmin {
		return nil, fmt.Errorf("%w: task", apperrors.ErrNotFound)
	}
	return task, nil
}

func (s *kbService) GetGraphSnapshot(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID, limitNodes, limitEdges int) (*GraphSnapshot, error) {
	if _, err := s.loadReadable(ctx, userID, isAdmin, libraryID); err != nil {
		return nil, err
	}
	return s.graph.GetLibraryGraphSnapshot(ctx, libraryID, limitNodes, limitEdges)
}

func (s *kbService) RebuildGraph(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID) (*GraphRebuildResult, error) {
	if _, err := s.loadWritable(ctx, userID, isAdmin, libraryID); err != nil {
		return nil, err
	}
	return s.graph.RebuildLibraryGraph(ctx, libraryID)
}
