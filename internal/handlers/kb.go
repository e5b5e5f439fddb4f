package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/csyeqing/rag-platform/internal/services"
)

const maxUploadBytes = 64 << 20

type KBHandler struct {
	kbService services.KBService
	audit     services.AuditService
}

func NewKBHandler(kbService services.KBService, audit services.AuditService) *KBHandler {
	return &KBHandler{kbService: kbService, audit: audit}
}

func (kh *KBHandler) CreateLibrary(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	var req struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		LibraryType string   `json:"library_type"`
		OwnerType   string   `json:"owner_type"`
		Tags        []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	library, err := kh.kbService.CreateLibrary(c.Request.Context(), rd.UserID, rd.IsAdmin(), services.CreateLibraryParams{
		Name:        req.Name,
		Description: req.Description,
		LibraryType: req.LibraryType,
		OwnerType:   req.OwnerType,
		Tags:        req.Tags,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	actorID := rd.UserID
	kh.audit.Record(c.Request.Context(), &actorID, "kb.library.create", "library", library.ID.String(), map[string]any{"name": library.Name})
	respondOK(c, library)
}

func (kh *KBHandler) ListLibraries(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	libraries, err := kh.kbService.ListLibraries(c.Request.Context(), rd.UserID, rd.IsAdmin())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, libraries)
}

func (kh *KBHandler) GetLibrary(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	library, err := kh.kbService.GetLibrary(c.Request.Context(), rd.UserID, rd.IsAdmin(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, library)
}

func (kh *KBHandler) UpdateLibrary(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Name        *string   `json:"name"`
		Description *string   `json:"description"`
		LibraryType *string   `json:"library_type"`
		Tags        *[]string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	library, err := kh.kbService.UpdateLibrary(c.Request.Context(), rd.UserID, rd.IsAdmin(), id, services.UpdateLibraryParams{
		Name:        req.Name,
		Description: req.Description,
		LibraryType: req.LibraryType,
		Tags:        req.Tags,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, library)
}

func (kh *KBHandler) DeleteLibrary(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	if err := kh.kbService.DeleteLibrary(c.Request.Context(), rd.UserID, rd.IsAdmin(), id); err != nil {
		respondError(c, err)
		return
	}
	actorID := rd.UserID
	kh.audit.Record(c.Request.Context(), &actorID, "kb.library.delete", "library", id.String(), nil)
	respondOK(c, gin.H{"message": "deleted"})
}

func (kh *KBHandler) UploadFile(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	libraryID, err := uuid.Parse(c.PostForm("library_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid library_id"})
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer src.Close()
	content, err := io.ReadAll(src)
	if err != nil {
		respondError(c, err)
		return
	}
	file, err := kh.kbService.UploadFile(c.Request.Context(), rd.UserID, rd.IsAdmin(), libraryID, fileHeader.Filename, content)
	if err != nil {
		respondError(c, err)
		return
	}
	actorID := rd.UserID
	kh.audit.Record(c.Request.Context(), &actorID, "kb.file.upload", "knowledge_file", file.ID.String(), map[string]any{"filename": file.Filename})
	respondOK(c, file)
}

func (kh *KBHandler) ListFiles(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	files, err := kh.kbService.ListFiles(c.Request.Context(), rd.UserID, rd.IsAdmin(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, files)
}

func (kh *KBHandler) DeleteFile(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	if err := kh.kbService.DeleteFile(c.Request.Context(), rd.UserID, rd.IsAdmin(), id); err != nil {
		respondError(c, err)
		return
	}
	actorID := rd.UserID
	kh.audit.Record(c.Request.Context(), &actorID, "kb.file.delete", "knowledge_file", id.String(), nil)
	respondOK(c, gin.H{"message": "deleted"})
}

func clampQueryInt(c *gin.Context, name string, def, lo, hi int) int {
	value := def
	if raw := c.Query(name); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			value = parsed
		}
	}
	if value < lo {
		value = lo
	}
	if value > hi {
		value = hi
	}
	return value
}

func (kh *KBHandler) GetGraph(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	limitNodes := clampQueryInt(c, "limit_nodes", 80, 10, 300)
	limitEdges := clampQueryInt(c, "limit_edges", 150, 10, 500)
	snapshot, err := kh.kbService.GetGraphSnapshot(c.Request.Context(), rd.UserID, rd.IsAdmin(), id, limitNodes, limitEdges)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, snapshot)
}

func (kh *KBHandler) RebuildGraph(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	result, err := kh.kbService.RebuildGraph(c.Request.Context(), rd.UserID, rd.IsAdmin(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	actorID := rd.UserID
	kh.audit.Record(c.Request.Context(), &actorID, "kb.graph.rebuild", "library", id.String(), nil)
	respondOK(c, result)
}

func (kh *KBHandler) SyncDirectory(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	var req struct {
		LibraryID     uuid.UUID `json:"library_id"`
		DirectoryPath string    `json:"directory_path"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	task, err := kh.kbService.SyncDirectory(c.Request.Context(), rd.UserID, rd.IsAdmin(), req.LibraryID, req.DirectoryPath)
	if err != nil {
		respondError(c, err)
		return
	}
	actorID := rd.UserID
	kh.audit.Record(c.Request.Context(), &actorID, "kb.directory.sync", "library", req.LibraryID.String(), map[string]any{"directory_path": req.DirectoryPath})
	respondOK(c, task)
}

func (kh *KBHandler) RebuildIndex(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	var req struct {
		LibraryID uuid.UUID `json:"library_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	task, err := kh.kbService.RebuildIndex(c.Request.Context(), rd.UserID, rd.IsAdmin(), req.LibraryID)
	if err != nil {
		respondError(c, err)
		return
	}
	actorID := rd.UserID
	kh.audit.Record(c.Request.Context(), &actorID, "kb.index.rebuild", "library", req.LibraryID.String(), nil)
	respondOK(c, task)
}

func (kh *KBHandler) GetTask(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	task, err := kh.kbService.GetTask(c.Request.Context(), rd.UserID, rd.IsAdmin(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, task)
}
