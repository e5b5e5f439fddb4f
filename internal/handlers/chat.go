package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/services"
	"github.com/csyeqing/rag-platform/internal/sse"
)

type ChatHandler struct {
	chatService services.ChatService
	audit       services.AuditService
	log         *logger.Logger
}

func NewChatHandler(chatService services.ChatService, audit services.AuditService, baseLog *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		audit:       audit,
		log:         baseLog.With("handler", "ChatHandler"),
	}
}

func (ch *ChatHandler) CreateSession(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	var req struct {
		Title              string     `json:"title"`
		ProviderConfigID   *uuid.UUID `json:"provider_config_id"`
		LibraryID          *uuid.UUID `json:"library_id"`
		RetrievalProfileID *uuid.UUID `json:"retrieval_profile_id"`
		ShowCitations      *bool      `json:"show_citations"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, err := ch.chatService.CreateSession(c.Request.Context(), rd.UserID, rd.IsAdmin(), services.CreateSessionParams{
		Title:              req.Title,
		ProviderConfigID:   req.ProviderConfigID,
		LibraryID:          req.LibraryID,
		RetrievalProfileID: req.RetrievalProfileID,
		ShowCitations:      req.ShowCitations,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, session)
}

func (ch *ChatHandler) ListSessions(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	sessions, err := ch.chatService.ListSessions(c.Request.Context(), rd.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, sessions)
}

func (ch *ChatHandler) UpdateSession(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Title              *string    `json:"title"`
		ProviderConfigID   *uuid.UUID `json:"provider_config_id"`
		LibraryID          *uuid.UUID `json:"library_id"`
		RetrievalProfileID *uuid.UUID `json:"retrieval_profile_id"`
		ShowCitations      *bool      `json:"show_citations"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, err := ch.chatService.UpdateSession(c.Request.Context(), rd.UserID, rd.IsAdmin(), id, services.UpdateSessionParams{
		Title:              req.Title,
		ProviderConfigID:   req.ProviderConfigID,
		LibraryID:          req.LibraryID,
		RetrievalProfileID: req.RetrievalProfileID,
		ShowCitations:      req.ShowCitations,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, session)
}

func (ch *ChatHandler) DeleteSession(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	if err := ch.chatService.DeleteSession(c.Request.Context(), rd.UserID, rd.IsAdmin(), id); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"message": "deleted"})
}

func (ch *ChatHandler) ListMessages(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	messages, err := ch.chatService.ListMessages(c.Request.Context(), rd.UserID, rd.IsAdmin(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, messages)
}

// CreateMessage answers a user question, streaming the reply as SSE unless the
// request asks for a single JSON response.
func (ch *ChatHandler) CreateMessage(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	sessionID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Content            string      `json:"content"`
		LibraryIDs         []uuid.UUID `json:"library_ids"`
		ProviderConfigID   *uuid.UUID  `json:"provider_config_id"`
		RetrievalProfileID *uuid.UUID  `json:"retrieval_profile_id"`
		TopK               int         `json:"top_k"`
		UseRerank          bool        `json:"use_rerank"`
		Stream             *bool       `json:"stream"`
		Temperature        float64     `json:"temperature"`
		MaxTokens          int         `json:"max_tokens"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	params := services.ReplyParams{
		Content:            req.Content,
		LibraryIDs:         req.LibraryIDs,
		ProviderConfigID:   req.ProviderConfigID,
		RetrievalProfileID: req.RetrievalProfileID,
		TopK:               req.TopK,
		UseRerank:          req.UseRerank,
		Temperature:        req.Temperature,
		MaxTokens:          req.MaxTokens,
	}
	actorID := rd.UserID
	ch.audit.Record(c.Request.Context(), &actorID, "chat.message.create", "chat_session", sessionID.String(), nil)

	if req.Stream != nil && !*req.Stream {
		result, err := ch.chatService.GenerateReply(c.Request.Context(), rd.UserID, rd.IsAdmin(), sessionID, params)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, result)
		return
	}

	// The SSE writer is created on the first frame so resolution errors can
	// still produce a regular JSON status.
	var writer *sse.Writer
	err := ch.chatService.GenerateReplyStream(c.Request.Context(), rd.UserID, rd.IsAdmin(), sessionID, params, func(event services.StreamEvent) error {
		if writer == nil {
			w, err := sse.NewWriter(c.Writer)
			if err != nil {
				return err
			}
			writer = w
		}
		switch event.Type {
		case "delta":
			return writer.Send(gin.H{"type": "delta", "delta": event.Delta})
		case "done":
			citations := event.Citations
			if citations == nil {
				citations = []services.Citation{}
			}
			return writer.Send(gin.H{"type": "done", "citations": citations, "error": nil})
		}
		return nil
	})
	if err != nil {
		if writer == nil {
			respondError(c, err)
			return
		}
		ch.log.Warn("stream aborted", "session_id", sessionID, "error", err)
		if sendErr := writer.Send(gin.H{"type": "done", "citations": []services.Citation{}, "error": err.Error()}); sendErr != nil {
			ch.log.Debug("failed to send final frame", "error", sendErr)
		}
	}
}
