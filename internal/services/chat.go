package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	apperrors "github.com/csyeqing/rag-platform/internal/pkg/errors"
	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/repos"
	"github.com/csyeqing/rag-platform/internal/services/providers"
	"github.com/csyeqing/rag-platform/internal/types"
)

const noRetrievalSystemPrompt = "你是企业知识助手。在未选择知识库时，可直接基于模型能力回答用户问题。"

const retrievalSystemPrompt = "你是企业知识助手。请仅依据下方知识库检索结果回答用户问题。" +
	"回答中引用的内容必须来自检索结果；当检索结果不足以回答时，请明确说明无法从知识库中找到答案，不要编造。"

const summarySystemPrompt = "你是企业知识助手。用户在询问所选知识库的整体内容，请基于下方检索结果对知识库进行全面归纳，" +
	"按主题组织要点并覆盖尽可能多的文件来源。不要编造检索结果之外的内容。"

const noHitReplyMessage = "当前问题未命中所选知识库内容，已停止使用通用大模型兜底回答。\n" +
	"建议操作：\n" +
	"1. 使用别名/简称重试（例如：猪八戒、八戒、悟能）\n" +
	"2. 在知识库页面执行\"重建索引\"和\"重建图谱\"\n" +
	"3. 确认相关文档已上传到当前会话选择的知识库"

const streamInterruptedNotice = "（回复流中断，以上为已生成内容）"

// Citation points one reply statement back at the chunk it came from.
type Citation struct {
	LibraryID       uuid.UUID `json:"library_id"`
	FileID          uuid.UUID `json:"file_id"`
	FileName        string    `json:"file_name"`
	ChunkID         uuid.UUID `json:"chunk_id"`
	Score           float64   `json:"score"`
	Snippet         string    `json:"snippet"`
	Source          string    `json:"source"`
	MatchedEntities []string  `json:"matched_entities"`
}

type StreamEvent struct {
	Type      string
	Delta     string
	Citations []Citation
}

type ReplyResult struct {
	Content   string     `json:"content"`
	Citations []Citation `json:"citations"`
}

type CreateSessionParams struct {
	Title              string
	ProviderConfigID   *uuid.UUID
	LibraryID          *uuid.UUID
	RetrievalProfileID *uuid.UUID
	ShowCitations      *bool
}

type UpdateSessionParams struct {
	Title              *string
	ProviderConfigID   *uuid.UUID
	LibraryID          *uuid.UUID
	RetrievalProfileID *uuid.UUID
	ShowCitations      *bool
}

type ReplyParams struct {
	Content            string
	LibraryIDs         []uuid.UUID
	ProviderConfigID   *uuid.UUID
	RetrievalProfileID *uuid.UUID
	TopK               int
	UseRerank          bool
	Temperature        float64
	MaxTokens          int
}

type ChatService interface {
	CreateSession(ctx context.Context, userID uuid.UUID, isAdmin bool, params CreateSessionParams) (*types.ChatSession, error)
	ListSessions(ctx context.Context, userID uuid.UUID) ([]*types.ChatSession, error)
	UpdateSession(ctx context.Context, userID uuid.UUID, isAdmin bool, sessionID uuid.UUID, params UpdateSessionParams) (*types.ChatSession, error)
	DeleteSession(ctx context.Context, userID uuid.UUID, isAdmin bool, sessionID uuid.UUID) error
	ListMessages(ctx context.Context, userID uuid.UUID, isAdmin bool, sessionID uuid.UUID) ([]*types.ChatMessage, error)
	GenerateReply(ctx context.Context, userID uuid.UUID, isAdmin bool, sessionID uuid.UUID, params ReplyParams) (*ReplyResult, error)
	GenerateReplyStream(ctx context.Context, userID uuid.UUID, isAdmin bool, sessionID uuid.UUID, params ReplyParams, emit func(StreamEvent) error) error
}

type chatService struct {
	sessionRepo repos.ChatSessionRepo
	messageRepo repos.ChatMessageRepo
	libraryRepo repos.LibraryRepo
	providerSvc ProviderService
	profileSvc  RetrievalProfileService
	retrieval   RetrievalService
	registry    *providers.Registry
	log         *logger.Logger
}

func NewChatService(
	sessionRepo repos.ChatSessionRepo,
	messageRepo repos.ChatMessageRepo,
	libraryRepo repos.LibraryRepo,
	providerSvc ProviderService,
	profileSvc RetrievalProfileService,
	retrieval RetrievalService,
	registry *providers.Registry,
	baseLog *logger.Logger,
) ChatService {
	return &chatService{
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		libraryRepo: libraryRepo,
		providerSvc: providerSvc,
		profileSvc:  profileSvc,
		retrieval:   retrieval,
		registry:    registry,
		log:         baseLog.With("service", "ChatService"),
	}
}

func (s *chatService) loadSession(ctx context.Context, userID uuid.UUID, isAdmin bool, sessionID uuid.UUID) (*types.ChatSession, error) {
	session, err := s.sessionRepo.GetByID(ctx, nil, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: chat session", apperrors.ErrNotFound)
		}
		return nil, err
	}
	if session.UserID != userID && !isAdmin {
		return nil, fmt.Errorf("%w: chat session", apperrors.ErrNotFound)
	}
	return session, nil
}

// checkLibraryRef validates a library reference for session binding: it must
// exist and be visible to the caller.
func (s *chatService) checkLibraryRef(ctx context.Context, userID uuid.UUID, isAdmin bool, libraryID uuid.UUID) error {
	library, err := s.libraryRepo.GetByID(ctx, nil, libraryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: library", apperrors.ErrNotFound)
		}
		return err
	}
	if !CanReadLibrary(library, userID, isAdmin) {
		return fmt.Errorf("%w: library access denied", apperrors.ErrForbidden)
	}
	return nil
}

func (s *chatService) CreateSession(ctx context.Context, userID uuid.UUID, isAdmin bool, params CreateSessionParams) (*types.ChatSession, error) {
	if params.ProviderConfigID != nil {
		if _, err := s.providerSvc.Get(ctx, userID, *params.ProviderConfigID); err != nil {
			return nil, err
		}
	}
	if params.LibraryID != nil {
		if err := s.checkLibraryRef(ctx, userID, isAdmin, *params.LibraryID); err != nil {
			return nil, err
		}
	}
	profileID, _, err := s.profileSvc.ResolveRuntimeConfig(ctx, params.RetrievalProfileID)
	if err != nil {
		return nil, err
	}

	session := &types.ChatSession{
		UserID:             userID,
		ProviderConfigID:   params.ProviderConfigID,
		LibraryID:          params.LibraryID,
		RetrievalProfileID: profileID,
		ShowCitations:      true,
	}
	if title := strings.TrimSpace(params.Title); title != "" {
		session.Title = title
	} else {
		session.Title = "新会话"
	}
	if params.ShowCitations != nil {
		session.ShowCitations = *params.ShowCitations
	}
	rows, err := s.sessionRepo.Create(ctx, nil, []*types.ChatSession{session})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func (s *chatService) ListSessions(ctx context.Context, userID uuid.UUID) ([]*types.ChatSession, error) {
	return s.sessionRepo.ListByUser(ctx, nil, userID)
}

func (s *chatService) UpdateSession(ctx context.Context, userID uuid.UUID, isAdmin bool, sessionID uuid.UUID, params UpdateSessionParams) (*types.ChatSession, error) {
	session, err := s.loadSession(ctx, userID, isAdmin, sessionID)
	if err != nil {
		return nil, err
	}
	if params.Title != nil {
		if title := strings.TrimSpace(*params.Title); title != "" {
			session.Title = title
		}
	}
	if params.ProviderConfigID != nil {
		if _, err := s.providerSvc.Get(ctx, session.UserID, *params.ProviderConfigID); err != nil {
			return nil, err
		}
		session.ProviderConfigID = params.ProviderConfigID
	}
	if params.LibraryID != nil {
		if err := s.checkLibraryRef(ctx, userID, isAdmin, *params.LibraryID); err != nil {
			return nil, err
		}
		session.LibraryID = params.LibraryID
	}
	if params.RetrievalProfileID != nil {
		profileID, _, err := s.profileSvc.ResolveRuntimeConfig(ctx, params.RetrievalProfileID)
		if err != nil {
			return nil, err
		}
		session.RetrievalProfileID = profileID
	}
	if params.ShowCitations != nil {
		session.ShowCitations = *params.ShowCitations
	}
	return s.sessionRepo.Update(ctx, nil, session)
}

func (s *chatService) DeleteSession(ctx context.Context, userID uuid.UUID, isAdmin bool, sessionID uuid.UUID) error {
	if _, err := s.loadSession(ctx, userID, isAdmin, sessionID); err != nil {
		return err
	}
	if err := s.messageRepo.DeleteBySession(ctx, nil, sessionID); err != nil {
		return err
	}
	return s.sessionRepo.Delete(ctx, nil, sessionID)
}

func (s *chatService) ListMessages(ctx context.Context, userID uuid.UUID, isAdmin bool, sessionID uuid.UUID) ([]*types.ChatMessage, error) {
	if _, err := s.loadSession(ctx, userID, isAdmin, sessionID); err != nil {
		return nil, err
	}
	return s.messageRepo.ListBySession(ctx, nil, sessionID)
}

// resolveLibraries picks the retrieval scope: the request's explicit list when
// present, otherwise the session-bound library.
func (s *chatService) resolveLibraries(ctx context.Context, userID uuid.UUID, isAdmin bool, session *types.ChatSession, requested []uuid.UUID) ([]uuid.UUID, error) {
	ids := requested
	if len(ids) == 0 && session.LibraryID != nil {
		ids = []uuid.UUID{*session.LibraryID}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	resolved := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := s.checkLibraryRef(ctx, userID, isAdmin, id); err != nil {
			return nil, err
		}
		resolved = append(resolved, id)
	}
	return resolved, nil
}

func (s *chatService) saveMessage(ctx context.Context, sessionID uuid.UUID, role, content string, citations []Citation) error {
	message := &types.ChatMessage{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
	}
	if citations != nil {
		raw, err := json.Marshal(citations)
		if err != nil {
			return err
		}
		message.Citations = datatypes.JSON(raw)
	}
	_, err := s.messageRepo.Create(ctx, nil, []*types.ChatMessage{message})
	return err
}

func citationsFromChunks(items []RetrievedChunk) []Citation {
	citations := make([]Citation, 0, len(items))
	for _, item := range items {
		matched := item.MatchedEntities
		if matched == nil {
			matched = []string{}
		}
		citations = append(citations, Citation{
			LibraryID:       item.LibraryID,
			FileID:          item.FileID,
			FileName:        item.FileName,
			ChunkID:         item.ChunkID,
			Score:           item.Score,
			Snippet:         item.Snippet,
			Source:          item.Source,
			MatchedEntities: matched,
		})
	}
	return citations
}

// rerankChunks reorders retrieval output by the provider's rerank scores.
func (s *chatService) rerankChunks(ctx context.Context, adapter providers.Adapter, config providers.Config, query string, items []RetrievedChunk) []RetrievedChunk {
	if len(items) < 2 {
		return items
	}
	documents := make([]string, 0, len(items))
	for _, item := range items {
		documents = append(documents, item.Snippet)
	}
	resp, err := adapter.Rerank(ctx, config, providers.RerankRequest{
		Model:     config.ModelName,
		Query:     query,
		Documents: documents,
	})
	if err != nil || len(resp.Items) == 0 {
		if err != nil {
			s.log.Warn("rerank failed, keeping retrieval order", "error", err)
		}
		return items
	}
	ranked := make([]providers.RerankItem, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Index >= 0 && item.Index < len(items) {
			ranked = append(ranked, item)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	reordered := make([]RetrievedChunk, 0, len(items))
	used := make(map[int]bool, len(ranked))
	for _, item := range ranked {
		if used[item.Index] {
			continue
		}
		used[item.Index] = true
		chunk := items[item.Index]
		chunk.Score = Round6(item.Score)
		reordered = append(reordered, chunk)
	}
	for i, chunk := range items {
		if !used[i] {
			reordered = append(reordered, chunk)
		}
	}
	return reordered
}

func buildRetrievalSystemPrompt(citations []Citation, summaryMode bool) (string, error) {
	pretty, err := json.MarshalIndent(citations, "", "  ")
	if err != nil {
		return "", err
	}
	compact, err := json.Marshal(citations)
	if err != nil {
		return "", err
	}
	base := retrievalSystemPrompt
	if summaryMode {
		base = summarySystemPrompt
	}
	return base + "\n知识库检索结果：\n" + string(pretty) + "\nRAG_CONTEXT=" + string(compact), nil
}

func (s *chatService) GenerateReply(ctx context.Context, userID uuid.UUID, isAdmin bool, sessionID uuid.UUID, params ReplyParams) (*ReplyResult, error) {
	return s.generate(ctx, userID, isAdmin, sessionID, params, nil)
}

func (s *chatService) GenerateReplyStream(ctx context.Context, userID uuid.UUID, isAdmin bool, sessionID uuid.UUID, params ReplyParams, emit func(StreamEvent) error) error {
	_, err := s.generate(ctx, userID, isAdmin, sessionID, params, emit)
	return err
}

func (s *chatService) generate(ctx context.Context, userID uuid.UUID, isAdmin bool, sessionID uuid.UUID, params ReplyParams, emit func(StreamEvent) error) (*ReplyResult, error) {
	content := strings.TrimSpace(params.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: message content is required", apperrors.ErrInvalidArgument)
	}
	session, err := s.loadSession(ctx, userID, isAdmin, sessionID)
	if err != nil {
		return nil, err
	}

	// History is captured before the new question lands so the retrieval
	// context reflects what the user already asked.
	history, err := s.messageRepo.ListBySession(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	historyContext := make([]string, 0, len(history))
	historyMessages := make([]providers.ChatMessage, 0, len(history))
	for _, message := range history {
		if message.Role == types.ChatRoleUser {
			historyContext = append(historyContext, message.Content)
		}
		if message.Role == types.ChatRoleUser || message.Role == types.ChatRoleAssistant {
			historyMessages = append(historyMessages, providers.ChatMessage{Role: message.Role, Content: message.Content})
		}
	}
	if len(historyMessages) > historyReserveMessages {
		historyMessages = historyMessages[len(historyMessages)-historyReserveMessages:]
	}

	if err := s.saveMessage(ctx, sessionID, types.ChatRoleUser, content, nil); err != nil {
		return nil, err
	}

	libraryIDs, err := s.resolveLibraries(ctx, session.UserID, isAdmin, session, params.LibraryIDs)
	if err != nil {
		return nil, err
	}

	requestedProfile := params.RetrievalProfileID
	if requestedProfile == nil {
		requestedProfile = session.RetrievalProfileID
	}
	profileID, retrievalCfg, err := s.profileSvc.ResolveRuntimeConfig(ctx, requestedProfile)
	if err != nil {
		return nil, err
	}

	providerID := params.ProviderConfigID
	if providerID == nil {
		providerID = session.ProviderConfigID
	}
	providerConfig, runtimeConfig, err := s.providerSvc.RuntimeConfig(ctx, session.UserID, providerID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.registry.Get(runtimeConfig.ProviderType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidArgument, err.Error())
	}

	session.RetrievalProfileID = profileID
	if session.ProviderConfigID == nil {
		id := providerConfig.ID
		session.ProviderConfigID = &id
	}

	summaryMode := false
	var hits []RetrievedChunk
	if len(libraryIDs) > 0 {
		summaryMode = IsGlobalSummaryQuery(content)
		hits, err = s.retrieval.HybridSearch(ctx, libraryIDs, content, params.TopK, historyContext, retrievalCfg)
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 {
			if err := s.saveMessage(ctx, sessionID, types.ChatRoleAssistant, noHitReplyMessage, []Citation{}); err != nil {
				return nil, err
			}
			if _, err := s.sessionRepo.Update(ctx, nil, session); err != nil {
				s.log.Warn("failed to touch session", "session_id", sessionID, "error", err)
			}
			if emit != nil {
				if err := emit(StreamEvent{Type: "delta", Delta: noHitReplyMessage}); err != nil {
					return nil, err
				}
				if err := emit(StreamEvent{Type: "done", Citations: []Citation{}}); err != nil {
					return nil, err
				}
			}
			return &ReplyResult{Content: noHitReplyMessage, Citations: []Citation{}}, nil
		}
		if params.UseRerank {
			hits = s.rerankChunks(ctx, adapter, runtimeConfig, content, hits)
		}
	}

	hits = FitContextWindow(hits, content, historyMessages, runtimeConfig.ContextWindowTokens, params.MaxTokens, summaryMode)

	systemPrompt := noRetrievalSystemPrompt
	var citations []Citation
	if len(libraryIDs) > 0 {
		citations = citationsFromChunks(hits)
		systemPrompt, err = buildRetrievalSystemPrompt(citations, summaryMode)
		if err != nil {
			return nil, err
		}
	}

	messages := make([]providers.ChatMessage, 0, len(historyMessages)+2)
	messages = append(messages, providers.ChatMessage{Role: types.ChatRoleSystem, Content: systemPrompt})
	messages = append(messages, historyMessages...)
	messages = append(messages, providers.ChatMessage{Role: types.ChatRoleUser, Content: content})

	request := providers.ChatRequest{
		Model:       runtimeConfig.ModelName,
		Messages:    messages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	}

	shown := []Citation{}
	if session.ShowCitations && citations != nil {
		shown = citations
	}

	var replyContent string
	if emit != nil {
		var builder strings.Builder
		streamErr := adapter.ChatStream(ctx, runtimeConfig, request, func(delta providers.ChatDelta) error {
			builder.WriteString(delta.Delta)
			return emit(StreamEvent{Type: "delta", Delta: delta.Delta})
		})
		if streamErr != nil {
			// Keep whatever arrived before the upstream broke; the client
			// gets a notice delta and a normal done frame.
			s.log.Warn("chat stream interrupted", "session_id", sessionID, "error", streamErr)
			builder.WriteString(streamInterruptedNotice)
			if err := emit(StreamEvent{Type: "delta", Delta: streamInterruptedNotice}); err != nil {
				// Client may already be gone; still persist what accumulated.
				s.log.Debug("failed to emit interruption notice", "session_id", sessionID, "error", err)
			}
		}
		replyContent = builder.String()
	} else {
		response, err := adapter.Chat(ctx, runtimeConfig, request)
		if err != nil {
			return nil, err
		}
		replyContent = response.Content
	}

	if err := s.saveMessage(ctx, sessionID, types.ChatRoleAssistant, replyContent, shown); err != nil {
		return nil, err
	}
	// Save touches updated_at so the session list stays in recency order.
	if _, err := s.sessionRepo.Update(ctx, nil, session); err != nil {
		s.log.Warn("failed to persist session changes", "session_id", sessionID, "error", err)
	}
	if emit != nil {
		if err := emit(StreamEvent{Type: "done", Citations: shown}); err != nil {
			return nil, err
		}
	}
	return &ReplyResult{Content: replyContent, Citations: shown}, nil
}
