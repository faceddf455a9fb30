// Package chat 聊天会话、消息、附件与导出
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/config"
	"github.com/ashwinyue/family-health/internal/extract"
	"github.com/ashwinyue/family-health/internal/logger"
	"github.com/ashwinyue/family-health/internal/model"
	"github.com/ashwinyue/family-health/internal/repository"
	"github.com/ashwinyue/family-health/internal/service/desensitization"
	"github.com/ashwinyue/family-health/internal/service/file"
	"github.com/ashwinyue/family-health/internal/service/knowledge"
	"github.com/ashwinyue/family-health/internal/service/session"
)

const defaultTitle = "New Chat"

// Service 聊天服务
type Service struct {
	repo      *repository.Repositories
	history   *session.Manager
	storage   file.Storage
	paths     *config.StorageConfig
	sanitizer *desensitization.Service
	kb        *knowledge.Service
	extractor *extract.Extractor
	log       *zap.Logger
}

// NewService 创建聊天服务
func NewService(
	repo *repository.Repositories,
	history *session.Manager,
	storage file.Storage,
	paths *config.StorageConfig,
	sanitizer *desensitization.Service,
	kb *knowledge.Service,
	extractor *extract.Extractor,
	log *zap.Logger,
) *Service {
	return &Service{
		repo:      repo,
		history:   history,
		storage:   storage,
		paths:     paths,
		sanitizer: sanitizer,
		kb:        kb,
		extractor: extractor,
		log:       logger.OrNop(log),
	}
}

// CreateSessionRequest 创建会话
type CreateSessionRequest struct {
	Title                string   `json:"title" binding:"max=120"`
	RuntimeProfileID     string   `json:"runtime_profile_id"`
	RoleID               string   `json:"role_id"`
	BackgroundPrompt     string   `json:"background_prompt" binding:"max=20000"`
	ReasoningEnabled     *bool    `json:"reasoning_enabled"`
	ReasoningBudget      *int     `json:"reasoning_budget" binding:"omitempty,min=0,max=131072"`
	ShowReasoning        *bool    `json:"show_reasoning"`
	ContextMessageLimit  *int     `json:"context_message_limit" binding:"omitempty,min=1,max=100"`
	DefaultEnabledMCPIDs []string `json:"default_enabled_mcp_ids"`
}

// UpdateSessionRequest 部分更新会话
type UpdateSessionRequest struct {
	Title                *string  `json:"title" binding:"omitempty,min=1,max=120"`
	RuntimeProfileID     *string  `json:"runtime_profile_id"`
	RoleID               *string  `json:"role_id"`
	BackgroundPrompt     *string  `json:"background_prompt" binding:"omitempty,max=20000"`
	ReasoningEnabled     *bool    `json:"reasoning_enabled"`
	ReasoningBudget      *int     `json:"reasoning_budget" binding:"omitempty,min=0,max=131072"`
	ShowReasoning        *bool    `json:"show_reasoning"`
	ContextMessageLimit  *int     `json:"context_message_limit" binding:"omitempty,min=1,max=100"`
	Archived             *bool    `json:"archived"`
	DefaultEnabledMCPIDs []string `json:"default_enabled_mcp_ids"`
	Summary              *string  `json:"summary"`
}

// ListSessionsRequest 会话列表参数
type ListSessionsRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Query    string `form:"query"`
	Archived *bool  `form:"archived"`
}

// SessionList 会话分页结果
type SessionList struct {
	Total int64                `json:"total"`
	Items []*model.ChatSession `json:"items"`
}

// AddMessageRequest 新增消息
type AddMessageRequest struct {
	Role    string `json:"role" binding:"omitempty,oneof=user assistant system"`
	Content string `json:"content" binding:"required,min=1"`
}

// CreateSession 创建会话
func (s *Service) CreateSession(ctx context.Context, userID string, req *CreateSessionRequest) (*model.ChatSession, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = defaultTitle
	}
	sess := &model.ChatSession{
		UserID:               userID,
		Title:                title,
		RuntimeProfileID:     req.RuntimeProfileID,
		RoleID:               req.RoleID,
		BackgroundPrompt:     req.BackgroundPrompt,
		ReasoningEnabled:     req.ReasoningEnabled,
		ReasoningBudget:      req.ReasoningBudget,
		ShowReasoning:        req.ShowReasoning == nil || *req.ShowReasoning,
		ContextMessageLimit:  20,
		DefaultEnabledMCPIDs: model.StringList(req.DefaultEnabledMCPIDs),
	}
	if req.ContextMessageLimit != nil {
		sess.ContextMessageLimit = *req.ContextMessageLimit
	}
	if sess.DefaultEnabledMCPIDs == nil {
		sess.DefaultEnabledMCPIDs = model.StringList{}
	}
	if err := s.repo.Chat.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// GetSession 获取会话
func (s *Service) GetSession(ctx context.Context, userID, id string) (*model.ChatSession, error) {
	sess, err := s.repo.Chat.GetSession(ctx, userID, id)
	if repository.IsNotFound(err) {
		return nil, apperr.ErrSessionNotFound
	}
	return sess, err
}

// ListSessions 分页列出会话
func (s *Service) ListSessions(ctx context.Context, userID string, req *ListSessionsRequest) (*SessionList, error) {
	page := max(req.Page, 1)
	size := req.PageSize
	if size <= 0 {
		size = 20
	}
	size = min(size, 100)
	items, total, err := s.repo.Chat.ListSessions(ctx, userID, repository.SessionQuery{
		Query:    strings.TrimSpace(req.Query),
		Archived: req.Archived,
		Offset:   (page - 1) * size,
		Limit:    size,
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return &SessionList{Total: total, Items: items}, nil
}

// UpdateSession 部分更新会话
func (s *Service) UpdateSession(ctx context.Context, userID, id string, req *UpdateSessionRequest) (*model.ChatSession, error) {
	sess, err := s.GetSession(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		sess.Title = strings.TrimSpace(*req.Title)
	}
	if req.RuntimeProfileID != nil {
		sess.RuntimeProfileID = *req.RuntimeProfileID
	}
	if req.RoleID != nil {
		sess.RoleID = *req.RoleID
	}
	if req.BackgroundPrompt != nil {
		sess.BackgroundPrompt = *req.BackgroundPrompt
	}
	if req.ReasoningEnabled != nil {
		sess.ReasoningEnabled = req.ReasoningEnabled
	}
	if req.ReasoningBudget != nil {
		sess.ReasoningBudget = req.ReasoningBudget
	}
	if req.ShowReasoning != nil {
		sess.ShowReasoning = *req.ShowReasoning
	}
	if req.ContextMessageLimit != nil {
		sess.ContextMessageLimit = *req.ContextMessageLimit
		s.history.Invalidate(ctx, sess.ID)
	}
	if req.Archived != nil {
		sess.Archived = *req.Archived
	}
	if req.DefaultEnabledMCPIDs != nil {
		sess.DefaultEnabledMCPIDs = model.StringList(req.DefaultEnabledMCPIDs)
	}
	if req.Summary != nil {
		sess.Summary = *req.Summary
	}
	if err := s.repo.Chat.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return sess, nil
}

// DeleteSession 软删除会话
func (s *Service) DeleteSession(ctx context.Context, userID, id string) error {
	if _, err := s.GetSession(ctx, userID, id); err != nil {
		return err
	}
	if _, err := s.repo.Chat.SoftDeleteSessions(ctx, userID, []string{id}, model.Now()); err != nil {
		return err
	}
	s.history.Invalidate(ctx, id)
	return nil
}

// BulkDeleteSessions 批量软删除，返回删除数量
func (s *Service) BulkDeleteSessions(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.repo.Chat.SoftDeleteSessions(ctx, userID, ids, model.Now())
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.history.Invalidate(ctx, id)
	}
	return n, nil
}

// CopySession 复制会话及消息，prefix 为 "Copy" 或 "Branch"
func (s *Service) CopySession(ctx context.Context, userID, id, prefix string) (*model.ChatSession, error) {
	src, err := s.GetSession(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	title := prefix + " - " + src.Title
	if r := []rune(title); len(r) > 120 {
		title = string(r[:120])
	}
	dst := &model.ChatSession{
		UserID:               userID,
		Title:                title,
		RuntimeProfileID:     src.RuntimeProfileID,
		RoleID:               src.RoleID,
		BackgroundPrompt:     src.BackgroundPrompt,
		ReasoningEnabled:     src.ReasoningEnabled,
		ReasoningBudget:      src.ReasoningBudget,
		ShowReasoning:        src.ShowReasoning,
		ContextMessageLimit:  src.ContextMessageLimit,
		DefaultEnabledMCPIDs: src.DefaultEnabledMCPIDs,
		Summary:              src.Summary,
	}
	if err := s.repo.Chat.CopySession(ctx, dst, src.ID); err != nil {
		return nil, fmt.Errorf("copy session: %w", err)
	}
	return dst, nil
}

// AddMessage 新增消息并刷新会话时间
func (s *Service) AddMessage(ctx context.Context, userID, sessionID string, req *AddMessageRequest) (*model.ChatMessage, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	role := req.Role
	if role == "" {
		role = model.MessageRoleUser
	}
	return s.SaveMessage(ctx, &model.ChatMessage{SessionID: sessionID, Role: role, Content: req.Content})
}

// SaveMessage 写入消息，调用方需已校验会话归属
func (s *Service) SaveMessage(ctx context.Context, m *model.ChatMessage) (*model.ChatMessage, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = model.Now()
	}
	if err := s.repo.Chat.CreateMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if err := s.repo.Chat.TouchSession(ctx, m.SessionID, m.CreatedAt); err != nil {
		s.log.Warn("touch session failed", zap.String("session_id", m.SessionID), zap.Error(err))
	}
	s.history.Invalidate(ctx, m.SessionID)
	return m, nil
}

// ListMessages 按时间正序列出消息
func (s *Service) ListMessages(ctx context.Context, userID, sessionID string) ([]*model.ChatMessage, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.repo.Chat.ListMessages(ctx, sessionID)
}

// DeleteMessages 删除会话中的消息，返回删除数量
func (s *Service) DeleteMessages(ctx context.Context, userID, sessionID string, ids []string) (int64, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.repo.Chat.DeleteMessages(ctx, sessionID, ids)
	if err != nil {
		return 0, err
	}
	if n == 0 && len(ids) == 1 {
		return 0, apperr.ErrMessageNotFound
	}
	s.history.Invalidate(ctx, sessionID)
	return n, nil
}

// GetMessage 获取用户可见的单条消息
func (s *Service) GetMessage(ctx context.Context, userID, id string) (*model.ChatMessage, error) {
	m, err := s.repo.Chat.GetMessageForUser(ctx, userID, id)
	if repository.IsNotFound(err) {
		return nil, apperr.ErrChatMessageMissing
	}
	return m, err
}

// History 会话最近 limit 条消息，优先读缓存
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]*schema.Message, error) {
	return s.history.GetHistory(ctx, sessionID, limit, func(ctx context.Context, limit int) ([]*schema.Message, error) {
		rows, err := s.repo.Chat.RecentMessages(ctx, sessionID, limit)
		if err != nil {
			return nil, err
		}
		out := make([]*schema.Message, 0, len(rows))
		for _, r := range rows {
			out = append(out, toSchema(r))
		}
		return out, nil
	})
}

func toSchema(m *model.ChatMessage) *schema.Message {
	switch m.Role {
	case model.MessageRoleAssistant:
		return schema.AssistantMessage(m.Content, nil)
	case model.MessageRoleSystem:
		return schema.SystemMessage(m.Content)
	default:
		return schema.UserMessage(m.Content)
	}
}
