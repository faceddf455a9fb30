// Package agent 提供问答 Agent：组装会话历史、附件、知识库与 MCP 上下文并调用模型
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/logger"
	"github.com/ashwinyue/family-health/internal/model"
	"github.com/ashwinyue/family-health/internal/service/chat"
	"github.com/ashwinyue/family-health/internal/service/knowledge"
	"github.com/ashwinyue/family-health/internal/service/mcp"
	"github.com/ashwinyue/family-health/internal/service/registry"
	"github.com/ashwinyue/family-health/internal/service/session"
)

// ModelResolver 解析会话使用的 ChatModel
type ModelResolver interface {
	ResolveLLM(ctx context.Context, userID, profileID string) (einomodel.BaseChatModel, *model.RuntimeProfile, error)
}

// Service 问答 Agent 服务
type Service struct {
	chat    *chat.Service
	kb      *knowledge.Service
	mcp     *mcp.Service
	models  ModelResolver
	streams *session.Manager
	roles   *RoleLibrary
	log     *zap.Logger
}

// NewService 创建 Agent 服务
func NewService(
	chatSvc *chat.Service,
	kb *knowledge.Service,
	mcpSvc *mcp.Service,
	models ModelResolver,
	streams *session.Manager,
	roles *RoleLibrary,
	log *zap.Logger,
) *Service {
	return &Service{
		chat:    chatSvc,
		kb:      kb,
		mcp:     mcpSvc,
		models:  models,
		streams: streams,
		roles:   roles,
		log:     logger.OrNop(log),
	}
}

// Roles 角色库
func (s *Service) Roles() *RoleLibrary {
	return s.roles
}

// QARequest 问答请求
// EnabledMCPIDs 为 nil 时使用会话默认或 Agent 绑定，空列表表示本次不调用工具
type QARequest struct {
	SessionID        string    `json:"session_id" binding:"required"`
	Query            string    `json:"query"`
	KBID             string    `json:"kb_id"`
	KBIDs            []string  `json:"kb_ids"`
	BackgroundPrompt *string   `json:"background_prompt"`
	EnabledMCPIDs    *[]string `json:"enabled_mcp_ids"`
	RuntimeProfileID string    `json:"runtime_profile_id"`
	AttachmentsIDs   []string  `json:"attachments_ids"`
}

// QAContext 本次回答使用的上下文统计
type QAContext struct {
	HistoryMessages  int      `json:"history_messages"`
	AttachmentChunks int      `json:"attachment_chunks"`
	KBChunks         int      `json:"kb_chunks"`
	EnabledMCPIDs    []string `json:"enabled_mcp_ids"`
}

// QAResult 问答结果
type QAResult struct {
	SessionID          string            `json:"session_id"`
	AssistantMessageID string            `json:"assistant_message_id"`
	AssistantAnswer    string            `json:"assistant_answer"`
	ReasoningContent   string            `json:"reasoning_content"`
	Context            QAContext         `json:"context"`
	Citations          []*knowledge.Item `json:"citations"`
	ToolWarnings       []string          `json:"tool_warnings"`
}

// turn 一次问答的准备结果
type turn struct {
	userID      string
	session     *model.ChatSession
	query       string
	messages    []*schema.Message
	chatModel   einomodel.BaseChatModel
	ctx         QAContext
	citations   []*knowledge.Item
	tools       *mcp.RouteResult
	warnings    []string
	attachments int
}

// fallbackAnswer 没有可用模型时的本地回答
func fallbackAnswer(query string, historyCount, attachmentCount, mcpCount int) string {
	return fmt.Sprintf("已收到你的问题：%s\n上下文消息数：%d，附件片段数：%d，MCP启用数：%d。\n当前为本地最小 Agent 回答链路，后续可替换为真实 LLM 调用。",
		query, historyCount, attachmentCount, mcpCount)
}

// prepare 校验请求、写入用户消息并收集上下文
func (s *Service) prepare(ctx context.Context, userID string, req *QARequest) (*turn, error) {
	sess, err := s.chat.GetSession(ctx, userID, req.SessionID)
	if err != nil {
		return nil, err
	}
	query := strings.TrimSpace(req.Query)
	if query == "" && len(req.AttachmentsIDs) == 0 {
		return nil, apperr.ErrEmptyQuery
	}

	if req.RuntimeProfileID != "" && req.RuntimeProfileID != sess.RuntimeProfileID {
		profileID := req.RuntimeProfileID
		sess, err = s.chat.UpdateSession(ctx, userID, sess.ID, &chat.UpdateSessionRequest{RuntimeProfileID: &profileID})
		if err != nil {
			return nil, err
		}
	}

	// 附件先校验，避免写入无效问题
	attachmentTexts, err := s.chat.AttachmentTexts(ctx, userID, sess.ID, req.AttachmentsIDs)
	if err != nil {
		return nil, err
	}

	if _, err := s.chat.SaveMessage(ctx, &model.ChatMessage{
		SessionID: sess.ID,
		Role:      model.MessageRoleUser,
		Content:   query,
	}); err != nil {
		return nil, err
	}
	history, err := s.chat.History(ctx, sess.ID, sess.ContextMessageLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	t := &turn{userID: userID, session: sess, query: query, attachments: len(attachmentTexts)}

	kbIDs := make([]string, 0, len(req.KBIDs)+1)
	if req.KBID != "" {
		kbIDs = append(kbIDs, req.KBID)
	}
	kbIDs = append(kbIDs, req.KBIDs...)
	if len(kbIDs) > 0 && query != "" {
		items, warnings := s.kb.RetrieveMany(ctx, userID, kbIDs, query, 0)
		t.citations = items
		t.warnings = append(t.warnings, warnings...)
	}
	if t.citations == nil {
		t.citations = []*knowledge.Item{}
	}

	mcpIDs, err := s.mcp.EffectiveServerIDs(ctx, userID, model.DefaultAgent, sess.DefaultEnabledMCPIDs, req.EnabledMCPIDs)
	if err != nil {
		return nil, err
	}
	t.tools, err = s.mcp.RouteTools(ctx, userID, mcpIDs, query)
	if err != nil {
		return nil, err
	}
	t.warnings = append(t.warnings, t.tools.Warnings...)

	t.ctx = QAContext{
		HistoryMessages:  len(history),
		AttachmentChunks: len(attachmentTexts),
		KBChunks:         len(t.citations),
		EnabledMCPIDs:    mcpIDs,
	}

	background := sess.BackgroundPrompt
	if req.BackgroundPrompt != nil && strings.TrimSpace(*req.BackgroundPrompt) != "" {
		background = *req.BackgroundPrompt
	}
	system := s.systemPrompt(sess.RoleID, background, attachmentTexts, t.citations, t.tools.Results)
	t.messages = make([]*schema.Message, 0, len(history)+1)
	if system != "" {
		t.messages = append(t.messages, schema.SystemMessage(system))
	}
	t.messages = append(t.messages, history...)

	cm, _, err := s.models.ResolveLLM(ctx, userID, sess.RuntimeProfileID)
	switch {
	case err == nil:
		t.chatModel = cm
	case errors.Is(err, registry.ErrNotConfigured):
	default:
		s.log.Warn("resolve llm failed, using local answer", zap.String("session_id", sess.ID), zap.Error(err))
	}
	return t, nil
}

// systemPrompt 角色提示词 + 背景提示词 + 上下文块
func (s *Service) systemPrompt(roleID, background string, attachments []string, items []*knowledge.Item, tools []mcp.ToolResult) string {
	var parts []string
	if roleID != "" {
		prompt, err := s.roles.GetRole(roleID)
		if err != nil {
			s.log.Warn("role prompt unavailable", zap.String("role_id", roleID), zap.Error(err))
		} else if prompt != "" {
			parts = append(parts, prompt)
		}
	}
	if b := strings.TrimSpace(background); b != "" {
		parts = append(parts, "背景信息：\n"+b)
	}
	if len(attachments) > 0 {
		var sb strings.Builder
		sb.WriteString("## 附件内容")
		for i, text := range attachments {
			fmt.Fprintf(&sb, "\n[附件%d]\n%s", i+1, text)
		}
		parts = append(parts, sb.String())
	}
	if len(items) > 0 {
		var sb strings.Builder
		sb.WriteString("## 知识库片段")
		for i, it := range items {
			fmt.Fprintf(&sb, "\n[%d] %s", i+1, it.Text)
		}
		parts = append(parts, sb.String())
	}
	if len(tools) > 0 {
		var sb strings.Builder
		sb.WriteString("## 工具结果")
		for _, r := range tools {
			fmt.Fprintf(&sb, "\n[%s] %s", r.ServerName, r.Output)
		}
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, "\n\n")
}

// reasoningOn 会话未显式关闭推理时保留推理内容
func reasoningOn(sess *model.ChatSession) bool {
	return sess.ReasoningEnabled == nil || *sess.ReasoningEnabled
}

// finish 写入助手消息并组装结果
func (s *Service) finish(ctx context.Context, t *turn, messageID, answer, reasoning string) (*QAResult, error) {
	if !reasoningOn(t.session) {
		reasoning = ""
	}
	msg := &model.ChatMessage{
		ID:               messageID,
		SessionID:        t.session.ID,
		Role:             model.MessageRoleAssistant,
		Content:          answer,
		ReasoningContent: reasoning,
		Citations:        model.JSON{"items": t.citations},
		ToolCalls:        model.JSON{"results": t.tools.Results, "warnings": t.tools.Warnings},
	}
	if _, err := s.chat.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}

	res := &QAResult{
		SessionID:          t.session.ID,
		AssistantMessageID: msg.ID,
		AssistantAnswer:    answer,
		Context:            t.ctx,
		Citations:          t.citations,
		ToolWarnings:       t.warnings,
	}
	if res.ToolWarnings == nil {
		res.ToolWarnings = []string{}
	}
	if t.session.ShowReasoning {
		res.ReasoningContent = reasoning
	}
	return res, nil
}

func (t *turn) fallback() string {
	return fallbackAnswer(t.query, t.ctx.HistoryMessages, t.attachments, len(t.ctx.EnabledMCPIDs))
}

// QA 同步问答
func (s *Service) QA(ctx context.Context, userID string, req *QARequest) (*QAResult, error) {
	t, err := s.prepare(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	answer, reasoning := t.fallback(), ""
	if t.chatModel != nil {
		out, err := t.chatModel.Generate(ctx, t.messages)
		if err != nil {
			return nil, fmt.Errorf("generate answer: %w", err)
		}
		answer, reasoning = out.Content, out.ReasoningContent
	}
	return s.finish(ctx, t, model.NewID(), answer, reasoning)
}
