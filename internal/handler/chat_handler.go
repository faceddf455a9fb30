package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/family-health/internal/middleware"
	"github.com/ashwinyue/family-health/internal/service/chat"
)

// ChatHandler 聊天会话
type ChatHandler struct {
	base
}

// BulkSessionRequest 批量操作会话
type BulkSessionRequest struct {
	SessionIDs       []string `json:"session_ids"`
	IncludeReasoning *bool    `json:"include_reasoning"`
}

// ExportQuery 单会话导出参数
type ExportQuery struct {
	Format           string `form:"fmt"`
	IncludeReasoning *bool  `form:"include_reasoning"`
}

// CreateSession 创建会话
// POST /api/v1/chat/sessions
func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req chat.CreateSessionRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	s, err := h.svc.Chat.CreateSession(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, s)
}

// ListSessions 会话列表
// GET /api/v1/chat/sessions
func (h *ChatHandler) ListSessions(c *gin.Context) {
	var req chat.ListSessionsRequest
	if !bindQuery(c, &req) {
		return
	}
	list, err := h.svc.Chat.ListSessions(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, list)
}

// GetSession 会话详情
// GET /api/v1/chat/sessions/:id
func (h *ChatHandler) GetSession(c *gin.Context) {
	s, err := h.svc.Chat.GetSession(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, s)
}

// UpdateSession 部分更新会话
// PATCH /api/v1/chat/sessions/:id
func (h *ChatHandler) UpdateSession(c *gin.Context) {
	var req chat.UpdateSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	s, err := h.svc.Chat.UpdateSession(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), &req)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, s)
}

// DeleteSession 软删除会话
// DELETE /api/v1/chat/sessions/:id
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	if err := h.svc.Chat.DeleteSession(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		h.Error(c, err)
		return
	}
	Success(c, gin.H{"deleted": true})
}

// CopySession 复制会话
// POST /api/v1/chat/sessions/:id/copy
func (h *ChatHandler) CopySession(c *gin.Context) {
	h.copy(c, "Copy")
}

// BranchSession 从会话创建分支
// POST /api/v1/chat/sessions/:id/branch
func (h *ChatHandler) BranchSession(c *gin.Context) {
	h.copy(c, "Branch")
}

func (h *ChatHandler) copy(c *gin.Context, prefix string) {
	s, err := h.svc.Chat.CopySession(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), prefix)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, s)
}

// ExportSession 导出 Markdown
// GET /api/v1/chat/sessions/:id/export
func (h *ChatHandler) ExportSession(c *gin.Context) {
	var q ExportQuery
	if !bindQuery(c, &q) {
		return
	}
	if q.Format == "" {
		q.Format = chat.FormatMarkdown
	}
	data, err := h.svc.Chat.ExportMarkdown(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), q.Format, q.IncludeReasoning == nil || *q.IncludeReasoning)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.md"`, c.Param("id")))
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", data)
}

// BulkExport 批量导出为 zip
// POST /api/v1/chat/sessions/bulk-export
func (h *ChatHandler) BulkExport(c *gin.Context) {
	var req BulkSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	data, err := h.svc.Chat.BulkExportZip(c.Request.Context(), middleware.GetUserID(c), req.SessionIDs, req.IncludeReasoning == nil || *req.IncludeReasoning)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="chat-sessions-export.zip"`)
	c.Data(http.StatusOK, "application/zip", data)
}

// BulkDelete 批量删除会话
// POST /api/v1/chat/sessions/bulk-delete
func (h *ChatHandler) BulkDelete(c *gin.Context) {
	var req BulkSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	n, err := h.svc.Chat.BulkDeleteSessions(c.Request.Context(), middleware.GetUserID(c), req.SessionIDs)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, gin.H{"deleted": n})
}

// UploadAttachment 上传附件
// POST /api/v1/chat/sessions/:id/attachments
func (h *ChatHandler) UploadAttachment(c *gin.Context) {
	up, ok := readUpload(c)
	if !ok {
		return
	}
	att, err := h.svc.Chat.AddAttachment(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), &chat.UploadAttachment{
		FileName:    up.Name,
		ContentType: up.ContentType,
		Data:        up.Data,
		KBMode:      c.PostForm("kb_mode"),
		KBID:        c.PostForm("kb_id"),
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, att)
}

// ListAttachments 附件列表
// GET /api/v1/chat/sessions/:id/attachments
func (h *ChatHandler) ListAttachments(c *gin.Context) {
	list, err := h.svc.Chat.ListAttachments(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, items(list))
}
