package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/middleware"
)

// FilePreviewHandler 文件文本预览
type FilePreviewHandler struct {
	base
}

// PreviewQuery 文档预览来源
type PreviewQuery struct {
	Source string `form:"source" binding:"omitempty,oneof=raw sanitized"`
}

// Extract 提取上传文件的文本，不落盘
// POST /api/v1/file-preview/extract
func (h *FilePreviewHandler) Extract(c *gin.Context) {
	up, ok := readUpload(c)
	if !ok {
		return
	}
	text, err := h.svc.Extractor.Extract(c.Request.Context(), up.Name, up.Data)
	if err != nil {
		h.log.Warn("extract preview", zap.String("file", up.Name), zap.Error(err))
		Fail(c, apperr.ErrAttachmentParse)
		return
	}
	Success(c, gin.H{"file_name": up.Name, "text": text})
}

// KBDocument 知识库文档预览
// GET /api/v1/file-preview/kb-documents/:id
func (h *FilePreviewHandler) KBDocument(c *gin.Context) {
	var q PreviewQuery
	if !bindQuery(c, &q) {
		return
	}
	name, text, err := h.svc.Knowledge.Preview(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), q.Source)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, gin.H{"file_name": name, "text": text})
}

// ChatMessage 聊天消息预览
// GET /api/v1/file-preview/chat-messages/:id
func (h *FilePreviewHandler) ChatMessage(c *gin.Context) {
	m, err := h.svc.Chat.GetMessage(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, gin.H{"file_name": m.ID + ".txt", "text": m.Content})
}
