package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/family-health/internal/middleware"
	"github.com/ashwinyue/family-health/internal/service/chat"
)

// MessageHandler 会话消息
type MessageHandler struct {
	base
}

// BulkMessageRequest 批量删除消息
type BulkMessageRequest struct {
	MessageIDs []string `json:"message_ids" binding:"required,min=1"`
}

// Create 新增消息
// POST /api/v1/chat/sessions/:id/messages
func (h *MessageHandler) Create(c *gin.Context) {
	var req chat.AddMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	m, err := h.svc.Chat.AddMessage(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), &req)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, m)
}

// List 消息列表，按时间升序
// GET /api/v1/chat/sessions/:id/messages
func (h *MessageHandler) List(c *gin.Context) {
	list, err := h.svc.Chat.ListMessages(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, items(list))
}

// Delete 删除单条消息
// DELETE /api/v1/chat/sessions/:id/messages/:message_id
func (h *MessageHandler) Delete(c *gin.Context) {
	n, err := h.svc.Chat.DeleteMessages(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), []string{c.Param("message_id")})
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, gin.H{"deleted": n})
}

// BulkDelete 批量删除消息
// POST /api/v1/chat/sessions/:id/messages/bulk-delete
func (h *MessageHandler) BulkDelete(c *gin.Context) {
	var req BulkMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	n, err := h.svc.Chat.DeleteMessages(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req.MessageIDs)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, gin.H{"deleted": n})
}
