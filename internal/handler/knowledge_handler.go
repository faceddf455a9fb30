package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/family-health/internal/middleware"
	"github.com/ashwinyue/family-health/internal/service/knowledge"
)

// KnowledgeHandler 知识库与检索
type KnowledgeHandler struct {
	base
}

// Create 创建知识库
// POST /api/v1/knowledge-bases
func (h *KnowledgeHandler) Create(c *gin.Context) {
	var req knowledge.CreateRequest
	if !bindJSON(c, &req) {
		return
	}
	kb, err := h.svc.Knowledge.Create(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, kb)
}

// List 知识库列表
// GET /api/v1/knowledge-bases
func (h *KnowledgeHandler) List(c *gin.Context) {
	list, err := h.svc.Knowledge.List(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, items(list))
}

// Defaults 新建知识库的默认值
// GET /api/v1/knowledge-bases/defaults
func (h *KnowledgeHandler) Defaults(c *gin.Context) {
	d, err := h.svc.Knowledge.Defaults(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, d)
}

// Update 部分更新知识库
// PATCH /api/v1/knowledge-bases/:id
func (h *KnowledgeHandler) Update(c *gin.Context) {
	var req knowledge.UpdateRequest
	if !bindJSON(c, &req) {
		return
	}
	kb, err := h.svc.Knowledge.Update(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), &req)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, kb)
}

// Delete 删除知识库及其文档
// DELETE /api/v1/knowledge-bases/:id
func (h *KnowledgeHandler) Delete(c *gin.Context) {
	if err := h.svc.Knowledge.Delete(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		h.Error(c, err)
		return
	}
	Success(c, gin.H{"deleted": true})
}

// Build 追加文档构建
// POST /api/v1/knowledge-bases/:id/build
func (h *KnowledgeHandler) Build(c *gin.Context) {
	h.build(c, false)
}

// Rebuild 清空后重新构建
// POST /api/v1/knowledge-bases/:id/rebuild
func (h *KnowledgeHandler) Rebuild(c *gin.Context) {
	h.build(c, true)
}

func (h *KnowledgeHandler) build(c *gin.Context, clear bool) {
	var req knowledge.BuildRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.Knowledge.Build(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), &req, clear)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, res)
}

// RetryFailed 重置失败文档
// POST /api/v1/knowledge-bases/:id/retry-failed
func (h *KnowledgeHandler) RetryFailed(c *gin.Context) {
	n, err := h.svc.Knowledge.RetryFailed(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, gin.H{"retried": n})
}

// Documents 文档列表与统计
// GET /api/v1/knowledge-bases/:id/documents
func (h *KnowledgeHandler) Documents(c *gin.Context) {
	res, err := h.svc.Knowledge.Documents(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, res)
}

// Upload 上传文档
// POST /api/v1/knowledge-bases/:id/documents/upload
func (h *KnowledgeHandler) Upload(c *gin.Context) {
	up, ok := readUpload(c)
	if !ok {
		return
	}
	res, err := h.svc.Knowledge.Upload(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), up.Name, up.ContentType, up.Data)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, res)
}

// DeleteDocument 删除文档
// DELETE /api/v1/knowledge-bases/:id/documents/:doc_id
func (h *KnowledgeHandler) DeleteDocument(c *gin.Context) {
	err := h.svc.Knowledge.DeleteDocument(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), c.Param("doc_id"))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, gin.H{"deleted": true})
}

// Query 知识库检索
// POST /api/v1/retrieval/query
func (h *KnowledgeHandler) Query(c *gin.Context) {
	var req knowledge.RetrieveRequest
	if !bindJSON(c, &req) {
		return
	}
	list, err := h.svc.Knowledge.Retrieve(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, items(list))
}
