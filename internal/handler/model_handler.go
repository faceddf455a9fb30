package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/family-health/internal/middleware"
	"github.com/ashwinyue/family-health/internal/service/registry"
)

// ModelHandler 模型供应商、目录与运行配置
type ModelHandler struct {
	base
}

// CatalogQuery 目录筛选
type CatalogQuery struct {
	ProviderID string `form:"provider_id"`
	ModelType  string `form:"model_type" binding:"omitempty,oneof=llm embedding reranker"`
}

// CreateProvider 创建供应商
// POST /api/v1/model-providers
func (h *ModelHandler) CreateProvider(c *gin.Context) {
	var req registry.ProviderCreateRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.svc.Registry.CreateProvider(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, p)
}

// ListProviders 供应商列表
// GET /api/v1/model-providers
func (h *ModelHandler) ListProviders(c *gin.Context) {
	list, err := h.svc.Registry.ListProviders(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, items(list))
}

// Presets 供应商预设
// GET /api/v1/model-provider-presets
func (h *ModelHandler) Presets(c *gin.Context) {
	Success(c, items(registry.Presets()))
}

// UpdateProvider 更新供应商
// PATCH /api/v1/model-providers/:id
func (h *ModelHandler) UpdateProvider(c *gin.Context) {
	var req registry.ProviderUpdateRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.svc.Registry.UpdateProvider(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), &req)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, p)
}

// DeleteProvider 删除供应商
// DELETE /api/v1/model-providers/:id
func (h *ModelHandler) DeleteProvider(c *gin.Context) {
	if err := h.svc.Registry.DeleteProvider(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		h.Error(c, err)
		return
	}
	Success(c, gin.H{"deleted": true})
}

// RefreshModels 刷新模型目录
// POST /api/v1/model-providers/:id/refresh-models
func (h *ModelHandler) RefreshModels(c *gin.Context) {
	var req registry.RefreshModelsRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	list, err := h.svc.Registry.RefreshModels(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req.ManualModels)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, items(list))
}

// ListCatalog 模型目录
// GET /api/v1/model-catalog
func (h *ModelHandler) ListCatalog(c *gin.Context) {
	var q CatalogQuery
	if !bindQuery(c, &q) {
		return
	}
	list, err := h.svc.Registry.ListCatalog(c.Request.Context(), middleware.GetUserID(c), q.ProviderID, q.ModelType)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, items(list))
}

// CreateProfile 创建运行配置
// POST /api/v1/runtime-profiles
func (h *ModelHandler) CreateProfile(c *gin.Context) {
	var req registry.ProfileRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.svc.Registry.CreateProfile(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, p)
}

// UpdateProfile 更新运行配置
// PATCH /api/v1/runtime-profiles/:id
func (h *ModelHandler) UpdateProfile(c *gin.Context) {
	var req registry.ProfileRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.svc.Registry.UpdateProfile(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), &req)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, p)
}

// ListProfiles 运行配置列表
// GET /api/v1/runtime-profiles
func (h *ModelHandler) ListProfiles(c *gin.Context) {
	list, err := h.svc.Registry.ListProfiles(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, items(list))
}

// DeleteProfile 删除运行配置
// DELETE /api/v1/runtime-profiles/:id
func (h *ModelHandler) DeleteProfile(c *gin.Context) {
	if err := h.svc.Registry.DeleteProfile(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		h.Error(c, err)
		return
	}
	Success(c, gin.H{"deleted": true})
}
