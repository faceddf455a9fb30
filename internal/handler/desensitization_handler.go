package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/family-health/internal/middleware"
	"github.com/ashwinyue/family-health/internal/service/desensitization"
)

// DesensitizationHandler 脱敏规则
type DesensitizationHandler struct {
	base
}

// RuleListQuery 规则列表参数，enabled_only 默认为 true
type RuleListQuery struct {
	EnabledOnly *bool `form:"enabled_only"`
}

// CreateRule 创建规则
// POST /api/v1/desensitization/rules
func (h *DesensitizationHandler) CreateRule(c *gin.Context) {
	var req desensitization.RuleCreateRequest
	if !bindJSON(c, &req) {
		return
	}
	rule, err := h.svc.Desensitization.CreateRule(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, rule)
}

// ListRules 规则列表
// GET /api/v1/desensitization/rules
func (h *DesensitizationHandler) ListRules(c *gin.Context) {
	var q RuleListQuery
	if !bindQuery(c, &q) {
		return
	}
	enabledOnly := q.EnabledOnly == nil || *q.EnabledOnly
	rules, err := h.svc.Desensitization.ListRules(c.Request.Context(), middleware.GetUserID(c), enabledOnly)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, items(rules))
}

// UpdateRule 更新规则
// PATCH /api/v1/desensitization/rules/:id
func (h *DesensitizationHandler) UpdateRule(c *gin.Context) {
	var req desensitization.RuleUpdateRequest
	if !bindJSON(c, &req) {
		return
	}
	rule, err := h.svc.Desensitization.UpdateRule(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), &req)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, rule)
}

// DeleteRule 删除规则
// DELETE /api/v1/desensitization/rules/:id
func (h *DesensitizationHandler) DeleteRule(c *gin.Context) {
	if err := h.svc.Desensitization.DeleteRule(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		h.Error(c, err)
		return
	}
	Success(c, gin.H{"deleted": true})
}

// Presets 内置规则模板
// GET /api/v1/desensitization/presets
func (h *DesensitizationHandler) Presets(c *gin.Context) {
	Success(c, items(h.svc.Desensitization.Presets()))
}

// Preview 预览脱敏效果与高亮区间
// POST /api/v1/desensitization/preview
func (h *DesensitizationHandler) Preview(c *gin.Context) {
	var req desensitization.PreviewRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.Desensitization.Preview(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, res)
}

// Reveal 查看某次脱敏的原文
// GET /api/v1/desensitization/mappings/:key
func (h *DesensitizationHandler) Reveal(c *gin.Context) {
	values, err := h.svc.Desensitization.Reveal(c.Request.Context(), middleware.GetUserID(c), c.Param("key"))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, gin.H{"mapping_key": c.Param("key"), "values": values})
}
