package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SystemHandler 系统处理器
type SystemHandler struct {
	base
}

// Health 健康检查，不需要登录
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Info 服务信息
// GET /api/v1/system/info
func (h *SystemHandler) Info(c *gin.Context) {
	cfg := h.svc.Config
	Success(c, gin.H{
		"name":           cfg.App.Name,
		"version":        cfg.App.Version,
		"storage":        cfg.Storage.Type,
		"redis_enabled":  cfg.Redis.Enabled,
		"live_discovery": cfg.Registry.LiveDiscovery,
	})
}
