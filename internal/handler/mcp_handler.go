package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/family-health/internal/middleware"
	"github.com/ashwinyue/family-health/internal/service/mcp"
)

// MCPHandler MCP 服务与 Agent 绑定
type MCPHandler struct {
	base
}

// BindingRequest 替换绑定
type BindingRequest struct {
	MCPServerIDs []string `json:"mcp_server_ids"`
}

// CreateServer 创建 MCP 服务
// POST /api/v1/mcp/servers
func (h *MCPHandler) CreateServer(c *gin.Context) {
	var req mcp.CreateServerRequest
	if !bindJSON(c, &req) {
		return
	}
	s, err := h.svc.MCP.CreateServer(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, s)
}

// ListServers MCP 服务列表
// GET /api/v1/mcp/servers
func (h *MCPHandler) ListServers(c *gin.Context) {
	list, err := h.svc.MCP.ListServers(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, items(list))
}

// UpdateServer 更新 MCP 服务
// PATCH /api/v1/mcp/servers/:id
func (h *MCPHandler) UpdateServer(c *gin.Context) {
	var req mcp.UpdateServerRequest
	if !bindJSON(c, &req) {
		return
	}
	s, err := h.svc.MCP.UpdateServer(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), &req)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, s)
}

// DeleteServer 删除 MCP 服务
// DELETE /api/v1/mcp/servers/:id
func (h *MCPHandler) DeleteServer(c *gin.Context) {
	if err := h.svc.MCP.DeleteServer(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		h.Error(c, err)
		return
	}
	Success(c, gin.H{"deleted": true})
}

// Ping 连通性检查
// POST /api/v1/mcp/servers/:id/ping
func (h *MCPHandler) Ping(c *gin.Context) {
	res, err := h.svc.MCP.Ping(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, res)
}

// ReplaceBindings 替换 Agent 绑定
// PUT /api/v1/mcp/bindings/:agent
func (h *MCPHandler) ReplaceBindings(c *gin.Context) {
	var req BindingRequest
	if !bindJSON(c, &req) {
		return
	}
	list, err := h.svc.MCP.ReplaceBindings(c.Request.Context(), middleware.GetUserID(c), c.Param("agent"), req.MCPServerIDs)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, items(list))
}

// ListBindings Agent 绑定列表
// GET /api/v1/mcp/bindings/:agent
func (h *MCPHandler) ListBindings(c *gin.Context) {
	list, err := h.svc.MCP.ListBindings(c.Request.Context(), middleware.GetUserID(c), c.Param("agent"))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, items(list))
}
