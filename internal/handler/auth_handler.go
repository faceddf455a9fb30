package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/family-health/internal/middleware"
	"github.com/ashwinyue/family-health/internal/service/auth"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	base
}

// UpdateRoleRequest 修改角色
type UpdateRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// UpdateStatusRequest 修改状态
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active disabled"`
}

// BootstrapOwner 初始化所有者
// POST /api/v1/auth/bootstrap-owner
func (h *AuthHandler) BootstrapOwner(c *gin.Context) {
	var req auth.BootstrapOwnerRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.svc.Auth.BootstrapOwner(c.Request.Context(), &req, meta(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, user)
}

// Register 注册成员
// POST /api/v1/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.svc.Auth.Register(c.Request.Context(), &req, meta(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, user)
}

// Login 用户登录
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if !bindJSON(c, &req) {
		return
	}
	tokens, err := h.svc.Auth.Login(c.Request.Context(), &req, meta(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, tokens)
}

// Refresh 轮换刷新令牌
// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req auth.RefreshRequest
	if !bindJSON(c, &req) {
		return
	}
	tokens, err := h.svc.Auth.Refresh(c.Request.Context(), req.RefreshToken, meta(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, tokens)
}

// Logout 登出
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	var req auth.RefreshRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.svc.Auth.Logout(c.Request.Context(), middleware.GetUserID(c), req.RefreshToken, meta(c)); err != nil {
		h.Error(c, err)
		return
	}
	Success(c, gin.H{"logged_out": true})
}

// Me 当前用户
// GET /api/v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	u, _ := middleware.GetCurrentUser(c)
	Success(c, auth.UserInfo{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName, Role: u.Role, Status: u.Status})
}

// ListUsers 用户列表
// GET /api/v1/auth/users
func (h *AuthHandler) ListUsers(c *gin.Context) {
	users, err := h.svc.Auth.ListUsers(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, items(users))
}

// CreateUser 管理员创建用户
// POST /api/v1/auth/users
func (h *AuthHandler) CreateUser(c *gin.Context) {
	var req auth.CreateUserRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.svc.Auth.CreateUser(c.Request.Context(), &req, meta(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, user)
}

// UpdateRole 修改用户角色
// PATCH /api/v1/auth/users/:id/role
func (h *AuthHandler) UpdateRole(c *gin.Context) {
	var req UpdateRoleRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.svc.Auth.UpdateRole(c.Request.Context(), c.Param("id"), req.Role, meta(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, gin.H{"id": user.ID, "role": user.Role})
}

// UpdateStatus 启用或禁用用户
// PATCH /api/v1/auth/users/:id/status
func (h *AuthHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.svc.Auth.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status, meta(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, gin.H{"id": user.ID, "status": user.Status})
}
