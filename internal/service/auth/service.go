// Package auth 提供家庭成员认证：初始化所有者、登录锁定、刷新令牌轮换与用户管理
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/config"
	"github.com/ashwinyue/family-health/internal/logger"
	"github.com/ashwinyue/family-health/internal/model"
	"github.com/ashwinyue/family-health/internal/repository"
)

// Service 认证服务
type Service struct {
	repo   *repository.Repositories
	cfg    *config.AuthConfig
	tokens *Issuer
	log    *zap.Logger
	now    func() time.Time
}

// NewService 创建认证服务
func NewService(repo *repository.Repositories, cfg *config.AuthConfig, log *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		cfg:    cfg,
		tokens: NewIssuer(cfg.SecretKey),
		log:    logger.OrNop(log),
		now:    model.Now,
	}
}

// Meta 请求来源信息，写入审计日志
type Meta struct {
	IP        string
	UserAgent string
	TraceID   string
}

// BootstrapOwnerRequest 初始化所有者请求
type BootstrapOwnerRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=64"`
	Password    string `json:"password" binding:"required,min=8,max=128"`
	DisplayName string `json:"display_name" binding:"required,min=1,max=64"`
}

// RegisterRequest 注册请求
type RegisterRequest = BootstrapOwnerRequest

// CreateUserRequest 管理员创建用户
type CreateUserRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=64"`
	Password    string `json:"password" binding:"required,min=8,max=128"`
	DisplayName string `json:"display_name" binding:"required,min=1,max=64"`
	Role        string `json:"role" binding:"omitempty,oneof=owner admin member viewer"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username    string `json:"username" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DeviceLabel string `json:"device_label"`
}

// RefreshRequest 刷新与登出请求
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// TokenPair 令牌响应
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Role         string `json:"role,omitempty"`
	UserID       string `json:"user_id,omitempty"`
}

// UserInfo 对外的用户信息
type UserInfo struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role"`
	Status      string `json:"status,omitempty"`
}

func userInfo(u *model.User) *UserInfo {
	return &UserInfo{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName, Role: u.Role, Status: u.Status}
}

// BootstrapOwner 初始化唯一的所有者账号
func (s *Service) BootstrapOwner(ctx context.Context, req *BootstrapOwnerRequest, meta Meta) (*UserInfo, error) {
	n, err := s.repo.Auth.CountByRole(ctx, model.RoleOwner)
	if err != nil {
		return nil, fmt.Errorf("count owners: %w", err)
	}
	if n > 0 {
		return nil, apperr.ErrOwnerExists
	}
	user, err := s.createUser(ctx, req.Username, req.Password, req.DisplayName, model.RoleOwner)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, meta, "bootstrap_owner", "success", user.ID, "")
	return userInfo(user), nil
}

// Register 自助注册，角色为 member
func (s *Service) Register(ctx context.Context, req *RegisterRequest, meta Meta) (*UserInfo, error) {
	user, err := s.createUser(ctx, req.Username, req.Password, req.DisplayName, model.RoleMember)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, meta, "register", "success", user.ID, "")
	return userInfo(user), nil
}

// CreateUser 管理员创建用户
func (s *Service) CreateUser(ctx context.Context, req *CreateUserRequest, meta Meta) (*UserInfo, error) {
	role := strings.ToLower(req.Role)
	if role == "" {
		role = model.RoleMember
	}
	user, err := s.createUser(ctx, req.Username, req.Password, req.DisplayName, role)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, meta, "create_user", "success", user.ID, "")
	return userInfo(user), nil
}

func (s *Service) createUser(ctx context.Context, username, password, displayName, role string) (*model.User, error) {
	if _, err := s.repo.Auth.GetUserByUsername(ctx, username); err == nil {
		return nil, apperr.ErrUsernameExists
	} else if !repository.IsNotFound(err) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user := &model.User{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hashed),
		Role:         role,
		Status:       model.UserActive,
	}
	if err := s.repo.Auth.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login 用户登录
// 连续失败达到上限后锁定账号，锁定期内拒绝登录
func (s *Service) Login(ctx context.Context, req *LoginRequest, meta Meta) (*TokenPair, error) {
	user, err := s.repo.Auth.GetUserByUsername(ctx, req.Username)
	if repository.IsNotFound(err) {
		s.audit(ctx, meta, "login", "failed", "", "unknown user")
		return nil, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	now := s.now()
	if user.Status != model.UserActive {
		return nil, apperr.ErrUserDisabled
	}
	if user.IsLocked(now) {
		return nil, apperr.ErrUserLocked
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		user.FailedLoginAttempts++
		if user.FailedLoginAttempts >= s.cfg.LoginLockMaxAttempts {
			lock := now.Add(s.cfg.LockDuration())
			user.LockUntil = &lock
			user.FailedLoginAttempts = 0
			s.log.Warn("user locked after repeated failures", zap.String("user_id", user.ID), zap.String("trace_id", meta.TraceID))
		}
		if err := s.repo.Auth.UpdateUser(ctx, user); err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
		s.audit(ctx, meta, "login", "failed", user.ID, "bad password")
		return nil, apperr.ErrInvalidCredentials
	}

	user.FailedLoginAttempts = 0
	user.LockUntil = nil
	user.LastLoginAt = &now
	if err := s.repo.Auth.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	pair, err := s.issue(ctx, user.ID, req.DeviceLabel)
	if err != nil {
		return nil, err
	}
	pair.Role = user.Role
	pair.UserID = user.ID
	s.audit(ctx, meta, "login", "success", user.ID, "")
	return pair, nil
}

func (s *Service) issue(ctx context.Context, userID, deviceLabel string) (*TokenPair, error) {
	access, _, err := s.tokens.Issue(userID, TokenAccess, s.cfg.AccessTTL())
	if err != nil {
		return nil, err
	}
	refresh, exp, err := s.tokens.Issue(userID, TokenRefresh, s.cfg.RefreshTTL())
	if err != nil {
		return nil, err
	}
	sess := &model.UserSession{
		UserID:           userID,
		RefreshTokenHash: HashToken(refresh),
		DeviceLabel:      deviceLabel,
		ExpiresAt:        exp.UTC(),
	}
	if err := s.repo.Auth.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

// Refresh 轮换刷新令牌
// 旧会话以条件更新吊销，并发的第二次使用会失败
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta Meta) (*TokenPair, error) {
	claims, err := s.tokens.Parse(refreshToken)
	if err != nil || claims.Type != TokenRefresh {
		return nil, apperr.ErrInvalidRefresh
	}

	now := s.now()
	sess, err := s.repo.Auth.FindActiveSession(ctx, claims.Subject, HashToken(refreshToken), now)
	if repository.IsNotFound(err) {
		s.audit(ctx, meta, "refresh", "failed", claims.Subject, "")
		return nil, apperr.ErrInvalidRefresh
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}

	revoked, err := s.repo.Auth.RevokeSession(ctx, sess.ID, now)
	if err != nil {
		return nil, fmt.Errorf("revoke session: %w", err)
	}
	if !revoked {
		s.audit(ctx, meta, "refresh", "failed", claims.Subject, "already rotated")
		return nil, apperr.ErrInvalidRefresh
	}

	pair, err := s.issue(ctx, claims.Subject, sess.DeviceLabel)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, meta, "refresh", "success", claims.Subject, "")
	return pair, nil
}

// Logout 吊销当前用户的刷新会话，可重复调用
func (s *Service) Logout(ctx context.Context, userID, refreshToken string, meta Meta) error {
	if _, err := s.repo.Auth.RevokeByHash(ctx, userID, HashToken(refreshToken), s.now()); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.audit(ctx, meta, "logout", "success", userID, "")
	return nil
}

// Authenticate 校验访问令牌并返回用户
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*model.User, error) {
	claims, err := s.tokens.Parse(accessToken)
	if err != nil {
		return nil, apperr.ErrInvalidToken
	}
	if claims.Type != TokenAccess {
		return nil, apperr.ErrTokenType
	}
	user, err := s.repo.Auth.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.Status != model.UserActive {
		return nil, apperr.ErrUserNotFound
	}
	return user, nil
}

// ListUsers 列出用户
func (s *Service) ListUsers(ctx context.Context) ([]*UserInfo, error) {
	users, err := s.repo.Auth.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*UserInfo, 0, len(users))
	for _, u := range users {
		out = append(out, userInfo(u))
	}
	return out, nil
}

// UpdateRole 修改用户角色
func (s *Service) UpdateRole(ctx context.Context, userID, role string, meta Meta) (*UserInfo, error) {
	role = strings.ToLower(role)
	switch role {
	case model.RoleOwner, model.RoleAdmin, model.RoleMember, model.RoleViewer:
	default:
		return nil, apperr.New(apperr.CodeInvalidParams, "Invalid role")
	}
	return s.updateUser(ctx, userID, meta, "update_role", func(u *model.User) { u.Role = role })
}

// UpdateStatus 启用或禁用用户，禁用时吊销其全部会话
func (s *Service) UpdateStatus(ctx context.Context, userID, status string, meta Meta) (*UserInfo, error) {
	switch status {
	case model.UserActive, model.UserDisabled:
	default:
		return nil, apperr.New(apperr.CodeInvalidParams, "Invalid status")
	}
	info, err := s.updateUser(ctx, userID, meta, "update_status", func(u *model.User) { u.Status = status })
	if err != nil {
		return nil, err
	}
	if status == model.UserDisabled {
		if err := s.repo.Auth.RevokeAllForUser(ctx, userID, s.now()); err != nil {
			return nil, fmt.Errorf("revoke sessions: %w", err)
		}
	}
	return info, nil
}

func (s *Service) updateUser(ctx context.Context, userID string, meta Meta, action string, mutate func(*model.User)) (*UserInfo, error) {
	user, err := s.repo.Auth.GetUserByID(ctx, userID)
	if repository.IsNotFound(err) {
		return nil, apperr.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	mutate(user)
	if err := s.repo.Auth.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	s.audit(ctx, meta, action, "success", user.ID, "")
	return userInfo(user), nil
}

// audit 写审计日志，失败只记录警告
func (s *Service) audit(ctx context.Context, meta Meta, action, result, userID, detail string) {
	entry := &model.AuthAuditLog{
		UserID:    userID,
		Action:    action,
		Result:    result,
		Detail:    detail,
		IPAddr:    meta.IP,
		UserAgent: meta.UserAgent,
		TraceID:   meta.TraceID,
	}
	if err := s.repo.Auth.CreateAudit(ctx, entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}
