// Package mcp 管理用户配置的 MCP 服务、Agent 绑定与工具路由
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/config"
	"github.com/ashwinyue/family-health/internal/crypto"
	"github.com/ashwinyue/family-health/internal/logger"
	"github.com/ashwinyue/family-health/internal/model"
	"github.com/ashwinyue/family-health/internal/repository"
)

// 超时范围（毫秒）
const (
	DefaultTimeoutMs = 8000
	MinTimeoutMs     = 100
	MaxTimeoutMs     = 60000
)

// Service MCP 服务管理
type Service struct {
	repo *repository.Repositories
	box  *crypto.Box
	cfg  *config.MCPConfig
	log  *zap.Logger

	// HTTPClient 用于连通性检查与工具调用，超时由 context 控制
	HTTPClient *http.Client
}

// NewService 创建 MCP 服务
func NewService(repo *repository.Repositories, box *crypto.Box, cfg *config.MCPConfig, log *zap.Logger) *Service {
	return &Service{
		repo:       repo,
		box:        box,
		cfg:        cfg,
		log:        logger.OrNop(log),
		HTTPClient: &http.Client{},
	}
}

// CreateServerRequest 创建 MCP 服务请求
type CreateServerRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=100"`
	Endpoint    string `json:"endpoint" binding:"required,min=1,max=500"`
	AuthType    string `json:"auth_type" binding:"omitempty,oneof=none bearer api_key"`
	AuthPayload string `json:"auth_payload" binding:"max=2000"`
	Enabled     *bool  `json:"enabled"`
	TimeoutMs   *int   `json:"timeout_ms" binding:"omitempty,min=100,max=60000"`
}

// UpdateServerRequest 更新 MCP 服务请求，nil 表示不修改
type UpdateServerRequest struct {
	Endpoint    *string `json:"endpoint" binding:"omitempty,min=1,max=500"`
	AuthType    *string `json:"auth_type" binding:"omitempty,oneof=none bearer api_key"`
	AuthPayload *string `json:"auth_payload" binding:"omitempty,max=2000"`
	Enabled     *bool   `json:"enabled"`
	TimeoutMs   *int    `json:"timeout_ms" binding:"omitempty,min=100,max=60000"`
}

// PingResult 连通性检查结果
type PingResult struct {
	ServerID  string `json:"server_id"`
	Reachable bool   `json:"reachable"`
	Reason    string `json:"reason"`
}

func normalizeAuthType(t string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "", model.MCPAuthNone:
		return model.MCPAuthNone, nil
	case model.MCPAuthBearer:
		return model.MCPAuthBearer, nil
	case model.MCPAuthAPIKey:
		return model.MCPAuthAPIKey, nil
	default:
		return "", apperr.New(apperr.CodeInvalidParams, "Invalid parameters: unsupported auth_type")
	}
}

func checkTimeout(ms int) error {
	if ms < MinTimeoutMs || ms > MaxTimeoutMs {
		return apperr.New(apperr.CodeInvalidParams, "Invalid parameters: timeout_ms out of range")
	}
	return nil
}

func (s *Service) seal(payload string) (string, error) {
	if payload == "" {
		return "", nil
	}
	return s.box.Seal(payload)
}

// CreateServer 创建 MCP 服务
func (s *Service) CreateServer(ctx context.Context, userID string, req *CreateServerRequest) (*model.MCPServer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.New(apperr.CodeInvalidParams, "Invalid parameters: name is empty")
	}
	if _, err := s.repo.MCP.GetServerByName(ctx, userID, name); err == nil {
		return nil, apperr.ErrMCPNameExists
	} else if !repository.IsNotFound(err) {
		return nil, err
	}

	authType, err := normalizeAuthType(req.AuthType)
	if err != nil {
		return nil, err
	}
	timeout := DefaultTimeoutMs
	if req.TimeoutMs != nil {
		timeout = *req.TimeoutMs
	}
	if err := checkTimeout(timeout); err != nil {
		return nil, err
	}
	sealed, err := s.seal(req.AuthPayload)
	if err != nil {
		return nil, fmt.Errorf("seal auth payload: %w", err)
	}

	server := &model.MCPServer{
		UserID:               userID,
		Name:                 name,
		Endpoint:             strings.TrimSpace(req.Endpoint),
		AuthType:             authType,
		AuthPayloadEncrypted: sealed,
		Enabled:              req.Enabled == nil || *req.Enabled,
		TimeoutMs:            timeout,
	}
	if err := s.repo.MCP.CreateServer(ctx, server); err != nil {
		return nil, fmt.Errorf("create mcp server: %w", err)
	}
	s.log.Info("mcp server created", zap.String("server_id", server.ID), zap.String("name", name))
	return server, nil
}

// GetServer 获取 MCP 服务
func (s *Service) GetServer(ctx context.Context, userID, id string) (*model.MCPServer, error) {
	server, err := s.repo.MCP.GetServer(ctx, userID, id)
	if repository.IsNotFound(err) {
		return nil, apperr.ErrMCPNotFound
	}
	return server, err
}

// ListServers 列出 MCP 服务
func (s *Service) ListServers(ctx context.Context, userID string) ([]*model.MCPServer, error) {
	return s.repo.MCP.ListServers(ctx, userID)
}

// UpdateServer 更新 MCP 服务
func (s *Service) UpdateServer(ctx context.Context, userID, id string, req *UpdateServerRequest) (*model.MCPServer, error) {
	server, err := s.GetServer(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if req.Endpoint != nil {
		server.Endpoint = strings.TrimSpace(*req.Endpoint)
	}
	if req.AuthType != nil {
		t, err := normalizeAuthType(*req.AuthType)
		if err != nil {
			return nil, err
		}
		server.AuthType = t
	}
	if req.AuthPayload != nil {
		sealed, err := s.seal(*req.AuthPayload)
		if err != nil {
			return nil, fmt.Errorf("seal auth payload: %w", err)
		}
		server.AuthPayloadEncrypted = sealed
	}
	if req.Enabled != nil {
		server.Enabled = *req.Enabled
	}
	if req.TimeoutMs != nil {
		if err := checkTimeout(*req.TimeoutMs); err != nil {
			return nil, err
		}
		server.TimeoutMs = *req.TimeoutMs
	}
	if err := s.repo.MCP.SaveServer(ctx, server); err != nil {
		return nil, fmt.Errorf("save mcp server: %w", err)
	}
	return server, nil
}

// DeleteServer 删除 MCP 服务及其绑定
func (s *Service) DeleteServer(ctx context.Context, userID, id string) error {
	if _, err := s.GetServer(ctx, userID, id); err != nil {
		return err
	}
	return s.repo.MCP.DeleteServer(ctx, id)
}

// Ping 检查服务连通性
func (s *Service) Ping(ctx context.Context, userID, id string) (*PingResult, error) {
	server, err := s.GetServer(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	res := &PingResult{ServerID: server.ID}
	endpoint := server.Endpoint
	switch {
	case strings.HasPrefix(endpoint, "mock://fail"):
		res.Reason = "simulated failure"
	case strings.HasPrefix(endpoint, "mock://"):
		res.Reachable, res.Reason = true, "ok"
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		res.Reachable, res.Reason = s.pingHTTP(ctx, server)
	default:
		res.Reason = "unsupported endpoint"
	}
	return res, nil
}

func (s *Service) pingHTTP(ctx context.Context, server *model.MCPServer) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, server.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.Endpoint, nil)
	if err != nil {
		return false, err.Error()
	}
	s.applyAuth(req, server)
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return true, "ok"
}

// applyAuth 按认证方式设置请求头，解密失败时不带认证信息
func (s *Service) applyAuth(req *http.Request, server *model.MCPServer) {
	if server.AuthType == model.MCPAuthNone || server.AuthPayloadEncrypted == "" {
		return
	}
	payload, err := s.box.Open(server.AuthPayloadEncrypted)
	if err != nil {
		s.log.Warn("open mcp auth payload failed", zap.String("server_id", server.ID), zap.Error(err))
		return
	}
	switch server.AuthType {
	case model.MCPAuthBearer:
		req.Header.Set("Authorization", "Bearer "+payload)
	case model.MCPAuthAPIKey:
		req.Header.Set("X-API-Key", payload)
	}
}

// ReplaceBindings 替换 Agent 绑定的 MCP 服务，优先级为传入顺序
func (s *Service) ReplaceBindings(ctx context.Context, userID, agent string, serverIDs []string) ([]*model.AgentMCPBinding, error) {
	ids := dedupe(serverIDs)
	found, err := s.repo.MCP.GetServers(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(found))
	for _, srv := range found {
		known[srv.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			return nil, apperr.New(apperr.ErrMCPInvalidBinds.Code, "MCP server not found: "+id)
		}
	}
	return s.repo.MCP.ReplaceBindings(ctx, userID, agentOrDefault(agent), ids)
}

// ListBindings 列出 Agent 绑定
func (s *Service) ListBindings(ctx context.Context, userID, agent string) ([]*model.AgentMCPBinding, error) {
	return s.repo.MCP.ListBindings(ctx, userID, agentOrDefault(agent))
}

// EffectiveServerIDs 计算本次调用启用的服务
// 优先级：请求覆盖（包括空列表）> 会话默认（非空）> Agent 绑定
func (s *Service) EffectiveServerIDs(ctx context.Context, userID, agent string, sessionDefaults []string, override *[]string) ([]string, error) {
	if override != nil {
		return dedupe(*override), nil
	}
	if len(sessionDefaults) > 0 {
		return dedupe(sessionDefaults), nil
	}
	bindings, err := s.ListBindings(ctx, userID, agent)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(bindings))
	for _, b := range bindings {
		if b.Enabled {
			ids = append(ids, b.MCPServerID)
		}
	}
	return dedupe(ids), nil
}

func agentOrDefault(agent string) string {
	if a := strings.TrimSpace(agent); a != "" {
		return a
	}
	return model.DefaultAgent
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
