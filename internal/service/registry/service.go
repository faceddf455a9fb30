// Package registry 管理模型供应商、模型目录与运行配置，并构建 eino 组件
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/config"
	"github.com/ashwinyue/family-health/internal/crypto"
	"github.com/ashwinyue/family-health/internal/logger"
	"github.com/ashwinyue/family-health/internal/model"
	"github.com/ashwinyue/family-health/internal/repository"
	"github.com/ashwinyue/family-health/internal/service/llm"
)

// ErrNotConfigured 没有可用的模型
var ErrNotConfigured = errors.New("model not configured")

// ChatModelFactory 构建 ChatModel
type ChatModelFactory func(ctx context.Context, target llm.Target) (einomodel.BaseChatModel, error)

// EmbedderFactory 构建 Embedder
type EmbedderFactory func(ctx context.Context, target llm.Target) (embedding.Embedder, error)

// Service 模型注册服务
type Service struct {
	repo *repository.Repositories
	box  *crypto.Box
	cfg  *config.RegistryConfig
	log  *zap.Logger

	HTTPClient  *http.Client
	NewChat     ChatModelFactory
	NewEmbedder EmbedderFactory
}

// NewService 创建模型注册服务
func NewService(repo *repository.Repositories, box *crypto.Box, cfg *config.RegistryConfig, log *zap.Logger) *Service {
	timeout := time.Duration(cfg.DiscoveryTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		repo:        repo,
		box:         box,
		cfg:         cfg,
		log:         logger.OrNop(log),
		HTTPClient:  &http.Client{Timeout: timeout},
		NewChat:     llm.NewChatModel,
		NewEmbedder: llm.NewEmbedder,
	}
}

// ProviderCreateRequest 创建供应商
type ProviderCreateRequest struct {
	ProviderName string `json:"provider_name" binding:"required,min=1,max=64"`
	BaseURL      string `json:"base_url" binding:"required,min=1,max=500"`
	APIKey       string `json:"api_key" binding:"required,min=1,max=500"`
	Enabled      *bool  `json:"enabled"`
}

// ProviderUpdateRequest 更新供应商，字段为空表示不修改
type ProviderUpdateRequest struct {
	BaseURL *string `json:"base_url" binding:"omitempty,min=1,max=500"`
	APIKey  *string `json:"api_key" binding:"omitempty,min=1,max=500"`
	Enabled *bool   `json:"enabled"`
}

// RefreshModelsRequest 刷新模型目录
type RefreshModelsRequest struct {
	ManualModels []string `json:"manual_models"`
}

// ProfileRequest 运行配置的创建与更新
type ProfileRequest struct {
	Name             *string    `json:"name" binding:"omitempty,min=1,max=64"`
	LLMModelID       *string    `json:"llm_model_id"`
	EmbeddingModelID *string    `json:"embedding_model_id"`
	RerankerModelID  *string    `json:"reranker_model_id"`
	Params           model.JSON `json:"params"`
	IsDefault        *bool      `json:"is_default"`
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperr.ErrInvalidBaseURL
	}
	return nil
}

// CreateProvider 创建供应商，API Key 加密保存
func (s *Service) CreateProvider(ctx context.Context, userID string, req *ProviderCreateRequest) (*model.ModelProvider, error) {
	if err := validateBaseURL(req.BaseURL); err != nil {
		return nil, err
	}
	sealed, err := s.box.Seal(req.APIKey)
	if err != nil {
		return nil, fmt.Errorf("seal api key: %w", err)
	}
	p := &model.ModelProvider{
		UserID:          userID,
		ProviderName:    strings.TrimSpace(req.ProviderName),
		BaseURL:         strings.TrimSpace(req.BaseURL),
		APIKeyEncrypted: sealed,
		Enabled:         req.Enabled == nil || *req.Enabled,
	}
	if err := s.repo.Registry.CreateProvider(ctx, p); err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}
	return p, nil
}

// ListProviders 列出供应商
func (s *Service) ListProviders(ctx context.Context, userID string) ([]*model.ModelProvider, error) {
	return s.repo.Registry.ListProviders(ctx, userID)
}

func (s *Service) getProvider(ctx context.Context, userID, id string) (*model.ModelProvider, error) {
	p, err := s.repo.Registry.GetProvider(ctx, userID, id)
	if repository.IsNotFound(err) {
		return nil, apperr.ErrProviderNotFound
	}
	return p, err
}

// UpdateProvider 部分更新供应商
func (s *Service) UpdateProvider(ctx context.Context, userID, id string, req *ProviderUpdateRequest) (*model.ModelProvider, error) {
	p, err := s.getProvider(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if req.BaseURL != nil {
		if err := validateBaseURL(*req.BaseURL); err != nil {
			return nil, err
		}
		p.BaseURL = strings.TrimSpace(*req.BaseURL)
	}
	if req.APIKey != nil {
		sealed, err := s.box.Seal(*req.APIKey)
		if err != nil {
			return nil, fmt.Errorf("seal api key: %w", err)
		}
		p.APIKeyEncrypted = sealed
	}
	if req.Enabled != nil {
		p.Enabled = *req.Enabled
	}
	if err := s.repo.Registry.SaveProvider(ctx, p); err != nil {
		return nil, fmt.Errorf("save provider: %w", err)
	}
	return p, nil
}

// DeleteProvider 删除供应商及其模型目录
func (s *Service) DeleteProvider(ctx context.Context, userID, id string) error {
	if _, err := s.getProvider(ctx, userID, id); err != nil {
		return err
	}
	return s.repo.Registry.DeleteProvider(ctx, id)
}

// RefreshModels 重新发现并替换供应商的模型目录
// 顺序：在线发现（开启时）> 静态默认表 > 手动追加，结果为空时写入 custom-model
func (s *Service) RefreshModels(ctx context.Context, userID, id string, manual []string) ([]*model.ModelCatalog, error) {
	p, err := s.getProvider(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	var found []discovered
	if s.cfg.LiveDiscovery {
		found, err = s.discover(ctx, p)
		if err != nil {
			s.log.Warn("live model discovery failed, using defaults",
				zap.String("provider", p.ProviderName), zap.Error(err))
		}
	}
	if len(found) == 0 {
		// 复制一份，避免修改静态表
		found = append(found, staticModels[llm.NormalizeProvider(p.ProviderName)]...)
	}
	for _, name := range manual {
		if name = strings.TrimSpace(name); name != "" {
			found = append(found, discovered{name, model.ModelTypeLLM, model.JSON{}})
		}
	}
	if len(found) == 0 {
		found = []discovered{{"custom-model", model.ModelTypeLLM, model.JSON{}}}
	}

	items := make([]*model.ModelCatalog, 0, len(found))
	seen := make(map[string]bool, len(found))
	for _, d := range found {
		if seen[d.name] {
			continue
		}
		seen[d.name] = true
		items = append(items, &model.ModelCatalog{
			ProviderID:   p.ID,
			ModelName:    d.name,
			ModelType:    d.modelType,
			Capabilities: d.capabilities,
		})
	}

	now := model.Now()
	p.LastRefreshAt = &now
	if err := s.repo.Registry.ReplaceCatalog(ctx, p, items); err != nil {
		return nil, fmt.Errorf("replace catalog: %w", err)
	}
	return items, nil
}

// discover 调用 OpenAI 兼容的 /models 接口
func (s *Service) discover(ctx context.Context, p *model.ModelProvider) ([]discovered, error) {
	apiKey, err := s.box.Open(p.APIKeyEncrypted)
	if err != nil {
		return nil, fmt.Errorf("open api key: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.BaseURL, "/")+"/models", nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("models endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var out []discovered
	for _, id := range gjson.GetBytes(body, "data.#.id").Array() {
		name := id.String()
		if name == "" {
			continue
		}
		out = append(out, discovered{name, classify(name), model.JSON{}})
	}
	return out, nil
}

// classify 按名称推断模型类型
func classify(name string) string {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "rerank"):
		return model.ModelTypeReranker
	case strings.Contains(n, "embed"):
		return model.ModelTypeEmbedding
	}
	return model.ModelTypeLLM
}

// ListCatalog 列出模型目录
func (s *Service) ListCatalog(ctx context.Context, userID, providerID, modelType string) ([]*model.ModelCatalog, error) {
	return s.repo.Registry.ListCatalog(ctx, userID, providerID, modelType)
}

// clipParams 按 LLM 所属供应商裁剪参数
func (s *Service) clipParams(ctx context.Context, userID, llmModelID string, params model.JSON) model.JSON {
	if params == nil {
		return model.JSON{}
	}
	if llmModelID == "" {
		return params
	}
	_, p, err := s.repo.Registry.GetCatalogItem(ctx, userID, llmModelID)
	if err != nil {
		return params
	}
	allowed, ok := allowedParams[llm.NormalizeProvider(p.ProviderName)]
	if !ok {
		return params
	}
	out := model.JSON{}
	for k, v := range params {
		if allowed[k] {
			out[k] = v
		}
	}
	return out
}

// CreateProfile 创建运行配置
func (s *Service) CreateProfile(ctx context.Context, userID string, req *ProfileRequest) (*model.RuntimeProfile, error) {
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		return nil, apperr.New(apperr.CodeInvalidParams, "Invalid parameters: name is required")
	}
	name := strings.TrimSpace(*req.Name)
	if _, err := s.repo.Registry.GetProfileByName(ctx, userID, name); err == nil {
		return nil, apperr.ErrProfileExists
	} else if !repository.IsNotFound(err) {
		return nil, err
	}

	p := &model.RuntimeProfile{UserID: userID, Name: name}
	if req.LLMModelID != nil {
		p.LLMModelID = *req.LLMModelID
	}
	if req.EmbeddingModelID != nil {
		p.EmbeddingModelID = *req.EmbeddingModelID
	}
	if req.RerankerModelID != nil {
		p.RerankerModelID = *req.RerankerModelID
	}
	p.Params = s.clipParams(ctx, userID, p.LLMModelID, req.Params)
	p.IsDefault = req.IsDefault != nil && *req.IsDefault

	if err := s.repo.Registry.CreateProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	return p, nil
}

// GetProfile 获取运行配置
func (s *Service) GetProfile(ctx context.Context, userID, id string) (*model.RuntimeProfile, error) {
	p, err := s.repo.Registry.GetProfile(ctx, userID, id)
	if repository.IsNotFound(err) {
		return nil, apperr.ErrProfileNotFound
	}
	return p, err
}

// UpdateProfile 部分更新运行配置
func (s *Service) UpdateProfile(ctx context.Context, userID, id string, req *ProfileRequest) (*model.RuntimeProfile, error) {
	p, err := s.GetProfile(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if other, err := s.repo.Registry.GetProfileByName(ctx, userID, name); err == nil && other.ID != id {
			return nil, apperr.ErrProfileExists
		}
		p.Name = name
	}
	if req.LLMModelID != nil {
		p.LLMModelID = *req.LLMModelID
	}
	if req.EmbeddingModelID != nil {
		p.EmbeddingModelID = *req.EmbeddingModelID
	}
	if req.RerankerModelID != nil {
		p.RerankerModelID = *req.RerankerModelID
	}
	if req.Params != nil {
		p.Params = s.clipParams(ctx, userID, p.LLMModelID, req.Params)
	}
	if req.IsDefault != nil {
		p.IsDefault = *req.IsDefault
	}
	if err := s.repo.Registry.SaveProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return p, nil
}

// ListProfiles 列出运行配置
func (s *Service) ListProfiles(ctx context.Context, userID string) ([]*model.RuntimeProfile, error) {
	return s.repo.Registry.ListProfiles(ctx, userID)
}

// DeleteProfile 删除运行配置
func (s *Service) DeleteProfile(ctx context.Context, userID, id string) error {
	if _, err := s.GetProfile(ctx, userID, id); err != nil {
		return err
	}
	return s.repo.Registry.DeleteProfile(ctx, id)
}

// DefaultProfile 用户的默认运行配置，没有时返回 nil
func (s *Service) DefaultProfile(ctx context.Context, userID string) (*model.RuntimeProfile, error) {
	p, err := s.repo.Registry.GetDefaultProfile(ctx, userID)
	if repository.IsNotFound(err) {
		return nil, nil
	}
	return p, err
}

// target 由模型目录条目构建组件参数，供应商必须启用
func (s *Service) target(ctx context.Context, userID, modelID string) (llm.Target, error) {
	item, p, err := s.repo.Registry.GetCatalogItem(ctx, userID, modelID)
	if repository.IsNotFound(err) {
		return llm.Target{}, apperr.ErrModelNotFound
	}
	if err != nil {
		return llm.Target{}, err
	}
	if !p.Enabled {
		return llm.Target{}, ErrNotConfigured
	}
	key, err := s.box.Open(p.APIKeyEncrypted)
	if err != nil {
		return llm.Target{}, fmt.Errorf("open api key: %w", err)
	}
	return llm.Target{Provider: p.ProviderName, BaseURL: p.BaseURL, APIKey: key, Model: item.ModelName}, nil
}

// ResolveLLM 根据运行配置构建 ChatModel
// profileID 为空时使用默认配置，无可用模型时返回 ErrNotConfigured
func (s *Service) ResolveLLM(ctx context.Context, userID, profileID string) (einomodel.BaseChatModel, *model.RuntimeProfile, error) {
	var (
		p   *model.RuntimeProfile
		err error
	)
	if profileID != "" {
		p, err = s.GetProfile(ctx, userID, profileID)
	} else {
		p, err = s.DefaultProfile(ctx, userID)
	}
	if err != nil {
		return nil, nil, err
	}
	if p == nil || p.LLMModelID == "" {
		return nil, p, ErrNotConfigured
	}
	target, err := s.target(ctx, userID, p.LLMModelID)
	if err != nil {
		return nil, p, err
	}
	target.Params = p.Params
	cm, err := s.NewChat(ctx, target)
	if err != nil {
		return nil, p, fmt.Errorf("build chat model: %w", err)
	}
	return cm, p, nil
}

// ResolveEmbedder 根据模型 ID 构建 Embedder
func (s *Service) ResolveEmbedder(ctx context.Context, userID, modelID string) (embedding.Embedder, error) {
	if modelID == "" {
		return nil, ErrNotConfigured
	}
	target, err := s.target(ctx, userID, modelID)
	if err != nil {
		return nil, err
	}
	e, err := s.NewEmbedder(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("build embedder: %w", err)
	}
	return e, nil
}
