// Package knowledge 知识库管理、文档入库与检索
package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/config"
	"github.com/ashwinyue/family-health/internal/extract"
	"github.com/ashwinyue/family-health/internal/logger"
	"github.com/ashwinyue/family-health/internal/model"
	"github.com/ashwinyue/family-health/internal/repository"
	"github.com/ashwinyue/family-health/internal/service/desensitization"
	"github.com/ashwinyue/family-health/internal/service/file"
)

// ChatDefaultKBName 每个用户的聊天默认知识库
const ChatDefaultKBName = "Chat Default"

// 文档来源
const (
	SourceManual         = "manual"
	SourceUpload         = "upload"
	SourceChatAttachment = "chat_attachment"
)

// ModelResolver 解析 Embedding 模型与默认运行配置
type ModelResolver interface {
	ResolveEmbedder(ctx context.Context, userID, modelID string) (embedding.Embedder, error)
	DefaultProfile(ctx context.Context, userID string) (*model.RuntimeProfile, error)
}

// Service 知识库服务
type Service struct {
	repo      *repository.Repositories
	storage   file.Storage
	paths     *config.StorageConfig
	sanitizer *desensitization.Service
	models    ModelResolver
	extractor *extract.Extractor
	log       *zap.Logger
}

// NewService 创建知识库服务
func NewService(
	repo *repository.Repositories,
	storage file.Storage,
	paths *config.StorageConfig,
	sanitizer *desensitization.Service,
	models ModelResolver,
	extractor *extract.Extractor,
	log *zap.Logger,
) *Service {
	return &Service{
		repo:      repo,
		storage:   storage,
		paths:     paths,
		sanitizer: sanitizer,
		models:    models,
		extractor: extractor,
		log:       logger.OrNop(log),
	}
}

// CreateRequest 创建知识库
type CreateRequest struct {
	Name              string     `json:"name" binding:"required,min=1,max=120"`
	MemberScope       string     `json:"member_scope" binding:"max=36"`
	ChunkSize         *int       `json:"chunk_size" binding:"omitempty,min=200,max=4000"`
	ChunkOverlap      *int       `json:"chunk_overlap" binding:"omitempty,min=0,max=1000"`
	TopK              *int       `json:"top_k" binding:"omitempty,min=1,max=50"`
	RerankTopN        *int       `json:"rerank_top_n" binding:"omitempty,min=1,max=20"`
	EmbeddingModelID  string     `json:"embedding_model_id"`
	RerankerModelID   string     `json:"reranker_model_id"`
	SemanticModelID   string     `json:"semantic_model_id"`
	UseGlobalDefaults *bool      `json:"use_global_defaults"`
	RetrievalStrategy string     `json:"retrieval_strategy" binding:"omitempty,oneof=keyword semantic hybrid"`
	KeywordWeight     *float64   `json:"keyword_weight" binding:"omitempty,min=0,max=1"`
	SemanticWeight    *float64   `json:"semantic_weight" binding:"omitempty,min=0,max=1"`
	RerankWeight      *float64   `json:"rerank_weight" binding:"omitempty,min=0,max=1"`
	StrategyParams    model.JSON `json:"strategy_params"`
}

// UpdateRequest 部分更新知识库
type UpdateRequest struct {
	Name              *string    `json:"name" binding:"omitempty,min=1,max=120"`
	MemberScope       *string    `json:"member_scope" binding:"omitempty,max=36"`
	ChunkSize         *int       `json:"chunk_size" binding:"omitempty,min=200,max=4000"`
	ChunkOverlap      *int       `json:"chunk_overlap" binding:"omitempty,min=0,max=1000"`
	TopK              *int       `json:"top_k" binding:"omitempty,min=1,max=50"`
	RerankTopN        *int       `json:"rerank_top_n" binding:"omitempty,min=1,max=20"`
	EmbeddingModelID  *string    `json:"embedding_model_id"`
	RerankerModelID   *string    `json:"reranker_model_id"`
	SemanticModelID   *string    `json:"semantic_model_id"`
	UseGlobalDefaults *bool      `json:"use_global_defaults"`
	RetrievalStrategy *string    `json:"retrieval_strategy" binding:"omitempty,oneof=keyword semantic hybrid"`
	KeywordWeight     *float64   `json:"keyword_weight" binding:"omitempty,min=0,max=1"`
	SemanticWeight    *float64   `json:"semantic_weight" binding:"omitempty,min=0,max=1"`
	RerankWeight      *float64   `json:"rerank_weight" binding:"omitempty,min=0,max=1"`
	StrategyParams    model.JSON `json:"strategy_params"`
	Status            *string    `json:"status" binding:"omitempty,oneof=draft building ready failed"`
}

// Defaults 知识库的全局默认值
type Defaults struct {
	EmbeddingModelID  string  `json:"embedding_model_id"`
	RerankerModelID   string  `json:"reranker_model_id"`
	SemanticModelID   string  `json:"semantic_model_id"`
	RetrievalStrategy string  `json:"retrieval_strategy"`
	KeywordWeight     float64 `json:"keyword_weight"`
	SemanticWeight    float64 `json:"semantic_weight"`
	RerankWeight      float64 `json:"rerank_weight"`
}

// Defaults 由用户默认运行配置推导知识库默认值
func (s *Service) Defaults(ctx context.Context, userID string) (*Defaults, error) {
	d := &Defaults{
		RetrievalStrategy: model.StrategyHybrid,
		KeywordWeight:     0.5,
		SemanticWeight:    0.5,
	}
	p, err := s.models.DefaultProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		d.EmbeddingModelID = p.EmbeddingModelID
		d.RerankerModelID = p.RerankerModelID
		d.SemanticModelID = p.LLMModelID
	}
	return d, nil
}

func intOr(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

func floatOr(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

// Create 创建知识库，名称在用户内唯一
func (s *Service) Create(ctx context.Context, userID string, req *CreateRequest) (*model.KnowledgeBase, error) {
	name := strings.TrimSpace(req.Name)
	if _, err := s.repo.Knowledge.GetKBByName(ctx, userID, name); err == nil {
		return nil, apperr.ErrKBNameExists
	} else if !repository.IsNotFound(err) {
		return nil, err
	}

	scope := strings.TrimSpace(req.MemberScope)
	if scope == "" {
		scope = model.ScopeGlobal
	}
	strategy := req.RetrievalStrategy
	if strategy == "" {
		strategy = model.StrategyHybrid
	}
	kb := &model.KnowledgeBase{
		UserID:            userID,
		Name:              name,
		MemberScope:       scope,
		ChunkSize:         intOr(req.ChunkSize, 1000),
		ChunkOverlap:      intOr(req.ChunkOverlap, 150),
		TopK:              intOr(req.TopK, 8),
		RerankTopN:        intOr(req.RerankTopN, 4),
		EmbeddingModelID:  req.EmbeddingModelID,
		RerankerModelID:   req.RerankerModelID,
		SemanticModelID:   req.SemanticModelID,
		UseGlobalDefaults: req.UseGlobalDefaults == nil || *req.UseGlobalDefaults,
		RetrievalStrategy: strategy,
		KeywordWeight:     floatOr(req.KeywordWeight, 0.5),
		SemanticWeight:    floatOr(req.SemanticWeight, 0.5),
		RerankWeight:      floatOr(req.RerankWeight, 0),
		StrategyParams:    req.StrategyParams,
		Status:            model.KBStatusDraft,
	}
	if kb.StrategyParams == nil {
		kb.StrategyParams = model.JSON{}
	}
	if err := s.repo.Knowledge.CreateKB(ctx, kb); err != nil {
		return nil, fmt.Errorf("create kb: %w", err)
	}
	return kb, nil
}

// List 列出知识库
func (s *Service) List(ctx context.Context, userID string) ([]*model.KnowledgeBase, error) {
	return s.repo.Knowledge.ListKBs(ctx, userID)
}

// Get 获取知识库
func (s *Service) Get(ctx context.Context, userID, id string) (*model.KnowledgeBase, error) {
	kb, err := s.repo.Knowledge.GetKB(ctx, userID, id)
	if repository.IsNotFound(err) {
		return nil, apperr.ErrKBNotFound
	}
	return kb, err
}

// Update 部分更新知识库
func (s *Service) Update(ctx context.Context, userID, id string, req *UpdateRequest) (*model.KnowledgeBase, error) {
	kb, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if other, err := s.repo.Knowledge.GetKBByName(ctx, userID, name); err == nil && other.ID != kb.ID {
			return nil, apperr.ErrKBNameExists
		}
		kb.Name = name
	}
	if req.MemberScope != nil {
		kb.MemberScope = *req.MemberScope
	}
	kb.ChunkSize = intOr(req.ChunkSize, kb.ChunkSize)
	kb.ChunkOverlap = intOr(req.ChunkOverlap, kb.ChunkOverlap)
	kb.TopK = intOr(req.TopK, kb.TopK)
	kb.RerankTopN = intOr(req.RerankTopN, kb.RerankTopN)
	if req.EmbeddingModelID != nil {
		kb.EmbeddingModelID = *req.EmbeddingModelID
	}
	if req.RerankerModelID != nil {
		kb.RerankerModelID = *req.RerankerModelID
	}
	if req.SemanticModelID != nil {
		kb.SemanticModelID = *req.SemanticModelID
	}
	if req.UseGlobalDefaults != nil {
		kb.UseGlobalDefaults = *req.UseGlobalDefaults
	}
	if req.RetrievalStrategy != nil {
		kb.RetrievalStrategy = *req.RetrievalStrategy
	}
	kb.KeywordWeight = floatOr(req.KeywordWeight, kb.KeywordWeight)
	kb.SemanticWeight = floatOr(req.SemanticWeight, kb.SemanticWeight)
	kb.RerankWeight = floatOr(req.RerankWeight, kb.RerankWeight)
	if req.StrategyParams != nil {
		kb.StrategyParams = req.StrategyParams
	}
	if req.Status != nil {
		kb.Status = *req.Status
	}
	if err := s.repo.Knowledge.SaveKB(ctx, kb); err != nil {
		return nil, fmt.Errorf("save kb: %w", err)
	}
	return kb, nil
}

// Delete 删除知识库及其文档、分块与存储文件
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	kb, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	docs, err := s.repo.Knowledge.ListDocuments(ctx, kb.ID)
	if err != nil {
		return err
	}
	for _, d := range docs {
		s.removeFiles(ctx, d)
	}
	return s.repo.Knowledge.DeleteKB(ctx, kb.ID)
}

// EnsureChatDefaultKB 获取或创建用户的聊天默认知识库
func (s *Service) EnsureChatDefaultKB(ctx context.Context, userID string) (*model.KnowledgeBase, error) {
	kb, err := s.repo.Knowledge.GetKBByName(ctx, userID, ChatDefaultKBName)
	if err == nil {
		return kb, nil
	}
	if !repository.IsNotFound(err) {
		return nil, err
	}
	kb, err = s.Create(ctx, userID, &CreateRequest{Name: ChatDefaultKBName})
	if err != nil {
		return nil, err
	}
	if err := s.repo.Knowledge.UpdateKBStatus(ctx, kb.ID, model.KBStatusReady); err != nil {
		return nil, err
	}
	kb.Status = model.KBStatusReady
	return kb, nil
}

// DocumentsResult 文档列表与统计
type DocumentsResult struct {
	Items []*model.KBDocument        `json:"items"`
	Stats *repository.DocumentStats `json:"stats"`
}

// Documents 列出知识库文档
func (s *Service) Documents(ctx context.Context, userID, kbID string) (*DocumentsResult, error) {
	kb, err := s.Get(ctx, userID, kbID)
	if err != nil {
		return nil, err
	}
	docs, err := s.repo.Knowledge.ListDocuments(ctx, kb.ID)
	if err != nil {
		return nil, err
	}
	stats, err := s.repo.Knowledge.Stats(ctx, kb.ID)
	if err != nil {
		return nil, err
	}
	return &DocumentsResult{Items: docs, Stats: stats}, nil
}

// RetryFailed 将失败文档重置为待处理，返回数量
// 待处理文档在下一次 Build 时从原始区重新提取入库
func (s *Service) RetryFailed(ctx context.Context, userID, kbID string) (int64, error) {
	kb, err := s.Get(ctx, userID, kbID)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.Knowledge.ResetFailed(ctx, kb.ID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if err := s.refreshStatus(ctx, kb); err != nil {
			return n, err
		}
	}
	return n, nil
}

// DeleteDocument 删除单个文档
func (s *Service) DeleteDocument(ctx context.Context, userID, kbID, docID string) error {
	kb, err := s.Get(ctx, userID, kbID)
	if err != nil {
		return err
	}
	doc, err := s.repo.Knowledge.GetDocument(ctx, kb.ID, docID)
	if repository.IsNotFound(err) {
		return apperr.ErrDocumentNotFound
	}
	if err != nil {
		return err
	}
	s.removeFiles(ctx, doc)
	if err := s.repo.Knowledge.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}
	return s.refreshStatus(ctx, kb)
}

// Preview 文档原文件或脱敏文本，用于文件预览
func (s *Service) Preview(ctx context.Context, userID, docID, source string) (string, string, error) {
	doc, _, err := s.repo.Knowledge.GetDocumentForUser(ctx, userID, docID)
	if repository.IsNotFound(err) {
		return "", "", apperr.ErrKBNotFound
	}
	if err != nil {
		return "", "", err
	}
	key := doc.MaskedPath
	if source == "raw" && doc.SourcePath != "" {
		key = doc.SourcePath
	}
	if key == "" {
		return "", "", apperr.ErrSourceMissing
	}
	data, err := file.ReadAll(ctx, s.storage, key)
	if err != nil {
		return "", "", apperr.ErrSourceMissing
	}
	name := key[strings.LastIndex(key, "/")+1:]
	text, err := s.extractor.Extract(ctx, name, data)
	if err != nil {
		return "", "", fmt.Errorf("extract preview: %w", err)
	}
	return name, text, nil
}

func (s *Service) removeFiles(ctx context.Context, d *model.KBDocument) {
	for _, key := range []string{d.SourcePath, d.MaskedPath} {
		if key == "" {
			continue
		}
		if err := s.storage.Delete(ctx, key); err != nil {
			s.log.Warn("remove document file failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// refreshStatus 有失败文档时为 failed，有待处理文档时为 building，否则 ready
func (s *Service) refreshStatus(ctx context.Context, kb *model.KnowledgeBase) error {
	stats, err := s.repo.Knowledge.Stats(ctx, kb.ID)
	if err != nil {
		return err
	}
	status := model.KBStatusReady
	switch {
	case stats.FailedDocuments > 0:
		status = model.KBStatusFailed
	case stats.PendingDocuments > 0:
		status = model.KBStatusBuilding
	}
	kb.Status = status
	return s.repo.Knowledge.UpdateKBStatus(ctx, kb.ID, status)
}
