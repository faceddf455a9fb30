package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/config"
	"github.com/ashwinyue/family-health/internal/crypto"
	"github.com/ashwinyue/family-health/internal/extract"
	"github.com/ashwinyue/family-health/internal/logger"
	"github.com/ashwinyue/family-health/internal/repository"
	"github.com/ashwinyue/family-health/internal/service/agent"
	"github.com/ashwinyue/family-health/internal/service/auth"
	"github.com/ashwinyue/family-health/internal/service/chat"
	"github.com/ashwinyue/family-health/internal/service/desensitization"
	"github.com/ashwinyue/family-health/internal/service/export"
	"github.com/ashwinyue/family-health/internal/service/file"
	"github.com/ashwinyue/family-health/internal/service/knowledge"
	"github.com/ashwinyue/family-health/internal/service/mcp"
	"github.com/ashwinyue/family-health/internal/service/registry"
	"github.com/ashwinyue/family-health/internal/service/session"
)

// Services 服务集合
type Services struct {
	Auth            *auth.Service
	Registry        *registry.Service
	Desensitization *desensitization.Service
	Knowledge       *knowledge.Service
	Chat            *chat.Service
	MCP             *mcp.Service
	Agent           *agent.Service
	Export          *export.Service

	Config     *config.Config
	SessionMgr *session.Manager
	Storage    file.Storage
	Extractor  *extract.Extractor
}

// NewServices 创建所有服务
// redisClient 为 nil 时历史缓存退化为进程内存
func NewServices(ctx context.Context, repo *repository.Repositories, cfg *config.Config, redisClient *redis.Client, log *zap.Logger) (*Services, error) {
	log = logger.OrNop(log)

	box, err := crypto.NewBox(cfg.Auth.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("init secret box: %w", err)
	}
	storage, err := file.New(ctx, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	extractor := extract.New()
	sessionMgr := session.NewManager(redisClient, log.Named("session"))

	registrySvc := registry.NewService(repo, box, &cfg.Registry, log.Named("registry"))
	desensSvc := desensitization.NewService(repo, box, log.Named("desensitization"))
	kbSvc := knowledge.NewService(repo, storage, &cfg.Storage, desensSvc, registrySvc, extractor, log.Named("knowledge"))
	chatSvc := chat.NewService(repo, sessionMgr, storage, &cfg.Storage, desensSvc, kbSvc, extractor, log.Named("chat"))
	mcpSvc := mcp.NewService(repo, box, &cfg.MCP, log.Named("mcp"))
	agentSvc := agent.NewService(chatSvc, kbSvc, mcpSvc, registrySvc, sessionMgr, agent.NewRoleLibrary(cfg.Agent.RolesDir), log.Named("agent"))

	return &Services{
		Auth:            auth.NewService(repo, &cfg.Auth, log.Named("auth")),
		Registry:        registrySvc,
		Desensitization: desensSvc,
		Knowledge:       kbSvc,
		Chat:            chatSvc,
		MCP:             mcpSvc,
		Agent:           agentSvc,
		Export:          export.NewService(repo, storage, &cfg.Storage, &cfg.Export, log.Named("export")),

		Config:     cfg,
		SessionMgr: sessionMgr,
		Storage:    storage,
		Extractor:  extractor,
	}, nil
}

// Start 启动后台任务
func (s *Services) Start(ctx context.Context) {
	s.Export.Start(ctx)
}

// Stop 停止后台任务
func (s *Services) Stop() {
	s.Export.Stop()
}
