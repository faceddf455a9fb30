package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/logger"
	"github.com/ashwinyue/family-health/internal/service"
	"github.com/ashwinyue/family-health/internal/service/auth"
)

// base 处理器公共依赖
type base struct {
	svc *service.Services
	log *zap.Logger
}

// meta 审计用的请求来源
func meta(c *gin.Context) auth.Meta {
	return auth.Meta{IP: c.ClientIP(), UserAgent: c.Request.UserAgent(), TraceID: traceID(c)}
}

// Handlers 处理器集合
type Handlers struct {
	System          *SystemHandler
	Auth            *AuthHandler
	Model           *ModelHandler
	Desensitization *DesensitizationHandler
	Knowledge       *KnowledgeHandler
	Chat            *ChatHandler
	Message         *MessageHandler
	MCP             *MCPHandler
	Agent           *AgentHandler
	Export          *ExportHandler
	FilePreview     *FilePreviewHandler
}

// NewHandlers 创建所有处理器
func NewHandlers(svc *service.Services, log *zap.Logger) *Handlers {
	b := base{svc: svc, log: logger.OrNop(log)}
	return &Handlers{
		System:          &SystemHandler{base: b},
		Auth:            &AuthHandler{base: b},
		Model:           &ModelHandler{base: b},
		Desensitization: &DesensitizationHandler{base: b},
		Knowledge:       &KnowledgeHandler{base: b},
		Chat:            &ChatHandler{base: b},
		Message:         &MessageHandler{base: b},
		MCP:             &MCPHandler{base: b},
		Agent:           &AgentHandler{base: b},
		Export:          &ExportHandler{base: b},
		FilePreview:     &FilePreviewHandler{base: b},
	}
}
