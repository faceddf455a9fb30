package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/config"
	"github.com/ashwinyue/family-health/internal/handler"
	"github.com/ashwinyue/family-health/internal/logger"
	"github.com/ashwinyue/family-health/internal/middleware"
	"github.com/ashwinyue/family-health/internal/model"
)

// SetupRouter 设置路由
func SetupRouter(h *handler.Handlers, auth middleware.Authenticator, cfg *config.Config, log *zap.Logger) *gin.Engine {
	log = logger.OrNop(log)
	r := gin.New()

	// 中间件
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.RecoveryMiddleware(log))
	r.Use(middleware.LoggingMiddleware(log))
	r.Use(middleware.CORSMiddleware(&cfg.CORS))

	// 健康检查
	r.GET("/health", h.System.Health)

	v1 := r.Group("/api/v1")
	requireAuth := middleware.RequireAuth(auth)
	managers := middleware.RequireRoles(model.RoleOwner, model.RoleAdmin)
	writers := middleware.RequireRoles(model.RoleOwner, model.RoleAdmin, model.RoleMember)

	// Auth 认证
	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/bootstrap-owner", h.Auth.BootstrapOwner)
		authGroup.POST("/register", h.Auth.Register)
		authGroup.POST("/login", h.Auth.Login)
		authGroup.POST("/refresh", h.Auth.Refresh)

		authed := authGroup.Group("", requireAuth)
		authed.POST("/logout", h.Auth.Logout)
		authed.GET("/me", h.Auth.Me)

		users := authed.Group("/users", managers)
		users.GET("", h.Auth.ListUsers)
		users.POST("", h.Auth.CreateUser)
		users.PATCH("/:id/role", h.Auth.UpdateRole)
		users.PATCH("/:id/status", h.Auth.UpdateStatus)
	}

	api := v1.Group("", requireAuth)
	api.GET("/system/info", h.System.Info)

	// Model registry 模型
	{
		api.POST("/model-providers", h.Model.CreateProvider)
		api.GET("/model-providers", h.Model.ListProviders)
		api.GET("/model-provider-presets", h.Model.Presets)
		api.PATCH("/model-providers/:id", h.Model.UpdateProvider)
		api.DELETE("/model-providers/:id", h.Model.DeleteProvider)
		api.POST("/model-providers/:id/refresh-models", h.Model.RefreshModels)
		api.GET("/model-catalog", h.Model.ListCatalog)

		api.POST("/runtime-profiles", h.Model.CreateProfile)
		api.GET("/runtime-profiles", h.Model.ListProfiles)
		api.PATCH("/runtime-profiles/:id", h.Model.UpdateProfile)
		api.DELETE("/runtime-profiles/:id", h.Model.DeleteProfile)
	}

	// Chat 聊天
	chats := api.Group("/chat/sessions")
	{
		chats.POST("", h.Chat.CreateSession)
		chats.GET("", h.Chat.ListSessions)
		chats.POST("/bulk-export", h.Chat.BulkExport)
		chats.POST("/bulk-delete", h.Chat.BulkDelete)
		chats.GET("/:id", h.Chat.GetSession)
		chats.PATCH("/:id", h.Chat.UpdateSession)
		chats.DELETE("/:id", h.Chat.DeleteSession)
		chats.POST("/:id/copy", h.Chat.CopySession)
		chats.POST("/:id/branch", h.Chat.BranchSession)
		chats.GET("/:id/export", h.Chat.ExportSession)
		chats.POST("/:id/attachments", h.Chat.UploadAttachment)
		chats.GET("/:id/attachments", h.Chat.ListAttachments)

		chats.POST("/:id/messages", h.Message.Create)
		chats.GET("/:id/messages", h.Message.List)
		chats.POST("/:id/messages/bulk-delete", h.Message.BulkDelete)
		chats.DELETE("/:id/messages/:message_id", h.Message.Delete)
	}

	// Desensitization 脱敏
	desens := api.Group("/desensitization")
	{
		desens.POST("/rules", h.Desensitization.CreateRule)
		desens.GET("/rules", h.Desensitization.ListRules)
		desens.PATCH("/rules/:id", h.Desensitization.UpdateRule)
		desens.DELETE("/rules/:id", h.Desensitization.DeleteRule)
		desens.GET("/presets", h.Desensitization.Presets)
		desens.POST("/preview", h.Desensitization.Preview)
		desens.GET("/mappings/:key", h.Desensitization.Reveal)
	}

	// Agent 问答
	agentGroup := api.Group("/agent")
	{
		agentGroup.GET("/roles", h.Agent.ListRoles)
		agentGroup.GET("/roles/:id", h.Agent.GetRole)
		agentGroup.POST("/qa", h.Agent.QA)
		agentGroup.POST("/qa/stream", h.Agent.Stream)
		agentGroup.POST("/qa/stream/:session_id/stop", h.Agent.StopStream)
	}

	// MCP 工具服务
	mcpGroup := api.Group("/mcp")
	{
		mcpGroup.GET("/servers", h.MCP.ListServers)
		mcpGroup.POST("/servers", writers, h.MCP.CreateServer)
		mcpGroup.PATCH("/servers/:id", writers, h.MCP.UpdateServer)
		mcpGroup.DELETE("/servers/:id", writers, h.MCP.DeleteServer)
		mcpGroup.POST("/servers/:id/ping", writers, h.MCP.Ping)
		mcpGroup.GET("/bindings/:agent", h.MCP.ListBindings)
		mcpGroup.PUT("/bindings/:agent", writers, h.MCP.ReplaceBindings)
	}

	// Knowledge 知识库
	kb := api.Group("/knowledge-bases")
	{
		kb.POST("", h.Knowledge.Create)
		kb.GET("", h.Knowledge.List)
		kb.GET("/defaults", h.Knowledge.Defaults)
		kb.PATCH("/:id", h.Knowledge.Update)
		kb.DELETE("/:id", h.Knowledge.Delete)
		kb.POST("/:id/build", h.Knowledge.Build)
		kb.POST("/:id/rebuild", h.Knowledge.Rebuild)
		kb.POST("/:id/retry-failed", h.Knowledge.RetryFailed)
		kb.GET("/:id/documents", h.Knowledge.Documents)
		kb.POST("/:id/documents/upload", h.Knowledge.Upload)
		kb.DELETE("/:id/documents/:doc_id", h.Knowledge.DeleteDocument)
	}
	api.POST("/retrieval/query", h.Knowledge.Query)

	// Export 导出
	exports := api.Group("/exports")
	{
		exports.GET("/candidates", h.Export.Candidates)
		exports.POST("/candidates", h.Export.Candidates)
		exports.POST("/jobs", h.Export.CreateJob)
		exports.GET("/jobs", h.Export.ListJobs)
		exports.GET("/jobs/:id", h.Export.GetJob)
		exports.DELETE("/jobs/:id", h.Export.DeleteJob)
		exports.GET("/jobs/:id/download", h.Export.Download)
	}

	// File preview 文件预览
	preview := api.Group("/file-preview")
	{
		preview.POST("/extract", h.FilePreview.Extract)
		preview.GET("/kb-documents/:id", h.FilePreview.KBDocument)
		preview.GET("/chat-messages/:id", h.FilePreview.ChatMessage)
	}

	return r
}
