package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Repositories 仓库集合，用于统一管理所有仓库
type Repositories struct {
	DB              *gorm.DB // 直接访问数据库
	Auth            *AuthRepository
	Registry        *RegistryRepository
	Chat            *ChatRepository
	Knowledge       *KnowledgeRepository
	Desensitization *DesensitizationRepository
	MCP             *MCPRepository
	Export          *ExportRepository
}

// NewRepositories 创建所有仓库
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		DB:              db,
		Auth:            NewAuthRepository(db),
		Registry:        NewRegistryRepository(db),
		Chat:            NewChatRepository(db),
		Knowledge:       NewKnowledgeRepository(db),
		Desensitization: NewDesensitizationRepository(db),
		MCP:             NewMCPRepository(db),
		Export:          NewExportRepository(db),
	}
}

// IsNotFound 记录不存在
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// likePattern 转义 LIKE 通配符
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + strings.ToLower(r.Replace(q)) + "%"
}
