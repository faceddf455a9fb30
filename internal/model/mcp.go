package model

import (
	"time"

	"gorm.io/gorm"
)

// MCP 认证方式
const (
	MCPAuthNone   = "none"
	MCPAuthBearer = "bearer"
	MCPAuthAPIKey = "api_key"
)

// MCPServer MCP 服务
type MCPServer struct {
	ID                   string    `gorm:"primaryKey;size:36" json:"id"`
	UserID               string    `gorm:"size:36;index;not null" json:"-"`
	Name                 string    `gorm:"size:100;index;not null" json:"name"`
	Endpoint             string    `gorm:"size:500;not null" json:"endpoint"`
	AuthType             string    `gorm:"size:20;not null" json:"auth_type"`
	AuthPayloadEncrypted string    `gorm:"type:text" json:"-"`
	Enabled              bool      `gorm:"not null" json:"enabled"`
	TimeoutMs            int       `gorm:"not null" json:"timeout_ms"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate GORM 钩子
func (m *MCPServer) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	return nil
}

// TableName 指定表名
func (MCPServer) TableName() string {
	return "mcp_servers"
}

// Timeout 调用超时
func (m *MCPServer) Timeout() time.Duration {
	return time.Duration(m.TimeoutMs) * time.Millisecond
}
