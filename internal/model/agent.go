package model

import (
	"time"

	"gorm.io/gorm"
)

// DefaultAgent 问答 Agent 名称
const DefaultAgent = "qa"

// AgentMCPBinding Agent 默认启用的 MCP 服务，Priority 越小越靠前
type AgentMCPBinding struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	UserID      string    `gorm:"size:36;index;not null" json:"-"`
	AgentName   string    `gorm:"size:50;index;not null" json:"agent_name"`
	MCPServerID string    `gorm:"column:mcp_server_id;size:36;index;not null" json:"mcp_server_id"`
	Enabled     bool      `gorm:"not null" json:"enabled"`
	Priority    int       `gorm:"not null" json:"priority"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate GORM 钩子
func (b *AgentMCPBinding) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = NewID()
	}
	return nil
}

// TableName 指定表名
func (AgentMCPBinding) TableName() string {
	return "agent_mcp_bindings"
}
