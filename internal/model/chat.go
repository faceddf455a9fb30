package model

import (
	"time"

	"gorm.io/gorm"
)

// 消息角色
const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
	MessageRoleSystem    = "system"
)

// ChatSession 聊天会话
type ChatSession struct {
	ID                   string     `gorm:"primaryKey;size:36" json:"id"`
	UserID               string     `gorm:"size:36;index;not null" json:"user_id"`
	Title                string     `gorm:"size:120;not null" json:"title"`
	RuntimeProfileID     string     `gorm:"size:36" json:"runtime_profile_id"`
	RoleID               string     `gorm:"size:100" json:"role_id"`
	BackgroundPrompt     string     `gorm:"type:text" json:"background_prompt"`
	ReasoningEnabled     *bool      `json:"reasoning_enabled"`
	ReasoningBudget      *int       `json:"reasoning_budget"`
	ShowReasoning        bool       `gorm:"not null" json:"show_reasoning"`
	ContextMessageLimit  int        `gorm:"not null;default:20" json:"context_message_limit"`
	DefaultEnabledMCPIDs StringList `gorm:"column:default_enabled_mcp_ids;type:text" json:"default_enabled_mcp_ids"`
	Archived             bool       `gorm:"not null;default:false;index" json:"archived"`
	Summary              string     `gorm:"type:text" json:"summary"`
	DeletedAt            *time.Time `gorm:"index" json:"-"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime;index" json:"updated_at"`
}

// BeforeCreate GORM 钩子，创建前生成 UUID
func (s *ChatSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = NewID()
	}
	return nil
}

// TableName 指定表名
func (ChatSession) TableName() string {
	return "chat_sessions"
}

// ChatMessage 聊天消息
type ChatMessage struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID        string    `gorm:"size:36;index;not null" json:"session_id"`
	Role             string    `gorm:"size:20;not null" json:"role"`
	Content          string    `gorm:"type:text;not null" json:"content"`
	ReasoningContent string    `gorm:"type:text" json:"reasoning_content"`
	ToolCalls        JSON      `gorm:"column:tool_calls_json;type:text" json:"tool_calls,omitempty"`
	Citations        JSON      `gorm:"column:citations_json;type:text" json:"citations,omitempty"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate GORM 钩子
// CreatedAt 由调用方显式设置，保证同一会话内消息顺序稳定
func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = Now()
	}
	return nil
}

// TableName 指定表名
func (ChatMessage) TableName() string {
	return "chat_messages"
}
