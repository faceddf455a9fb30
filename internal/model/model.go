package model

import (
	"time"

	"gorm.io/gorm"
)

// 模型类型
const (
	ModelTypeLLM       = "llm"
	ModelTypeEmbedding = "embedding"
	ModelTypeReranker  = "reranker"
)

// ModelProvider 模型供应商，API Key 加密保存
type ModelProvider struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	UserID          string     `gorm:"size:36;index;not null" json:"-"`
	ProviderName    string     `gorm:"size:64;index;not null" json:"provider_name"`
	BaseURL         string     `gorm:"size:500;not null" json:"base_url"`
	APIKeyEncrypted string     `gorm:"type:text;not null" json:"-"`
	Enabled         bool       `gorm:"not null" json:"enabled"`
	LastRefreshAt   *time.Time `json:"last_refresh_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate GORM 钩子，创建前生成 UUID
func (m *ModelProvider) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	return nil
}

// TableName 指定表名
func (ModelProvider) TableName() string {
	return "model_providers"
}

// ModelCatalog 供应商下可用模型
type ModelCatalog struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	ProviderID   string    `gorm:"size:36;index;not null" json:"provider_id"`
	ModelName    string    `gorm:"size:120;index;not null" json:"model_name"`
	ModelType    string    `gorm:"size:20;index;not null" json:"model_type"`
	Capabilities JSON      `gorm:"type:text" json:"capabilities"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate GORM 钩子
func (m *ModelCatalog) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	return nil
}

// TableName 指定表名
func (ModelCatalog) TableName() string {
	return "model_catalog"
}

// RuntimeProfile LLM 运行配置
type RuntimeProfile struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	UserID           string    `gorm:"size:36;index;not null" json:"-"`
	Name             string    `gorm:"size:64;index;not null" json:"name"`
	LLMModelID       string    `gorm:"size:36" json:"llm_model_id"`
	EmbeddingModelID string    `gorm:"size:36" json:"embedding_model_id"`
	RerankerModelID  string    `gorm:"size:36" json:"reranker_model_id"`
	Params           JSON      `gorm:"type:text" json:"params"`
	IsDefault        bool      `gorm:"not null;default:false" json:"is_default"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate GORM 钩子
func (p *RuntimeProfile) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	return nil
}

// TableName 指定表名
func (RuntimeProfile) TableName() string {
	return "llm_runtime_profiles"
}
