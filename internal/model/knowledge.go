package model

import (
	"time"

	"gorm.io/gorm"
)

// 知识库状态
const (
	KBStatusDraft    = "draft"
	KBStatusBuilding = "building"
	KBStatusReady    = "ready"
	KBStatusFailed   = "failed"
)

// 文档状态
const (
	DocPending    = "pending"
	DocProcessing = "processing"
	DocIndexed    = "indexed"
	DocError      = "error"
)

// 检索策略
const (
	StrategyKeyword  = "keyword"
	StrategySemantic = "semantic"
	StrategyHybrid   = "hybrid"
)

// KnowledgeBase 知识库
type KnowledgeBase struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	UserID            string    `gorm:"size:36;index;not null" json:"user_id"`
	Name              string    `gorm:"size:120;index;not null" json:"name"`
	MemberScope       string    `gorm:"size:36;not null" json:"member_scope"`
	ChunkSize         int       `gorm:"not null" json:"chunk_size"`
	ChunkOverlap      int       `gorm:"not null" json:"chunk_overlap"`
	TopK              int       `gorm:"not null" json:"top_k"`
	RerankTopN        int       `gorm:"not null" json:"rerank_top_n"`
	EmbeddingModelID  string    `gorm:"size:36" json:"embedding_model_id"`
	RerankerModelID   string    `gorm:"size:36" json:"reranker_model_id"`
	SemanticModelID   string    `gorm:"size:36" json:"semantic_model_id"`
	UseGlobalDefaults bool      `gorm:"not null" json:"use_global_defaults"`
	RetrievalStrategy string    `gorm:"size:20;not null" json:"retrieval_strategy"`
	KeywordWeight     float64   `gorm:"not null" json:"keyword_weight"`
	SemanticWeight    float64   `gorm:"not null" json:"semantic_weight"`
	RerankWeight      float64   `gorm:"not null" json:"rerank_weight"`
	StrategyParams    JSON      `gorm:"type:text" json:"strategy_params"`
	Status            string    `gorm:"size:20;index;not null" json:"status"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate GORM 钩子，创建前生成 UUID
func (kb *KnowledgeBase) BeforeCreate(tx *gorm.DB) error {
	if kb.ID == "" {
		kb.ID = NewID()
	}
	return nil
}

// TableName 指定表名
func (KnowledgeBase) TableName() string {
	return "knowledge_bases"
}

// KBDocument 知识库文档
type KBDocument struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	KBID         string    `gorm:"column:kb_id;size:36;index;not null" json:"kb_id"`
	MemberID     string    `gorm:"size:36;index;not null" json:"member_id"`
	Title        string    `gorm:"size:255" json:"title"`
	FileName     string    `gorm:"size:255" json:"file_name"`
	SourceType   string    `gorm:"size:20;not null" json:"source_type"`
	SourcePath   string    `gorm:"type:text" json:"source_path,omitempty"`
	MaskedPath   string    `gorm:"type:text" json:"masked_path,omitempty"`
	Status       string    `gorm:"size:20;index;not null" json:"status"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	ChunkCount   int       `gorm:"not null;default:0" json:"chunk_count"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate GORM 钩子
func (d *KBDocument) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = NewID()
	}
	return nil
}

// TableName 指定表名
func (KBDocument) TableName() string {
	return "kb_documents"
}

// KBChunk 文档分块，Embedding 为空表示未向量化
type KBChunk struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	KBID       string    `gorm:"column:kb_id;size:36;index;not null" json:"kb_id"`
	DocumentID string    `gorm:"size:36;index;not null" json:"document_id"`
	MemberID   string    `gorm:"size:36;index;not null" json:"member_id"`
	ChunkText  string    `gorm:"type:text;not null" json:"chunk_text"`
	ChunkOrder int       `gorm:"not null" json:"chunk_order"`
	TokenCount int       `gorm:"not null;default:0" json:"token_count"`
	Embedding  Vector    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// BeforeCreate GORM 钩子
func (c *KBChunk) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	return nil
}

// TableName 指定表名
func (KBChunk) TableName() string {
	return "kb_chunks"
}
