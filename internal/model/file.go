package model

import (
	"time"

	"gorm.io/gorm"
)

// 附件解析状态
const (
	ParseProcessing = "processing"
	ParseDone       = "done"
	ParseError      = "error"
)

// ChatAttachment 聊天附件
// RawPath 指向原始文件区，SanitizedPath 指向脱敏后的文本
type ChatAttachment struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID     string    `gorm:"size:36;index;not null" json:"session_id"`
	MessageID     string    `gorm:"size:36;index" json:"message_id,omitempty"`
	FileName      string    `gorm:"size:255;not null" json:"file_name"`
	RawPath       string    `gorm:"type:text" json:"-"`
	SanitizedPath string    `gorm:"type:text" json:"-"`
	ContentType   string    `gorm:"size:120" json:"content_type"`
	SizeBytes     int64     `json:"size_bytes"`
	IsImage       bool      `gorm:"not null;index" json:"is_image"`
	KBMode        string    `gorm:"size:20" json:"kb_mode"`
	KBID          string    `gorm:"size:36" json:"kb_id,omitempty"`
	KBDocumentID  string    `gorm:"size:36" json:"kb_document_id,omitempty"`
	ParseStatus   string    `gorm:"size:20;index;not null" json:"parse_status"`
	ErrorMessage  string    `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// BeforeCreate GORM 钩子，创建前生成 UUID
func (a *ChatAttachment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = NewID()
	}
	return nil
}

// TableName 指定表名
func (ChatAttachment) TableName() string {
	return "chat_attachments"
}
