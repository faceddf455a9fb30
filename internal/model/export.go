package model

import (
	"time"

	"gorm.io/gorm"
)

// 导出任务状态
const (
	ExportPending    = "pending"
	ExportProcessing = "processing"
	ExportDone       = "done"
	ExportFailed     = "failed"
)

// 导出类型
const (
	ExportTypeChat = "chat"
	ExportTypeKB   = "kb"
)

// ExportJob 导出任务
type ExportJob struct {
	ID                   string       `gorm:"primaryKey;size:36" json:"id"`
	CreatedBy            string       `gorm:"size:36;index;not null" json:"created_by"`
	MemberScope          string       `gorm:"size:36;not null" json:"member_scope"`
	Filters              JSON         `gorm:"column:filters_json;type:text" json:"filters"`
	ExportTypes          StringList   `gorm:"column:export_types_json;type:text" json:"export_types"`
	IncludeRawFile       bool         `gorm:"not null" json:"include_raw_file"`
	IncludeSanitizedText bool         `gorm:"not null" json:"include_sanitized_text"`
	Status               string       `gorm:"size:20;index;not null" json:"status"`
	ArchivePath          string       `gorm:"type:text" json:"archive_path,omitempty"`
	ErrorMessage         string       `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt            time.Time    `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt            time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
	Items                []ExportItem `gorm:"foreignKey:JobID" json:"items,omitempty"`
}

// BeforeCreate GORM 钩子
func (j *ExportJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = NewID()
	}
	return nil
}

// TableName 指定表名
func (ExportJob) TableName() string {
	return "export_jobs"
}

// ExportItem 导出条目
type ExportItem struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	JobID         string    `gorm:"size:36;index;not null" json:"job_id"`
	ItemType      string    `gorm:"size:30;index;not null" json:"item_type"`
	ItemID        string    `gorm:"size:36;index;not null" json:"item_id"`
	SourcePath    string    `gorm:"type:text" json:"source_path,omitempty"`
	SanitizedPath string    `gorm:"type:text" json:"sanitized_path,omitempty"`
	Meta          JSON      `gorm:"column:meta_json;type:text" json:"meta"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// BeforeCreate GORM 钩子
func (i *ExportItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = NewID()
	}
	return nil
}

// TableName 指定表名
func (ExportItem) TableName() string {
	return "export_items"
}
