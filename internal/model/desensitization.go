package model

import (
	"time"

	"gorm.io/gorm"
)

// ScopeGlobal 对所有成员生效的规则范围
const ScopeGlobal = "global"

// DesensitizationRule 脱敏规则
type DesensitizationRule struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	UserID           string    `gorm:"size:36;index;not null" json:"user_id"`
	MemberScope      string    `gorm:"size:36;index;not null" json:"member_scope"`
	RuleType         string    `gorm:"size:20;not null" json:"rule_type"`
	Pattern          string    `gorm:"size:500;not null" json:"pattern"`
	ReplacementToken string    `gorm:"size:100;not null" json:"replacement_token"`
	Tag              string    `gorm:"size:40" json:"tag"`
	Enabled          bool      `gorm:"not null" json:"enabled"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime;index" json:"updated_at"`
}

// BeforeCreate GORM 钩子，创建前生成 UUID
func (r *DesensitizationRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	return nil
}

// TableName 指定表名
func (DesensitizationRule) TableName() string {
	return "desensitization_rules"
}

// PIIMapping 脱敏映射库，原文加密保存
type PIIMapping struct {
	ID                     string    `gorm:"primaryKey;size:36"`
	UserID                 string    `gorm:"size:36;index;not null"`
	MappingKey             string    `gorm:"size:36;index;not null"`
	OriginalValueEncrypted string    `gorm:"type:text;not null"`
	ReplacementToken       string    `gorm:"size:100;not null"`
	HashFingerprint        string    `gorm:"size:64;index;not null"`
	CreatedAt              time.Time `gorm:"autoCreateTime"`
}

// BeforeCreate GORM 钩子
func (p *PIIMapping) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	return nil
}

// TableName 指定表名
func (PIIMapping) TableName() string {
	return "pii_mapping_vault"
}
