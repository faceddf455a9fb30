package model

import (
	"time"

	"gorm.io/gorm"
)

// 用户角色
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

// 用户状态
const (
	UserActive   = "active"
	UserDisabled = "disabled"
)

// User 用户
type User struct {
	ID                  string     `gorm:"primaryKey;size:36" json:"id"`
	Username            string     `gorm:"size:64;uniqueIndex;not null" json:"username"`
	DisplayName         string     `gorm:"size:128" json:"display_name"`
	PasswordHash        string     `gorm:"size:255;not null" json:"-"`
	Role                string     `gorm:"size:20;index;not null;default:member" json:"role"`
	Status              string     `gorm:"size:20;index;not null;default:active" json:"status"`
	FailedLoginAttempts int        `gorm:"not null;default:0" json:"-"`
	LockUntil           *time.Time `json:"lock_until,omitempty"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate GORM 钩子，创建前生成 UUID
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = NewID()
	}
	return nil
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// IsLocked 当前是否处于登录锁定
func (u *User) IsLocked(now time.Time) bool {
	return u.LockUntil != nil && u.LockUntil.After(now)
}

// UserSession 刷新令牌会话，只保存令牌哈希
type UserSession struct {
	ID               string     `gorm:"primaryKey;size:36"`
	UserID           string     `gorm:"size:36;index;not null"`
	RefreshTokenHash string     `gorm:"size:64;index;not null"`
	DeviceLabel      string     `gorm:"size:100"`
	ExpiresAt        time.Time  `gorm:"not null"`
	RevokedAt        *time.Time `gorm:"index"`
	CreatedAt        time.Time  `gorm:"autoCreateTime"`
}

// BeforeCreate GORM 钩子
func (s *UserSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = NewID()
	}
	return nil
}

// TableName 指定表名
func (UserSession) TableName() string {
	return "user_sessions"
}

// AuthAuditLog 认证审计日志
type AuthAuditLog struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:36;index" json:"user_id"`
	Action    string    `gorm:"size:50;index;not null" json:"action"`
	Result    string    `gorm:"size:20;not null" json:"result"`
	Detail    string    `gorm:"size:255" json:"detail"`
	IPAddr    string    `gorm:"size:64" json:"ip_addr"`
	UserAgent string    `gorm:"size:255" json:"user_agent"`
	TraceID   string    `gorm:"size:64;index" json:"trace_id"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// BeforeCreate GORM 钩子
func (a *AuthAuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = NewID()
	}
	return nil
}

// TableName 指定表名
func (AuthAuditLog) TableName() string {
	return "auth_audit_logs"
}
