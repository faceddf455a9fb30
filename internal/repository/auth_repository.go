package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ashwinyue/family-health/internal/model"
)

// AuthRepository 用户与会话数据访问
type AuthRepository struct {
	db *gorm.DB
}

// NewAuthRepository 创建认证仓库
func NewAuthRepository(db *gorm.DB) *AuthRepository {
	return &AuthRepository{db: db}
}

// CreateUser 创建用户
func (r *AuthRepository) CreateUser(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// GetUserByID 获取用户
func (r *AuthRepository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByUsername 按用户名获取
func (r *AuthRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// CountByRole 统计某角色用户数
func (r *AuthRepository) CountByRole(ctx context.Context, role string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.User{}).Where("role = ?", role).Count(&n).Error
	return n, err
}

// ListUsers 列出用户
func (r *AuthRepository) ListUsers(ctx context.Context) ([]*model.User, error) {
	var users []*model.User
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&users).Error
	return users, err
}

// UpdateUser 更新用户
func (r *AuthRepository) UpdateUser(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

// CreateSession 创建刷新会话
func (r *AuthRepository) CreateSession(ctx context.Context, s *model.UserSession) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// FindActiveSession 查找未吊销且未过期的会话
func (r *AuthRepository) FindActiveSession(ctx context.Context, userID, tokenHash string, now time.Time) (*model.UserSession, error) {
	var s model.UserSession
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND refresh_token_hash = ? AND revoked_at IS NULL AND expires_at > ?", userID, tokenHash, now).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// RevokeSession 吊销会话，返回是否由本次调用吊销
func (r *AuthRepository) RevokeSession(ctx context.Context, id string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.UserSession{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", now)
	return res.RowsAffected == 1, res.Error
}

// RevokeByHash 按令牌哈希吊销
func (r *AuthRepository) RevokeByHash(ctx context.Context, userID, tokenHash string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.UserSession{}).
		Where("user_id = ? AND refresh_token_hash = ? AND revoked_at IS NULL", userID, tokenHash).
		Update("revoked_at", now)
	return res.RowsAffected, res.Error
}

// RevokeAllForUser 吊销用户所有会话
func (r *AuthRepository) RevokeAllForUser(ctx context.Context, userID string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&model.UserSession{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", now).Error
}

// CreateAudit 写审计日志
func (r *AuthRepository) CreateAudit(ctx context.Context, log *model.AuthAuditLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// ListAudits 最近的审计日志
func (r *AuthRepository) ListAudits(ctx context.Context, userID string, limit int) ([]*model.AuthAuditLog, error) {
	var logs []*model.AuthAuditLog
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	err := q.Find(&logs).Error
	return logs, err
}
