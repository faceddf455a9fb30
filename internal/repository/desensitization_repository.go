package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ashwinyue/family-health/internal/model"
)

// DesensitizationRepository 脱敏规则与映射库
type DesensitizationRepository struct {
	db *gorm.DB
}

// NewDesensitizationRepository 创建脱敏仓库
func NewDesensitizationRepository(db *gorm.DB) *DesensitizationRepository {
	return &DesensitizationRepository{db: db}
}

// CreateRule 创建规则
func (r *DesensitizationRepository) CreateRule(ctx context.Context, rule *model.DesensitizationRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

// GetRule 获取规则
func (r *DesensitizationRepository) GetRule(ctx context.Context, userID, id string) (*model.DesensitizationRule, error) {
	var rule model.DesensitizationRule
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

// ListRules 列出规则，按更新时间正序
func (r *DesensitizationRepository) ListRules(ctx context.Context, userID string, enabledOnly bool) ([]*model.DesensitizationRule, error) {
	var items []*model.DesensitizationRule
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	err := q.Order("updated_at ASC").Order("id ASC").Find(&items).Error
	return items, err
}

// ListRulesForScope 作用于某成员的启用规则（含全局规则）
func (r *DesensitizationRepository) ListRulesForScope(ctx context.Context, userID, scope string) ([]*model.DesensitizationRule, error) {
	var items []*model.DesensitizationRule
	q := r.db.WithContext(ctx).Where("user_id = ? AND enabled = ?", userID, true)
	if scope == "" || scope == model.ScopeGlobal {
		q = q.Where("member_scope = ?", model.ScopeGlobal)
	} else {
		q = q.Where("member_scope IN ?", []string{model.ScopeGlobal, scope})
	}
	err := q.Order("updated_at ASC").Order("id ASC").Find(&items).Error
	return items, err
}

// SaveRule 保存规则
func (r *DesensitizationRepository) SaveRule(ctx context.Context, rule *model.DesensitizationRule) error {
	return r.db.WithContext(ctx).Save(rule).Error
}

// DeleteRule 删除规则
func (r *DesensitizationRepository) DeleteRule(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&model.DesensitizationRule{}, "id = ?", id).Error
}

// CreateMappings 写入映射库
func (r *DesensitizationRepository) CreateMappings(ctx context.Context, items []*model.PIIMapping) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(&items, 100).Error
}

// ListMappings 按映射批次查询
func (r *DesensitizationRepository) ListMappings(ctx context.Context, userID, mappingKey string) ([]*model.PIIMapping, error) {
	var items []*model.PIIMapping
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND mapping_key = ?", userID, mappingKey).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}
