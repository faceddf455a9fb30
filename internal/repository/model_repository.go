package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ashwinyue/family-health/internal/model"
)

// RegistryRepository 模型供应商、目录与运行配置数据访问
type RegistryRepository struct {
	db *gorm.DB
}

// NewRegistryRepository 创建模型注册仓库
func NewRegistryRepository(db *gorm.DB) *RegistryRepository {
	return &RegistryRepository{db: db}
}

// CreateProvider 创建供应商
func (r *RegistryRepository) CreateProvider(ctx context.Context, p *model.ModelProvider) error {
	return r.db.WithContext(ctx).Create(p).Error
}

// GetProvider 获取用户的供应商
func (r *RegistryRepository) GetProvider(ctx context.Context, userID, id string) (*model.ModelProvider, error) {
	var p model.ModelProvider
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProviders 列出供应商
func (r *RegistryRepository) ListProviders(ctx context.Context, userID string) ([]*model.ModelProvider, error) {
	var items []*model.ModelProvider
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Find(&items).Error
	return items, err
}

// SaveProvider 保存供应商
func (r *RegistryRepository) SaveProvider(ctx context.Context, p *model.ModelProvider) error {
	return r.db.WithContext(ctx).Save(p).Error
}

// DeleteProvider 删除供应商及其模型目录
func (r *RegistryRepository) DeleteProvider(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.ModelCatalog{}, "provider_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&model.ModelProvider{}, "id = ?", id).Error
	})
}

// ReplaceCatalog 替换供应商的模型目录并更新刷新时间
func (r *RegistryRepository) ReplaceCatalog(ctx context.Context, p *model.ModelProvider, items []*model.ModelCatalog) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.ModelCatalog{}, "provider_id = ?", p.ID).Error; err != nil {
			return err
		}
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return err
			}
		}
		return tx.Save(p).Error
	})
}

// ListCatalog 列出用户可见的模型目录
func (r *RegistryRepository) ListCatalog(ctx context.Context, userID, providerID, modelType string) ([]*model.ModelCatalog, error) {
	var items []*model.ModelCatalog
	q := r.db.WithContext(ctx).
		Joins("JOIN model_providers ON model_providers.id = model_catalog.provider_id").
		Where("model_providers.user_id = ?", userID)
	if providerID != "" {
		q = q.Where("model_catalog.provider_id = ?", providerID)
	}
	if modelType != "" {
		q = q.Where("model_catalog.model_type = ?", modelType)
	}
	err := q.Order("model_catalog.model_name ASC").Find(&items).Error
	return items, err
}

// GetCatalogItem 获取模型及其供应商
func (r *RegistryRepository) GetCatalogItem(ctx context.Context, userID, id string) (*model.ModelCatalog, *model.ModelProvider, error) {
	var item model.ModelCatalog
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, nil, err
	}
	p, err := r.GetProvider(ctx, userID, item.ProviderID)
	if err != nil {
		return nil, nil, err
	}
	return &item, p, nil
}

// CreateProfile 创建运行配置，IsDefault 时清除其他默认项
func (r *RegistryRepository) CreateProfile(ctx context.Context, p *model.RuntimeProfile) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if p.IsDefault {
			if err := clearDefault(tx, p.UserID, ""); err != nil {
				return err
			}
		}
		return tx.Create(p).Error
	})
}

// SaveProfile 保存运行配置
func (r *RegistryRepository) SaveProfile(ctx context.Context, p *model.RuntimeProfile) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if p.IsDefault {
			if err := clearDefault(tx, p.UserID, p.ID); err != nil {
				return err
			}
		}
		return tx.Save(p).Error
	})
}

func clearDefault(tx *gorm.DB, userID, exceptID string) error {
	q := tx.Model(&model.RuntimeProfile{}).Where("user_id = ? AND is_default = ?", userID, true)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	return q.Update("is_default", false).Error
}

// GetProfile 获取运行配置
func (r *RegistryRepository) GetProfile(ctx context.Context, userID, id string) (*model.RuntimeProfile, error) {
	var p model.RuntimeProfile
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProfileByName 按名称获取
func (r *RegistryRepository) GetProfileByName(ctx context.Context, userID, name string) (*model.RuntimeProfile, error) {
	var p model.RuntimeProfile
	if err := r.db.WithContext(ctx).Where("user_id = ? AND name = ?", userID, name).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetDefaultProfile 获取默认运行配置
func (r *RegistryRepository) GetDefaultProfile(ctx context.Context, userID string) (*model.RuntimeProfile, error) {
	var p model.RuntimeProfile
	if err := r.db.WithContext(ctx).Where("user_id = ? AND is_default = ?", userID, true).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProfiles 列出运行配置
func (r *RegistryRepository) ListProfiles(ctx context.Context, userID string) ([]*model.RuntimeProfile, error) {
	var items []*model.RuntimeProfile
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC").Find(&items).Error
	return items, err
}

// DeleteProfile 删除运行配置
func (r *RegistryRepository) DeleteProfile(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&model.RuntimeProfile{}, "id = ?", id).Error
}
