package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ashwinyue/family-health/internal/model"
)

// ExportRepository 导出任务数据访问
type ExportRepository struct {
	db *gorm.DB
}

// NewExportRepository 创建导出仓库
func NewExportRepository(db *gorm.DB) *ExportRepository {
	return &ExportRepository{db: db}
}

// CreateJob 创建任务
func (r *ExportRepository) CreateJob(ctx context.Context, job *model.ExportJob) error {
	return r.db.WithContext(ctx).Omit("Items").Create(job).Error
}

// GetJob 获取用户的任务（含条目）
func (r *ExportRepository) GetJob(ctx context.Context, userID, id string) (*model.ExportJob, error) {
	var job model.ExportJob
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ? AND created_by = ?", id, userID).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobByID 供后台任务使用
func (r *ExportRepository) GetJobByID(ctx context.Context, id string) (*model.ExportJob, error) {
	var job model.ExportJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs 列出任务，最新在前
func (r *ExportRepository) ListJobs(ctx context.Context, userID string, limit int) ([]*model.ExportJob, error) {
	var items []*model.ExportJob
	err := r.db.WithContext(ctx).
		Where("created_by = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// SaveJob 保存任务
func (r *ExportRepository) SaveJob(ctx context.Context, job *model.ExportJob) error {
	return r.db.WithContext(ctx).Omit("Items").Save(job).Error
}

// CreateItems 写入导出条目
func (r *ExportRepository) CreateItems(ctx context.Context, items []*model.ExportItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(&items, 100).Error
}

// DeleteItems 删除任务的全部条目
func (r *ExportRepository) DeleteItems(ctx context.Context, jobID string) error {
	return r.db.WithContext(ctx).Delete(&model.ExportItem{}, "job_id = ?", jobID).Error
}

// DeleteJob 删除任务及条目
func (r *ExportRepository) DeleteJob(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.ExportItem{}, "job_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&model.ExportJob{}, "id = ?", id).Error
	})
}

// UnfinishedJobIDs 未完成的任务，按创建时间排序
func (r *ExportRepository) UnfinishedJobIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.ExportJob{}).
		Where("status IN ?", []string{model.ExportPending, model.ExportProcessing}).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	return ids, err
}
