package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ashwinyue/family-health/internal/model"
)

// KnowledgeRepository 知识库数据访问
type KnowledgeRepository struct {
	db *gorm.DB
}

// NewKnowledgeRepository 创建知识库仓库
func NewKnowledgeRepository(db *gorm.DB) *KnowledgeRepository {
	return &KnowledgeRepository{db: db}
}

// DocumentStats 文档统计
type DocumentStats struct {
	Documents        int64 `json:"documents"`
	Chunks           int64 `json:"chunks"`
	FailedDocuments  int64 `json:"failed_documents"`
	PendingDocuments int64 `json:"pending_documents"`
}

// CreateKB 创建知识库
func (r *KnowledgeRepository) CreateKB(ctx context.Context, kb *model.KnowledgeBase) error {
	return r.db.WithContext(ctx).Create(kb).Error
}

// GetKB 获取知识库
func (r *KnowledgeRepository) GetKB(ctx context.Context, userID, id string) (*model.KnowledgeBase, error) {
	var kb model.KnowledgeBase
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&kb).Error; err != nil {
		return nil, err
	}
	return &kb, nil
}

// GetKBByName 按名称获取
func (r *KnowledgeRepository) GetKBByName(ctx context.Context, userID, name string) (*model.KnowledgeBase, error) {
	var kb model.KnowledgeBase
	if err := r.db.WithContext(ctx).Where("user_id = ? AND name = ?", userID, name).First(&kb).Error; err != nil {
		return nil, err
	}
	return &kb, nil
}

// ListKBs 列出知识库
func (r *KnowledgeRepository) ListKBs(ctx context.Context, userID string) ([]*model.KnowledgeBase, error) {
	var items []*model.KnowledgeBase
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC").Find(&items).Error
	return items, err
}

// SaveKB 保存知识库
func (r *KnowledgeRepository) SaveKB(ctx context.Context, kb *model.KnowledgeBase) error {
	return r.db.WithContext(ctx).Save(kb).Error
}

// UpdateKBStatus 更新知识库状态
func (r *KnowledgeRepository) UpdateKBStatus(ctx context.Context, id, status string) error {
	return r.db.WithContext(ctx).Model(&model.KnowledgeBase{}).Where("id = ?", id).Update("status", status).Error
}

// DeleteKB 删除知识库及其文档与分块
func (r *KnowledgeRepository) DeleteKB(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.KBChunk{}, "kb_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.KBDocument{}, "kb_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&model.KnowledgeBase{}, "id = ?", id).Error
	})
}

// CreateDocument 创建文档
func (r *KnowledgeRepository) CreateDocument(ctx context.Context, d *model.KBDocument) error {
	return r.db.WithContext(ctx).Create(d).Error
}

// SaveDocument 保存文档
func (r *KnowledgeRepository) SaveDocument(ctx context.Context, d *model.KBDocument) error {
	return r.db.WithContext(ctx).Save(d).Error
}

// GetDocument 获取知识库内的文档
func (r *KnowledgeRepository) GetDocument(ctx context.Context, kbID, id string) (*model.KBDocument, error) {
	var d model.KBDocument
	if err := r.db.WithContext(ctx).Where("id = ? AND kb_id = ?", id, kbID).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDocumentForUser 获取属于用户的文档及其知识库
func (r *KnowledgeRepository) GetDocumentForUser(ctx context.Context, userID, id string) (*model.KBDocument, *model.KnowledgeBase, error) {
	var d model.KBDocument
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, nil, err
	}
	kb, err := r.GetKB(ctx, userID, d.KBID)
	if err != nil {
		return nil, nil, err
	}
	return &d, kb, nil
}

// ListDocuments 列出文档
func (r *KnowledgeRepository) ListDocuments(ctx context.Context, kbID string) ([]*model.KBDocument, error) {
	var items []*model.KBDocument
	err := r.db.WithContext(ctx).Where("kb_id = ?", kbID).Order("created_at DESC").Find(&items).Error
	return items, err
}

// ListDocumentsByStatus 按状态列出文档，先创建的在前
func (r *KnowledgeRepository) ListDocumentsByStatus(ctx context.Context, kbID, status string) ([]*model.KBDocument, error) {
	var items []*model.KBDocument
	err := r.db.WithContext(ctx).Where("kb_id = ? AND status = ?", kbID, status).Order("created_at ASC").Find(&items).Error
	return items, err
}

// DeleteDocument 删除文档及其分块
func (r *KnowledgeRepository) DeleteDocument(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.KBChunk{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&model.KBDocument{}, "id = ?", id).Error
	})
}

// ResetFailed 将失败文档重置为待处理
func (r *KnowledgeRepository) ResetFailed(ctx context.Context, kbID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.KBDocument{}).
		Where("kb_id = ? AND status = ?", kbID, model.DocError).
		Updates(map[string]any{"status": model.DocPending, "error_message": ""})
	return res.RowsAffected, res.Error
}

// Stats 文档统计
func (r *KnowledgeRepository) Stats(ctx context.Context, kbID string) (*DocumentStats, error) {
	var s DocumentStats
	db := r.db.WithContext(ctx)
	if err := db.Model(&model.KBDocument{}).Where("kb_id = ?", kbID).Count(&s.Documents).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.KBChunk{}).Where("kb_id = ?", kbID).Count(&s.Chunks).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.KBDocument{}).Where("kb_id = ? AND status = ?", kbID, model.DocError).Count(&s.FailedDocuments).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.KBDocument{}).Where("kb_id = ? AND status = ?", kbID, model.DocPending).Count(&s.PendingDocuments).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ReplaceChunks 替换文档的分块
func (r *KnowledgeRepository) ReplaceChunks(ctx context.Context, documentID string, chunks []*model.KBChunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.KBChunk{}, "document_id = ?", documentID).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(&chunks, 100).Error
	})
}

// ListChunks 知识库全部分块
func (r *KnowledgeRepository) ListChunks(ctx context.Context, kbID string) ([]*model.KBChunk, error) {
	var items []*model.KBChunk
	err := r.db.WithContext(ctx).Where("kb_id = ?", kbID).Order("chunk_order ASC").Find(&items).Error
	return items, err
}

// ClearKB 清空知识库的文档与分块
func (r *KnowledgeRepository) ClearKB(ctx context.Context, kbID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.KBChunk{}, "kb_id = ?", kbID).Error; err != nil {
			return err
		}
		return tx.Delete(&model.KBDocument{}, "kb_id = ?", kbID).Error
	})
}

// ExportDocument 导出用文档视图
type ExportDocument struct {
	model.KBDocument
	KBName string `gorm:"column:kb_name"`
}

// ListDocumentsForUser 用户可导出的文档
func (r *KnowledgeRepository) ListDocumentsForUser(ctx context.Context, userID string, kbIDs, docIDs []string) ([]*ExportDocument, error) {
	var items []*ExportDocument
	q := r.db.WithContext(ctx).Table("kb_documents").
		Select("kb_documents.*, knowledge_bases.name AS kb_name").
		Joins("JOIN knowledge_bases ON knowledge_bases.id = kb_documents.kb_id").
		Where("knowledge_bases.user_id = ?", userID)
	if len(kbIDs) > 0 {
		q = q.Where("kb_documents.kb_id IN ?", kbIDs)
	}
	if len(docIDs) > 0 {
		q = q.Where("kb_documents.id IN ?", docIDs)
	}
	err := q.Order("kb_documents.created_at DESC").Scan(&items).Error
	return items, err
}
