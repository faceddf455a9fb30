package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ashwinyue/family-health/internal/model"
)

// ChatRepository 聊天数据访问
type ChatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建聊天仓库
func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// SessionQuery 会话列表查询条件
type SessionQuery struct {
	Query    string
	Archived *bool
	Offset   int
	Limit    int
}

// CreateSession 创建会话
func (r *ChatRepository) CreateSession(ctx context.Context, s *model.ChatSession) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// GetSession 获取未删除的会话
func (r *ChatRepository) GetSession(ctx context.Context, userID, id string) (*model.ChatSession, error) {
	var s model.ChatSession
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND deleted_at IS NULL", id, userID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions 分页列出会话，按更新时间倒序
func (r *ChatRepository) ListSessions(ctx context.Context, userID string, q SessionQuery) ([]*model.ChatSession, int64, error) {
	db := r.db.WithContext(ctx).Model(&model.ChatSession{}).
		Where("user_id = ? AND deleted_at IS NULL", userID)
	if q.Query != "" {
		p := likePattern(q.Query)
		db = db.Where(`(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(summary) LIKE ? ESCAPE '\')`, p, p)
	}
	if q.Archived != nil {
		db = db.Where("archived = ?", *q.Archived)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []*model.ChatSession
	err := db.Order("updated_at DESC").Offset(q.Offset).Limit(q.Limit).Find(&items).Error
	return items, total, err
}

// SaveSession 保存会话
func (r *ChatRepository) SaveSession(ctx context.Context, s *model.ChatSession) error {
	return r.db.WithContext(ctx).Save(s).Error
}

// SoftDeleteSessions 软删除会话，返回删除数量
func (r *ChatRepository) SoftDeleteSessions(ctx context.Context, userID string, ids []string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.ChatSession{}).
		Where("user_id = ? AND id IN ? AND deleted_at IS NULL", userID, ids).
		Update("deleted_at", now)
	return res.RowsAffected, res.Error
}

// TouchSession 更新会话时间
func (r *ChatRepository) TouchSession(ctx context.Context, id string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&model.ChatSession{}).
		Where("id = ?", id).
		UpdateColumn("updated_at", now).Error
}

// CopySession 复制会话及其消息
func (r *ChatRepository) CopySession(ctx context.Context, dst *model.ChatSession, srcID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(dst).Error; err != nil {
			return err
		}
		var msgs []*model.ChatMessage
		if err := tx.Where("session_id = ?", srcID).Order("created_at ASC").Find(&msgs).Error; err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		copies := make([]*model.ChatMessage, 0, len(msgs))
		for _, m := range msgs {
			copies = append(copies, &model.ChatMessage{
				SessionID:        dst.ID,
				Role:             m.Role,
				Content:          m.Content,
				ReasoningContent: m.ReasoningContent,
				ToolCalls:        m.ToolCalls,
				Citations:        m.Citations,
				CreatedAt:        m.CreatedAt,
			})
		}
		return tx.Create(&copies).Error
	})
}

// CreateMessage 创建消息
func (r *ChatRepository) CreateMessage(ctx context.Context, m *model.ChatMessage) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// ListMessages 会话内全部消息，按时间正序
func (r *ChatRepository) ListMessages(ctx context.Context, sessionID string) ([]*model.ChatMessage, error) {
	var msgs []*model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").Order("id ASC").
		Find(&msgs).Error
	return msgs, err
}

// RecentMessages 最近 limit 条消息，按时间正序返回
func (r *ChatRepository) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*model.ChatMessage, error) {
	var msgs []*model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetMessageForUser 获取属于用户的消息
func (r *ChatRepository) GetMessageForUser(ctx context.Context, userID, id string) (*model.ChatMessage, error) {
	var m model.ChatMessage
	err := r.db.WithContext(ctx).
		Joins("JOIN chat_sessions ON chat_sessions.id = chat_messages.session_id").
		Where("chat_messages.id = ? AND chat_sessions.user_id = ?", id, userID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteMessages 删除会话内的消息，返回删除数量
func (r *ChatRepository) DeleteMessages(ctx context.Context, sessionID string, ids []string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("session_id = ? AND id IN ?", sessionID, ids).
		Delete(&model.ChatMessage{})
	return res.RowsAffected, res.Error
}

// RecentUserMessages 用户最近的消息，用于导出
func (r *ChatRepository) RecentUserMessages(ctx context.Context, userID string, sessionIDs, messageIDs []string, limit int) ([]*model.ChatMessage, error) {
	var msgs []*model.ChatMessage
	q := r.db.WithContext(ctx).
		Joins("JOIN chat_sessions ON chat_sessions.id = chat_messages.session_id").
		Where("chat_sessions.user_id = ? AND chat_sessions.deleted_at IS NULL", userID)
	if len(sessionIDs) > 0 {
		q = q.Where("chat_messages.session_id IN ?", sessionIDs)
	}
	if len(messageIDs) > 0 {
		q = q.Where("chat_messages.id IN ?", messageIDs)
	}
	err := q.Order("chat_messages.created_at DESC").Limit(limit).Find(&msgs).Error
	return msgs, err
}

// CreateAttachment 创建附件
func (r *ChatRepository) CreateAttachment(ctx context.Context, a *model.ChatAttachment) error {
	return r.db.WithContext(ctx).Create(a).Error
}

// SaveAttachment 保存附件
func (r *ChatRepository) SaveAttachment(ctx context.Context, a *model.ChatAttachment) error {
	return r.db.WithContext(ctx).Save(a).Error
}

// GetAttachments 按 ID 批量获取会话内的附件
func (r *ChatRepository) GetAttachments(ctx context.Context, sessionID string, ids []string) ([]*model.ChatAttachment, error) {
	var items []*model.ChatAttachment
	err := r.db.WithContext(ctx).Where("session_id = ? AND id IN ?", sessionID, ids).Find(&items).Error
	return items, err
}

// ListAttachments 会话内的附件
func (r *ChatRepository) ListAttachments(ctx context.Context, sessionID string) ([]*model.ChatAttachment, error) {
	var items []*model.ChatAttachment
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at ASC").Find(&items).Error
	return items, err
}
