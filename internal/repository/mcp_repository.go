package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ashwinyue/family-health/internal/model"
)

// MCPRepository MCP 服务与 Agent 绑定数据访问
type MCPRepository struct {
	db *gorm.DB
}

// NewMCPRepository 创建 MCP 仓库
func NewMCPRepository(db *gorm.DB) *MCPRepository {
	return &MCPRepository{db: db}
}

// CreateServer 创建服务
func (r *MCPRepository) CreateServer(ctx context.Context, s *model.MCPServer) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// GetServer 获取服务
func (r *MCPRepository) GetServer(ctx context.Context, userID, id string) (*model.MCPServer, error) {
	var s model.MCPServer
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// GetServerByName 按名称获取
func (r *MCPRepository) GetServerByName(ctx context.Context, userID, name string) (*model.MCPServer, error) {
	var s model.MCPServer
	if err := r.db.WithContext(ctx).Where("user_id = ? AND name = ?", userID, name).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// GetServers 按 ID 批量获取
func (r *MCPRepository) GetServers(ctx context.Context, userID string, ids []string) ([]*model.MCPServer, error) {
	var items []*model.MCPServer
	if len(ids) == 0 {
		return items, nil
	}
	err := r.db.WithContext(ctx).Where("user_id = ? AND id IN ?", userID, ids).Find(&items).Error
	return items, err
}

// ListServers 列出服务，最近更新在前
func (r *MCPRepository) ListServers(ctx context.Context, userID string) ([]*model.MCPServer, error) {
	var items []*model.MCPServer
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC").Find(&items).Error
	return items, err
}

// SaveServer 保存服务
func (r *MCPRepository) SaveServer(ctx context.Context, s *model.MCPServer) error {
	return r.db.WithContext(ctx).Save(s).Error
}

// DeleteServer 删除服务及其绑定
func (r *MCPRepository) DeleteServer(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.AgentMCPBinding{}, "mcp_server_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&model.MCPServer{}, "id = ?", id).Error
	})
}

// ReplaceBindings 替换 Agent 的绑定，优先级为传入顺序
func (r *MCPRepository) ReplaceBindings(ctx context.Context, userID, agent string, serverIDs []string) ([]*model.AgentMCPBinding, error) {
	items := make([]*model.AgentMCPBinding, 0, len(serverIDs))
	for i, id := range serverIDs {
		items = append(items, &model.AgentMCPBinding{
			UserID:      userID,
			AgentName:   agent,
			MCPServerID: id,
			Enabled:     true,
			Priority:    i,
		})
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.AgentMCPBinding{}, "user_id = ? AND agent_name = ?", userID, agent).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		return tx.Create(&items).Error
	})
	return items, err
}

// ListBindings 列出 Agent 绑定，按优先级排序
func (r *MCPRepository) ListBindings(ctx context.Context, userID, agent string) ([]*model.AgentMCPBinding, error) {
	var items []*model.AgentMCPBinding
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND agent_name = ?", userID, agent).
		Order("priority ASC").
		Find(&items).Error
	return items, err
}
