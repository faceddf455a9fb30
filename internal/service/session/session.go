// Package session 缓存聊天会话的近期消息窗口，并跟踪进行中的问答流
package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/logger"
)

const (
	// 历史窗口在缓存中的过期时间（24小时）
	historyTTL = 24 * time.Hour
	// Redis key 前缀
	historyKeyPrefix = "session:history:"
)

// Loader 缓存未命中时从数据库加载最近 limit 条消息
type Loader func(ctx context.Context, limit int) ([]*schema.Message, error)

// Manager 会话管理器
// Redis 不可用时退化为进程内缓存
type Manager struct {
	mu            sync.RWMutex
	memory        map[string]*window
	activeStreams map[string]map[string]*ActiveStream
	redis         *redis.Client
	log           *zap.Logger
	now           func() time.Time
}

// window 缓存的历史窗口
type window struct {
	Limit     int           `json:"limit"`
	Messages  []messageData `json:"messages"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// messageData 消息数据（用于缓存存储）
type messageData struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// roleToSchema 将字符串角色转换为 schema.RoleType
func roleToSchema(role string) schema.RoleType {
	switch role {
	case "system":
		return schema.System
	case "assistant":
		return schema.Assistant
	case "user":
		return schema.User
	default:
		return schema.User
	}
}

// NewManager 创建会话管理器，redisClient 可为 nil
func NewManager(redisClient *redis.Client, log *zap.Logger) *Manager {
	return &Manager{
		memory:        make(map[string]*window),
		activeStreams: make(map[string]map[string]*ActiveStream),
		redis:         redisClient,
		log:           logger.OrNop(log),
		now:           time.Now,
	}
}

// GetHistory 获取最近 limit 条历史消息，按时间正序
func (m *Manager) GetHistory(ctx context.Context, sessionID string, limit int, load Loader) ([]*schema.Message, error) {
	if w := m.lookup(ctx, sessionID); w != nil && w.Limit == limit {
		return toSchema(w.Messages), nil
	}

	msgs, err := load(ctx, limit)
	if err != nil {
		return nil, err
	}

	w := &window{
		Limit:     limit,
		Messages:  fromSchema(msgs),
		ExpiresAt: m.now().Add(historyTTL),
	}
	m.mu.Lock()
	m.memory[sessionID] = w
	m.mu.Unlock()

	if m.redis != nil {
		if err := m.saveToRedis(ctx, sessionID, w); err != nil {
			m.log.Warn("failed to save history to redis", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return msgs, nil
}

// Invalidate 消息写入后清除缓存
func (m *Manager) Invalidate(ctx context.Context, sessionID string) {
	m.mu.Lock()
	delete(m.memory, sessionID)
	m.mu.Unlock()

	if m.redis != nil {
		if err := m.redis.Del(ctx, historyKeyPrefix+sessionID).Err(); err != nil {
			m.log.Warn("failed to delete history from redis", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

func (m *Manager) lookup(ctx context.Context, sessionID string) *window {
	m.mu.RLock()
	w, ok := m.memory[sessionID]
	m.mu.RUnlock()
	if ok && m.now().Before(w.ExpiresAt) {
		return w
	}
	if m.redis == nil {
		return nil
	}
	return m.loadFromRedis(ctx, sessionID)
}

// loadFromRedis 从 Redis 加载历史窗口
func (m *Manager) loadFromRedis(ctx context.Context, sessionID string) *window {
	data, err := m.redis.Get(ctx, historyKeyPrefix+sessionID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			m.log.Warn("redis unavailable, falling back to database", zap.Error(err))
		}
		return nil
	}
	var w window
	if err := json.Unmarshal(data, &w); err != nil {
		return nil
	}
	m.mu.Lock()
	m.memory[sessionID] = &w
	m.mu.Unlock()
	return &w
}

// saveToRedis 保存历史窗口到 Redis
func (m *Manager) saveToRedis(ctx context.Context, sessionID string, w *window) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return m.redis.Set(ctx, historyKeyPrefix+sessionID, data, historyTTL).Err()
}

func toSchema(items []messageData) []*schema.Message {
	out := make([]*schema.Message, len(items))
	for i, md := range items {
		out[i] = &schema.Message{Role: roleToSchema(md.Role), Content: md.Content}
	}
	return out
}

func fromSchema(msgs []*schema.Message) []messageData {
	out := make([]messageData, len(msgs))
	for i, msg := range msgs {
		out[i] = messageData{Role: string(msg.Role), Content: msg.Content}
	}
	return out
}

// ========== 流控制功能 ==========

// ActiveStream 活跃流
type ActiveStream struct {
	SessionID  string
	MessageID  string
	CancelFunc context.CancelFunc
	Content    strings.Builder
	Done       bool
	Stopped    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	mu         sync.Mutex
}

// RegisterStream 注册活跃流
func (m *Manager) RegisterStream(sessionID, messageID string, cancelFunc context.CancelFunc) *ActiveStream {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stream := &ActiveStream{
		SessionID:  sessionID,
		MessageID:  messageID,
		CancelFunc: cancelFunc,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if m.activeStreams[sessionID] == nil {
		m.activeStreams[sessionID] = make(map[string]*ActiveStream)
	}
	m.activeStreams[sessionID][messageID] = stream
	return stream
}

// UnregisterStream 注销流
func (m *Manager) UnregisterStream(sessionID, messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	streams := m.activeStreams[sessionID]
	if stream, ok := streams[messageID]; ok {
		stream.MarkDone()
		delete(streams, messageID)
	}
	if len(streams) == 0 {
		delete(m.activeStreams, sessionID)
	}
}

// GetStream 获取活跃流
func (m *Manager) GetStream(sessionID, messageID string) *ActiveStream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeStreams[sessionID][messageID]
}

// StopStream 停止会话的所有活跃流，返回是否存在
func (m *Manager) StopStream(sessionID string) bool {
	m.mu.Lock()
	streams := m.activeStreams[sessionID]
	delete(m.activeStreams, sessionID)
	m.mu.Unlock()

	for _, stream := range streams {
		stream.mu.Lock()
		stream.Stopped = true
		stream.mu.Unlock()
		if stream.CancelFunc != nil {
			stream.CancelFunc()
		}
		stream.MarkDone()
	}
	return len(streams) > 0
}

// AppendChunk 追加流内容
func (s *ActiveStream) AppendChunk(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Content.WriteString(chunk)
	s.UpdatedAt = time.Now()
}

// GetContent 获取流内容
func (s *ActiveStream) GetContent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Content.String()
}

// IsDone 检查流是否完成
func (s *ActiveStream) IsDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Done
}

// IsStopped 是否被客户端主动停止
func (s *ActiveStream) IsStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Stopped
}

// MarkDone 标记流完成
func (s *ActiveStream) MarkDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Done = true
	s.UpdatedAt = time.Now()
}
