package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Session 本地保存的登录会话
type Session struct {
	Token        string     `json:"token"`
	RefreshToken string     `json:"refresh_token"`
	Role         string     `json:"role"`
	UserID       string     `json:"user_id"`
	Username     string     `json:"username,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Expired 会话是否已过期，未设置过期时间时永不过期
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// SessionStore 会话存储
type SessionStore interface {
	// Load 返回当前会话，不存在或已过期时返回 nil
	Load() (*Session, error)
	Save(s *Session) error
	Clear() error
}

// FileStore 以 JSON 文件保存会话，权限 0600
type FileStore struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewFileStore 创建文件存储
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// DefaultSessionPath 默认会话文件位置
func DefaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "fhctl", "session.json")
}

// Load 读取会话，过期的会话会被删除
func (f *FileStore) Load() (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.Expired(f.now()) {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove expired session: %w", err)
		}
		return nil, nil
	}
	return &s, nil
}

// Save 原子写入会话
func (f *FileStore) Save(s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// Clear 删除会话文件
func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// MemoryStore 内存会话存储
type MemoryStore struct {
	mu  sync.Mutex
	s   *Session
	now func() time.Time
}

// NewMemoryStore 创建内存存储，s 可以为 nil
func NewMemoryStore(s *Session) *MemoryStore {
	return &MemoryStore{s: s, now: time.Now}
}

func (m *MemoryStore) Load() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s == nil {
		return nil, nil
	}
	if m.s.Expired(m.now()) {
		m.s = nil
		return nil, nil
	}
	cp := *m.s
	return &cp, nil
}

func (m *MemoryStore) Save(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.s = &cp
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = nil
	return nil
}
