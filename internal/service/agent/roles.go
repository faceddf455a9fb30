package agent

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ashwinyue/family-health/internal/apperr"
)

// Role 角色摘要
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RoleLibrary 角色提示词目录，每个 *.md 文件是一个角色，文件名即 ID
type RoleLibrary struct {
	dir string
}

// NewRoleLibrary 创建角色库
func NewRoleLibrary(dir string) *RoleLibrary {
	return &RoleLibrary{dir: dir}
}

// ListRoles 列出角色，按 ID 排序；目录不存在时返回空列表
func (l *RoleLibrary) ListRoles() ([]Role, error) {
	entries, err := os.ReadDir(l.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Role{}, nil
	}
	if err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".md") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		roles = append(roles, Role{ID: id, Name: l.title(id)})
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })
	return roles, nil
}

// GetRole 读取角色提示词
func (l *RoleLibrary) GetRole(id string) (string, error) {
	path, ok := l.path(id)
	if !ok {
		return "", apperr.ErrRoleNotFound
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", apperr.ErrRoleNotFound
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// path 拒绝带路径分隔符的 ID
func (l *RoleLibrary) path(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", false
	}
	return filepath.Join(l.dir, id+".md"), true
}

// title 取首个 Markdown 标题作为名称
func (l *RoleLibrary) title(id string) string {
	path, _ := l.path(id)
	f, err := os.Open(path)
	if err != nil {
		return id
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if name := strings.TrimSpace(strings.TrimLeft(line, "#")); name != "" {
				return name
			}
		}
		break
	}
	return id
}
