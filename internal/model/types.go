// Package model 定义数据库模型
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSON 通用 JSON 对象字段
type JSON map[string]any

// Value 实现 driver.Valuer 接口
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner 接口
func (j *JSON) Scan(value any) error {
	return scanJSON(value, j)
}

// StringList 字符串数组字段
type StringList []string

// Value 实现 driver.Valuer 接口
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner 接口
func (s *StringList) Scan(value any) error {
	return scanJSON(value, s)
}

// Vector 向量字段，以 JSON 数组存储
type Vector []float32

// Value 实现 driver.Valuer 接口
func (v Vector) Value() (driver.Value, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal([]float32(v))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner 接口
func (v *Vector) Scan(value any) error {
	return scanJSON(value, v)
}

func scanJSON(value any, dst any) error {
	var b []byte
	switch x := value.(type) {
	case nil:
		return nil
	case []byte:
		b = x
	case string:
		b = []byte(x)
	default:
		return fmt.Errorf("unsupported json column type %T", value)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}

// NewID 生成主键
func NewID() string {
	return uuid.New().String()
}

// Now 统一使用 UTC 时间
func Now() time.Time {
	return time.Now().UTC()
}

// AllModels 所有模型的统一导入点，用于 AutoMigrate
var AllModels = []any{
	&User{},
	&UserSession{},
	&AuthAuditLog{},
	&ModelProvider{},
	&ModelCatalog{},
	&RuntimeProfile{},
	&ChatSession{},
	&ChatMessage{},
	&ChatAttachment{},
	&KnowledgeBase{},
	&KBDocument{},
	&KBChunk{},
	&DesensitizationRule{},
	&PIIMapping{},
	&MCPServer{},
	&AgentMCPBinding{},
	&ExportJob{},
	&ExportItem{},
}
