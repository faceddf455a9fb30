// Package llm 根据模型目录构建 eino 组件
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/embedding/dashscope"
	embopenai "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/embedding"
	einomodel "github.com/cloudwego/eino/components/model"
)

const defaultTimeout = 60 * time.Second

// Target 构建模型所需的信息
type Target struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	Params   map[string]any
}

// NormalizeProvider 归一化供应商名称
func NormalizeProvider(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	switch {
	case strings.Contains(n, "gemini"):
		return "gemini"
	case strings.Contains(n, "deepseek"):
		return "deepseek"
	case strings.Contains(n, "dashscope"), strings.Contains(n, "qwen"), strings.Contains(n, "alibaba"):
		return "dashscope"
	}
	return n
}

// NewChatModel 创建 OpenAI 兼容的 ChatModel
// gemini、deepseek、dashscope、ollama 均通过兼容接口访问
func NewChatModel(ctx context.Context, t Target) (einomodel.BaseChatModel, error) {
	if t.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	cfg := &openai.ChatModelConfig{
		APIKey:  t.APIKey,
		BaseURL: strings.TrimRight(t.BaseURL, "/"),
		Model:   t.Model,
		Timeout: defaultTimeout,
	}
	if v, ok := floatParam(t.Params, "temperature"); ok {
		f := float32(v)
		cfg.Temperature = &f
	}
	if v, ok := floatParam(t.Params, "top_p"); ok {
		f := float32(v)
		cfg.TopP = &f
	}
	if v, ok := floatParam(t.Params, "max_tokens"); ok && v > 0 {
		n := int(v)
		cfg.MaxTokens = &n
	}
	return openai.NewChatModel(ctx, cfg)
}

// NewEmbedder 创建向量化组件
// dashscope 使用原生接口，其余走 OpenAI 兼容接口
func NewEmbedder(ctx context.Context, t Target) (embedding.Embedder, error) {
	if t.Model == "" {
		return nil, fmt.Errorf("embedding model name is required")
	}
	if NormalizeProvider(t.Provider) == "dashscope" {
		return dashscope.NewEmbedder(ctx, &dashscope.EmbeddingConfig{
			APIKey:  t.APIKey,
			Model:   t.Model,
			Timeout: defaultTimeout,
		})
	}
	return embopenai.NewEmbedder(ctx, &embopenai.EmbeddingConfig{
		APIKey:  t.APIKey,
		BaseURL: strings.TrimRight(t.BaseURL, "/"),
		Model:   t.Model,
		Timeout: defaultTimeout,
	})
}

func floatParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
