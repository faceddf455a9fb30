package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeProvider(t *testing.T) {
	assert.Equal(t, "gemini", NormalizeProvider(" Google Gemini "))
	assert.Equal(t, "deepseek", NormalizeProvider("DeepSeek"))
	assert.Equal(t, "dashscope", NormalizeProvider("qwen"))
	assert.Equal(t, "ollama", NormalizeProvider("Ollama"))
}

func TestFloatParam(t *testing.T) {
	params := map[string]any{"temperature": 0.2, "max_tokens": 512, "bad": "x"}
	v, ok := floatParam(params, "temperature")
	assert.True(t, ok)
	assert.InDelta(t, 0.2, v, 1e-9)
	v, ok = floatParam(params, "max_tokens")
	assert.True(t, ok)
	assert.Equal(t, 512.0, v)
	_, ok = floatParam(params, "bad")
	assert.False(t, ok)
	_, ok = floatParam(nil, "temperature")
	assert.False(t, ok)
}

func TestNewChatModel(t *testing.T) {
	_, err := NewChatModel(context.Background(), Target{Provider: "openai"})
	assert.Error(t, err)

	m, err := NewChatModel(context.Background(), Target{
		Provider: "deepseek",
		BaseURL:  "https://api.deepseek.com/v1/",
		APIKey:   "sk-test",
		Model:    "deepseek-chat",
		Params:   map[string]any{"temperature": 0.3},
	})
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestNewEmbedder(t *testing.T) {
	_, err := NewEmbedder(context.Background(), Target{Provider: "openai"})
	assert.Error(t, err)

	e, err := NewEmbedder(context.Background(), Target{Provider: "openai", BaseURL: "http://127.0.0.1:1/v1", APIKey: "k", Model: "text-embedding-3-small"})
	require.NoError(t, err)
	assert.NotNil(t, e)
}
