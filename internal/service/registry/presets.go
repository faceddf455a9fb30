package registry

import "github.com/ashwinyue/family-health/internal/model"

// Preset 供应商预设
type Preset struct {
	ProviderName   string `json:"provider_name"`
	Label          string `json:"label"`
	DefaultBaseURL string `json:"default_base_url"`
}

var presets = []Preset{
	{ProviderName: "gemini", Label: "Google Gemini", DefaultBaseURL: "https://generativelanguage.googleapis.com/v1beta/openai"},
	{ProviderName: "deepseek", Label: "DeepSeek", DefaultBaseURL: "https://api.deepseek.com/v1"},
	{ProviderName: "openai", Label: "OpenAI", DefaultBaseURL: "https://api.openai.com/v1"},
	{ProviderName: "dashscope", Label: "阿里云百炼", DefaultBaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1"},
	{ProviderName: "ollama", Label: "Ollama", DefaultBaseURL: "http://127.0.0.1:11434/v1"},
}

// Presets 返回预设副本
func Presets() []Preset {
	return append([]Preset(nil), presets...)
}

type discovered struct {
	name         string
	modelType    string
	capabilities model.JSON
}

// staticModels 供应商离线默认模型表，只读
var staticModels = map[string][]discovered{
	"gemini": {
		{"gemini-2.0-flash", model.ModelTypeLLM, model.JSON{"supports_reasoning_budget": true}},
		{"gemini-2.0-pro", model.ModelTypeLLM, model.JSON{"supports_reasoning_budget": true}},
		{"text-embedding-004", model.ModelTypeEmbedding, model.JSON{}},
	},
	"deepseek": {
		{"deepseek-chat", model.ModelTypeLLM, model.JSON{"supports_reasoning_effort": true}},
		{"deepseek-reasoner", model.ModelTypeLLM, model.JSON{"supports_reasoning_effort": true}},
	},
}

// allowedParams 各供应商允许的运行参数，未列出的供应商不裁剪
var allowedParams = map[string]map[string]bool{
	"gemini":   {"temperature": true, "top_p": true, "max_tokens": true, "reasoning_budget": true},
	"deepseek": {"temperature": true, "top_p": true, "max_tokens": true, "reasoning_effort": true},
}
