package providers

import "fmt"

// Template holds the non-credential fields of a well-known provider.
type Template struct {
	Name         string   `json:"name"`
	BaseURL      string   `json:"base_url"`
	DefaultModel string   `json:"default_model"`
	Models       []string `json:"models"`
}

// Templates is the closed registry of known OpenAI-compatible providers.
var Templates = map[string]Template{
	"openai": {
		Name:         "OpenAI",
		BaseURL:      "https://api.openai.com/v1",
		DefaultModel: "gpt-4o",
		Models:       []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-3.5-turbo"},
	},
	"kimi": {
		Name:         "Kimi (Moonshot)",
		BaseURL:      "https://api.moonshot.cn/v1",
		DefaultModel: "moonshot-v1-8k",
		Models:       []string{"moonshot-v1-8k", "moonshot-v1-32k", "moonshot-v1-128k"},
	},
	"qwen": {
		Name:         "Qwen (Alibaba)",
		BaseURL:      "https://dashscope.aliyuncs.com/compatible-mode/v1",
		DefaultModel: "qwen-max",
		Models:       []string{"qwen-max", "qwen-plus", "qwen-turbo", "qwen-coder-plus"},
	},
	"claude": {
		Name:         "Claude (Anthropic)",
		BaseURL:      "https://api.anthropic.com/v1",
		DefaultModel: "claude-3-5-sonnet-20241022",
		Models: []string{
			"claude-3-5-sonnet-20241022",
			"claude-3-5-haiku-20241022",
			"claude-3-opus-20240229",
		},
	},
	"glm": {
		Name:         "ChatGLM (Zhipu)",
		BaseURL:      "https://open.bigmodel.cn/api/paas/v4",
		DefaultModel: "glm-4-plus",
		Models:       []string{"glm-4-plus", "glm-4-air", "glm-4-flash", "glm-4-long"},
	},
	"siliconflow": {
		Name:         "Silicon Flow",
		BaseURL:      "https://api.siliconflow.cn/v1",
		DefaultModel: "Qwen/Qwen2.5-72B-Instruct",
		Models: []string{
			"Qwen/Qwen2.5-72B-Instruct",
			"meta-llama/Llama-3.3-70B-Instruct",
			"deepseek-ai/DeepSeek-V2.5",
		},
	},
	"deepseek": {
		Name:         "DeepSeek",
		BaseURL:      "https://api.deepseek.com/v1",
		DefaultModel: "deepseek-chat",
		Models:       []string{"deepseek-chat", "deepseek-coder"},
	},
	"azure": {
		// Azure has no fixed endpoint; base_url must come from overrides.
		Name:         "Azure OpenAI",
		BaseURL:      "",
		DefaultModel: "gpt-4",
		Models:       []string{"gpt-4", "gpt-4-32k", "gpt-35-turbo"},
	},
}

// CreateFromTemplate builds a provider from a template. providerID defaults
// to the template ID; overrides win over template fields.
func CreateFromTemplate(templateID, providerID, apiKey string, overrides map[string]any) (*LLMProvider, error) {
	tmpl, ok := Templates[templateID]
	if !ok {
		return nil, fmt.Errorf("unknown template: %s", templateID)
	}

	if providerID == "" {
		providerID = templateID
	}

	p := &LLMProvider{
		ID:           providerID,
		Name:         tmpl.Name,
		BaseURL:      tmpl.BaseURL,
		APIKey:       apiKey,
		DefaultModel: tmpl.DefaultModel,
		Models:       append([]string(nil), tmpl.Models...),
		Timeout:      120,
		MaxRetries:   3,
		Enabled:      true,
	}
	applyOverrides(p, overrides, false)
	return p, nil
}

// TemplateList returns templates keyed by ID with the ID embedded, for the
// management API.
func TemplateList() map[string]map[string]any {
	out := make(map[string]map[string]any, len(Templates))
	for id, tmpl := range Templates {
		out[id] = map[string]any{
			"id":            id,
			"name":          tmpl.Name,
			"base_url":      tmpl.BaseURL,
			"default_model": tmpl.DefaultModel,
			"models":        tmpl.Models,
		}
	}
	return out
}
