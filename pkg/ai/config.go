package ai

import (
	"os"
	"strings"
)

const (
	// DefaultMaxTokens 是单次回复的最大输出 token。
	DefaultMaxTokens = 512
	// DefaultTemperature 是固定的采样温度。
	DefaultTemperature = 0.7
	// DefaultWorkersAIModel 是 cloudflare provider 未指定模型时使用的模型。
	DefaultWorkersAIModel = "@cf/meta/llama-3-8b-instruct"
)

// ModelConfig defines the configuration for a single LLM.
type ModelConfig struct {
	Name        string   `json:"name" yaml:"name"`                                   // e.g., "tutor", "llama3"
	Provider    string   `json:"provider" yaml:"provider"`                           // openai, google, anthropic, ollama, cloudflare
	APIKey      string   `json:"api_key" yaml:"api_key"`                             // "env:NAME" reference or direct key
	BaseURL     string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`       // Optional: for custom endpoints
	AccountID   string   `json:"account_id,omitempty" yaml:"account_id,omitempty"`   // cloudflare account, "env:NAME" allowed
	ModelName   string   `json:"model_name" yaml:"model_name"`                       // The specific model ID
	MaxTokens   int      `json:"max_tokens" yaml:"max_tokens"`                       // Max output tokens
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"` // nil means DefaultTemperature; 0 is valid
}

// SamplingTemperature 返回配置的温度，未设置时返回 DefaultTemperature。
func (m *ModelConfig) SamplingTemperature() float64 {
	if m == nil || m.Temperature == nil {
		return DefaultTemperature
	}
	return *m.Temperature
}

// Config holds the AI section of the service configuration.
type Config struct {
	DefaultModel string        `json:"default_model" yaml:"default_model"`
	Models       []ModelConfig `json:"models" yaml:"models"`
}

// Find 返回指定名称的模型配置。
func (c *Config) Find(name string) *ModelConfig {
	if c == nil {
		return nil
	}
	for i := range c.Models {
		if c.Models[i].Name == name {
			return &c.Models[i]
		}
	}
	return nil
}

// ResolveEnv 解析配置值。
// 如果以 "env:" 开头，则从环境变量中获取实际值。
func ResolveEnv(val string) string {
	if strings.HasPrefix(val, "env:") {
		return os.Getenv(strings.TrimPrefix(val, "env:"))
	}
	return val
}
