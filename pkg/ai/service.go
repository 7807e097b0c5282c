// Package ai 封装与大模型后端的交互。
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/IMBotPlatform/StudyTutor/pkg/history"
)

var (
	// ErrModelNotFound 表示配置中没有对应名称的模型。
	ErrModelNotFound = errors.New("model not found in configuration")
	// ErrUnsupportedProvider 表示 provider 不受支持。
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// replyFields 是模型结果中可能承载文本的字段，按顺序取第一个非空值。
var replyFields = []string{"response", "output_text", "text"}

// Service 负责管理模型实例并完成一次非流式推理调用。
type Service struct {
	config *Config
	logger *slog.Logger

	mu         sync.Mutex // 保护 modelCache，请求并发调用 getModel
	modelCache map[string]llms.Model
}

// ServiceOption 自定义 Service。
type ServiceOption func(*Service)

// WithLogger 注入日志记录器。
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

// WithModelInstance 直接注册一个模型实例，跳过 provider 初始化。
// 用于测试或由调用方自行构造模型的场景。
func WithModelInstance(name string, model llms.Model) ServiceOption {
	return func(s *Service) {
		s.modelCache[name] = model
	}
}

// NewService 创建一个新的 AI 服务实例。
func NewService(config *Config, opts ...ServiceOption) *Service {
	if config == nil {
		config = &Config{}
	}
	s := &Service{
		config:     config,
		modelCache: make(map[string]llms.Model),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// getModel 获取模型实例。
// 如果缓存中存在则直接返回，否则按配置初始化 provider 并缓存。
//
// Check Cache -> (Hit) -> Return
//
//	  |
//	(Miss)
//	  v
//
// Load Config -> Init Provider -> Update Cache -> Return
func (s *Service) getModel(ctx context.Context, modelName string) (llms.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if model, ok := s.modelCache[modelName]; ok {
		return model, nil
	}

	cfg := s.config.Find(modelName)
	if cfg == nil {
		return nil, fmt.Errorf("%w: '%s'", ErrModelNotFound, modelName)
	}

	llm, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s.modelCache[modelName] = llm
	return llm, nil
}

// newProvider 根据 provider 初始化 langchaingo 模型。
func newProvider(ctx context.Context, cfg *ModelConfig) (llms.Model, error) {
	var llm llms.Model
	var err error

	apiKey := ResolveEnv(cfg.APIKey)

	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithToken(apiKey),
			openai.WithModel(cfg.ModelName),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err = openai.New(opts...)
	case "cloudflare":
		// Workers AI 提供 OpenAI 兼容端点
		accountID := ResolveEnv(cfg.AccountID)
		if accountID == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("cloudflare provider requires account_id or base_url")
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = fmt.Sprintf("https://api.cloudflare.com/client/v4/accounts/%s/ai/v1", accountID)
		}
		modelName := cfg.ModelName
		if modelName == "" {
			modelName = DefaultWorkersAIModel
		}
		llm, err = openai.New(
			openai.WithToken(apiKey),
			openai.WithModel(modelName),
			openai.WithBaseURL(baseURL),
		)
	case "google":
		llm, err = googleai.New(ctx,
			googleai.WithAPIKey(apiKey),
			googleai.WithDefaultModel(cfg.ModelName),
		)
	case "anthropic":
		opts := []anthropic.Option{
			anthropic.WithToken(apiKey),
			anthropic.WithModel(cfg.ModelName),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		llm, err = anthropic.New(opts...)
	case "ollama":
		opts := []ollama.Option{
			ollama.WithModel(cfg.ModelName),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create model provider: %w", err)
	}
	return llm, nil
}

// CompleteOptions 定义调用 Complete 时的配置。
type CompleteOptions struct {
	Model       string
	MaxTokens   int
	Temperature *float64 // nil 表示使用模型配置
}

// CompleteOption 是配置 CompleteOptions 的函数。
type CompleteOption func(*CompleteOptions)

// WithModel 指定使用的模型。
func WithModel(model string) CompleteOption {
	return func(o *CompleteOptions) {
		o.Model = model
	}
}

// WithTemperature 覆盖本次调用的采样温度，0 表示确定性采样。
func WithTemperature(t float64) CompleteOption {
	return func(o *CompleteOptions) {
		o.Temperature = &t
	}
}

// Complete 将有序消息发送给模型并返回回复文本。
// 模型调用成功但没有任何可用文本字段时返回空串与 nil 错误，由调用方决定兜底文案。
func (s *Service) Complete(ctx context.Context, messages []history.Turn, opts ...CompleteOption) (string, error) {
	options := &CompleteOptions{Model: s.config.DefaultModel}
	for _, o := range opts {
		o(options)
	}

	llm, err := s.getModel(ctx, options.Model)
	if err != nil {
		return "", err
	}

	// 未显式指定时使用模型配置，再回退到固定默认值
	cfg := s.config.Find(options.Model)
	if options.MaxTokens <= 0 && cfg != nil {
		options.MaxTokens = cfg.MaxTokens
	}
	if options.MaxTokens <= 0 {
		options.MaxTokens = DefaultMaxTokens
	}
	temperature := cfg.SamplingTemperature()
	if options.Temperature != nil {
		temperature = *options.Temperature
	}

	s.debug("calling model", "model", options.Model, "messages", messages)

	resp, err := llm.GenerateContent(ctx, ToMessageContent(messages),
		llms.WithMaxTokens(options.MaxTokens),
		llms.WithTemperature(temperature),
	)
	if err != nil {
		return "", fmt.Errorf("llm generate error: %w", err)
	}

	reply := ExtractReply(resp)
	s.debug("model result", "model", options.Model, "reply", reply)
	return reply, nil
}

// ToMessageContent 转为 GenerateContent 所需的消息片段。
func ToMessageContent(messages []history.Turn) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		out = append(out, llms.TextParts(messageType(msg.Role), msg.Content))
	}
	return out
}

func messageType(role history.Role) llms.ChatMessageType {
	switch role {
	case history.RoleSystem:
		return llms.ChatMessageTypeSystem
	case history.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// ExtractReply 从模型结果中取出回复文本。
// 优先使用 choice 的 Content，其次依次查看 GenerationInfo 中的 response/output_text/text。
func ExtractReply(resp *llms.ContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, choice := range resp.Choices {
		if choice == nil {
			continue
		}
		if choice.Content != "" {
			return choice.Content
		}
		for _, field := range replyFields {
			if text, ok := choice.GenerationInfo[field].(string); ok && text != "" {
				return text
			}
		}
	}
	return ""
}

func (s *Service) debug(msg string, args ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Debug(msg, args...)
}
