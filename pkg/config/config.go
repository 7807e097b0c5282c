// Package config 加载服务配置：YAML 文件为基础，命令行与环境变量覆盖。
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/IMBotPlatform/StudyTutor/pkg/ai"
	"github.com/IMBotPlatform/StudyTutor/pkg/history"
	"github.com/IMBotPlatform/StudyTutor/pkg/store"
)

const (
	defaultListenAddr = ":8080"
	defaultModelName  = "tutor"
	defaultDataPath   = "data/history"
)

// ServerConfig 是 HTTP 服务配置。
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// RedisConfig 是 redis 后端配置。
type RedisConfig struct {
	Addr     string        `json:"addr" yaml:"addr"`
	Password string        `json:"password" yaml:"password"` // 支持 "env:NAME"
	DB       int           `json:"db" yaml:"db"`
	TTL      time.Duration `json:"ttl" yaml:"ttl"` // 0 表示不过期
}

// StoreConfig 选择历史存储后端。
type StoreConfig struct {
	Type   store.Type  `json:"type" yaml:"type"`
	Prefix string      `json:"prefix" yaml:"prefix"`
	Path   string      `json:"path" yaml:"path"` // file 目录或 sqlite 文件
	DSN    string      `json:"dsn" yaml:"dsn"`   // postgres/mysql 连接串，支持 "env:NAME"
	Redis  RedisConfig `json:"redis" yaml:"redis"`
}

// HistoryConfig 控制历史窗口。
type HistoryConfig struct {
	MaxTurns       int `json:"max_turns" yaml:"max_turns"`
	MaxStoredTurns int `json:"max_stored_turns" yaml:"max_stored_turns"`
}

// TutorConfig 是辅导行为配置。
type TutorConfig struct {
	InstructionsFile string `json:"instructions_file" yaml:"instructions_file"`
	DefaultSubject   string `json:"default_subject" yaml:"default_subject"`
	DefaultLevel     string `json:"default_level" yaml:"default_level"`
	FallbackReply    string `json:"fallback_reply" yaml:"fallback_reply"`
	ErrorReply       string `json:"error_reply" yaml:"error_reply"`
}

// Config 是完整的服务配置，启动时加载一次，之后只读。
type Config struct {
	Server    ServerConfig  `json:"server" yaml:"server"`
	Store     StoreConfig   `json:"store" yaml:"store"`
	History   HistoryConfig `json:"history" yaml:"history"`
	Tutor     TutorConfig   `json:"tutor" yaml:"tutor"`
	ai.Config `yaml:",inline"`
}

// Default 返回全部使用默认值的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load 读取并解析 YAML 配置文件；path 为空时返回默认配置。
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults 为缺失字段填充默认值。
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultListenAddr
	}
	if c.Store.Type == "" {
		c.Store.Type = store.TypeMemory
	}
	if c.Store.Prefix == "" {
		c.Store.Prefix = history.DefaultKeyPrefix
	}
	if c.Store.Path == "" && (c.Store.Type == store.TypeFile || c.Store.Type == store.TypeSQLite) {
		c.Store.Path = defaultDataPath
		if c.Store.Type == store.TypeSQLite {
			c.Store.Path += ".db"
		}
	}
	if c.History.MaxTurns <= 0 {
		c.History.MaxTurns = history.DefaultMaxTurns
	}
	if len(c.Models) == 0 {
		c.Models = []ai.ModelConfig{{
			Name:      defaultModelName,
			Provider:  "openai",
			APIKey:    "env:OPENAI_API_KEY",
			ModelName: "gpt-4o-mini",
		}}
	}
	if c.DefaultModel == "" {
		c.DefaultModel = c.Models[0].Name
	}
	for i := range c.Models {
		if c.Models[i].MaxTokens <= 0 {
			c.Models[i].MaxTokens = ai.DefaultMaxTokens
		}
		if c.Models[i].Temperature == nil {
			t := ai.DefaultTemperature
			c.Models[i].Temperature = &t
		}
	}
}

// ApplyOverrides 用 viper 中显式设置过的键（命令行或 STUDYTUTOR_* 环境变量）覆盖文件配置。
func (c *Config) ApplyOverrides(v *viper.Viper) {
	if v == nil {
		return
	}
	if v.IsSet("addr") {
		c.Server.Addr = v.GetString("addr")
	}
	if v.IsSet("store.type") {
		c.Store.Type = store.Type(v.GetString("store.type"))
	}
	if v.IsSet("store.path") {
		c.Store.Path = v.GetString("store.path")
	}
	if v.IsSet("store.dsn") {
		c.Store.DSN = v.GetString("store.dsn")
	}
	if v.IsSet("store.redis.addr") {
		c.Store.Redis.Addr = v.GetString("store.redis.addr")
	}
	if v.IsSet("model") {
		c.DefaultModel = v.GetString("model")
	}
	c.ApplyDefaults()
}

// Validate 检查配置是否可用于启动服务。
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Type {
	case store.TypeMemory, store.TypeFile, store.TypeSQLite:
	case store.TypeRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required for redis store"))
		}
	case store.TypePostgres, store.TypeMySQL:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for %s store", c.Store.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", store.ErrInvalidStoreType, c.Store.Type))
	}
	if c.Find(c.DefaultModel) == nil {
		errs = append(errs, fmt.Errorf("default_model %q is not defined in models", c.DefaultModel))
	}
	if c.History.MaxStoredTurns < 0 {
		errs = append(errs, errors.New("history.max_stored_turns must not be negative"))
	}
	return errors.Join(errs...)
}

// StoreOptions 把存储配置转换为 store.New 的选项，"env:" 引用在此解析。
func (c *Config) StoreOptions() []store.Option {
	opts := []store.Option{
		store.WithPath(c.Store.Path),
		store.WithDSN(ai.ResolveEnv(c.Store.DSN)),
		store.WithTTL(c.Store.Redis.TTL),
	}
	if c.Store.Redis.Addr != "" {
		opts = append(opts, store.WithRedisAddr(c.Store.Redis.Addr, ai.ResolveEnv(c.Store.Redis.Password), c.Store.Redis.DB))
	}
	return opts
}

// HistoryOptions 把历史窗口与 key 前缀配置转换为 history.NewStore 的选项。
func (c *Config) HistoryOptions() []history.Option {
	return []history.Option{
		history.WithMaxTurns(c.History.MaxTurns),
		history.WithMaxStoredTurns(c.History.MaxStoredTurns),
		history.WithKeyPrefix(c.Store.Prefix),
	}
}
