// Package history 管理按会话划分、有长度上限的对话历史。
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IMBotPlatform/StudyTutor/pkg/store"
)

const (
	// DefaultMaxTurns 是拼装提示词前保留的最大轮次数。
	DefaultMaxTurns = 18
	// DefaultKeyPrefix 是会话 key 的命名空间前缀。
	DefaultKeyPrefix = "session:"
)

// Role 表示消息归属的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn 是一条对话消息，创建后不再修改。
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History 是单个会话的有序消息序列，插入顺序即时间顺序。
type History []Turn

// Store 在 KV 之上提供历史的读取、裁剪与整体覆盖写入。
type Store struct {
	kv             store.KV
	prefix         string
	maxTurns       int
	maxStoredTurns int
	logger         *slog.Logger
}

// Option 自定义 Store 行为。
type Option func(*Store)

// WithMaxTurns 设置读取时的裁剪上限（<=0 时使用默认值）。
func WithMaxTurns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxTurns = n
		}
	}
}

// WithMaxStoredTurns 设置写入时保留的上限；0 表示不限制，写入值可以超过读取上限。
func WithMaxStoredTurns(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.maxStoredTurns = n
		}
	}
}

// WithKeyPrefix 覆盖 key 前缀。
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithLogger 注入日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore 绑定 KV 后端创建历史存储。
func NewStore(kv store.KV, opts ...Option) *Store {
	s := &Store{
		kv:       kv,
		prefix:   DefaultKeyPrefix,
		maxTurns: DefaultMaxTurns,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Key 返回会话在 KV 中的 key。
func (s *Store) Key(sessionID string) string {
	return s.prefix + sessionID
}

// MaxTurns 返回读取裁剪上限。
func (s *Store) MaxTurns() int {
	return s.maxTurns
}

// Load 读取会话历史。
// key 不存在、后端出错或内容不是消息数组时都退化为空历史，从不向调用方返回错误。
func (s *Store) Load(ctx context.Context, sessionID string) History {
	key := s.Key(sessionID)
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		s.warn("history load failed, using empty history", "key", key, "err", err)
		return History{}
	}
	if len(data) == 0 {
		return History{}
	}

	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		s.warn("stored history is malformed, using empty history", "key", key, "err", err)
		return History{}
	}
	if h == nil {
		// JSON null
		return History{}
	}
	return h
}

// Trim 只保留最近的 MaxTurns 条；长度未超限时原样返回。
func (s *Store) Trim(h History) History {
	return Trim(h, s.maxTurns)
}

// Save 整体覆盖会话历史，不做合并或追加。
func (s *Store) Save(ctx context.Context, sessionID string, h History) error {
	if s.maxStoredTurns > 0 {
		h = Trim(h, s.maxStoredTurns)
	}
	if h == nil {
		h = History{}
	}
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := s.kv.Put(ctx, s.Key(sessionID), data); err != nil {
		return fmt.Errorf("put history: %w", err)
	}
	return nil
}

// Trim 保留 h 末尾最多 max 条消息（后缀保留，最旧的先丢弃）。
func Trim(h History, max int) History {
	if max <= 0 || len(h) <= max {
		return h
	}
	return h[len(h)-max:]
}

// Append 返回追加了 turns 的新历史，不修改 h 的底层数组。
func Append(h History, turns ...Turn) History {
	next := make(History, 0, len(h)+len(turns))
	next = append(next, h...)
	return append(next, turns...)
}

func (s *Store) warn(msg string, args ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Warn(msg, args...)
}
