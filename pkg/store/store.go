// Package store 提供会话历史所依赖的键值存储抽象及其多种后端实现。
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// 存储层通用错误。
var (
	ErrInvalidConfig    = errors.New("invalid store configuration")
	ErrInvalidStoreType = errors.New("invalid store type")
)

// KV 是外部键值服务的最小契约：按字符串 key 读写整块值。
// 不提供事务或条件写，并发写入以最后完成者为准。
type KV interface {
	// Get 返回 key 对应的值。key 不存在时返回 (nil, nil)，不视为错误。
	Get(ctx context.Context, key string) ([]byte, error)

	// Put 整体覆盖 key 对应的值。
	Put(ctx context.Context, key string, value []byte) error

	// Close 释放底层连接或文件句柄。
	Close() error
}

// Type 表示后端类型。
type Type string

const (
	TypeMemory   Type = "memory"
	TypeFile     Type = "file"
	TypeRedis    Type = "redis"
	TypeSQLite   Type = "sqlite"
	TypePostgres Type = "postgres"
	TypeMySQL    Type = "mysql"
)

// New 根据类型创建 KV 实例。
//   - memory: 进程内 map，重启即丢失
//   - file: 每个 key 一个 JSON 文件，需要 WithPath
//   - redis: 需要 WithRedisAddr 或 WithRedisClient
//   - sqlite/postgres/mysql: 需要 WithDSN（sqlite 可用 WithPath）
func New(ctx context.Context, storeType Type, opts ...Option) (KV, error) {
	cfg := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	switch storeType {
	case TypeMemory, "":
		return NewMemoryKV(), nil
	case TypeFile:
		if cfg.path == "" {
			return nil, fmt.Errorf("%w: file store requires a path", ErrInvalidConfig)
		}
		return NewFileKV(cfg.path)
	case TypeRedis:
		client := cfg.redisClient
		if client == nil {
			if cfg.redisAddr == "" {
				return nil, fmt.Errorf("%w: redis store requires an address", ErrInvalidConfig)
			}
			client = newRedisClient(cfg)
		}
		return NewRedisKV(ctx, client, cfg.ttl)
	case TypeSQLite, TypePostgres, TypeMySQL:
		dsn := cfg.dsn
		if dsn == "" && storeType == TypeSQLite {
			dsn = cfg.path
		}
		if dsn == "" {
			return nil, fmt.Errorf("%w: %s store requires a dsn", ErrInvalidConfig, storeType)
		}
		return OpenSQLKV(ctx, storeType, dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStoreType, storeType)
	}
}

// hashKey 把任意长度的 key 映射为 64 字符的十六进制摘要，
// 供文件名与 SQL 主键这类有长度上限的后端使用。
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
