package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV 使用 Redis 字符串存储值。
type RedisKV struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisKV 创建 Redis KV 并检查连通性。
// ttl<=0 时 key 不过期。
func NewRedisKV(ctx context.Context, client *redis.Client, ttl time.Duration) (*RedisKV, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is nil", ErrInvalidConfig)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisKV{client: client, ttl: ttl}, nil
}

// Get 读取 key；redis.Nil 视为不存在。
// 设置了 TTL 时读取会顺带续期，活跃会话不会过期。
func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if s.ttl > 0 {
		// 续期失败不影响读取结果
		_ = s.client.Expire(ctx, key, s.ttl).Err()
	}
	return val, nil
}

// Put 覆盖写入 key。
func (s *RedisKV) Put(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, key, value, s.ttl).Err()
}

// Close 关闭客户端。
func (s *RedisKV) Close() error {
	return s.client.Close()
}
