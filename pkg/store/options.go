package store

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// Option 是配置 New 的函数选项。
type Option func(*options)

type options struct {
	path          string
	dsn           string
	ttl           time.Duration
	redisClient   *redis.Client
	redisAddr     string
	redisPassword string
	redisDB       int
}

// WithPath 指定 file 后端的目录或 sqlite 数据库文件路径。
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithDSN 指定 SQL 后端的连接串。
func WithDSN(dsn string) Option {
	return func(o *options) {
		o.dsn = dsn
	}
}

// WithTTL 为 redis key 设置过期时间；<=0 表示永不过期。
// 会话清理属于存储配置，核心逻辑对 key 的消失与从未存在一视同仁。
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithRedisClient 注入已创建的 redis 客户端。
func WithRedisClient(client *redis.Client) Option {
	return func(o *options) {
		o.redisClient = client
	}
}

// WithRedisAddr 指定 redis 地址、密码与库号。
func WithRedisAddr(addr, password string, db int) Option {
	return func(o *options) {
		o.redisAddr = addr
		o.redisPassword = password
		o.redisDB = db
	}
}

func newRedisClient(o *options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     o.redisAddr,
		Password: o.redisPassword,
		DB:       o.redisDB,
	})
}
