package store

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startRedis 启动一个临时 redis 容器并返回其地址。
func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return endpoint
}

func TestRedisKV(t *testing.T) {
	addr := startRedis(t)

	kv, err := New(context.Background(), TypeRedis, WithRedisAddr(addr, "", 0))
	require.NoError(t, err)
	defer kv.Close()
	exerciseKV(t, kv)
}

func TestRedisKVAppliesTTL(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: addr})
	kv, err := NewRedisKV(ctx, client, time.Hour)
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.Put(ctx, "session:ttl", []byte("[]")))
	ttl, err := client.TTL(ctx, "session:ttl").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)
}

func TestNewRedisKVRejectsNilClient(t *testing.T) {
	_, err := NewRedisKV(context.Background(), nil, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
