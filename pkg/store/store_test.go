package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseKV 对任意 KV 实现执行相同的读写契约检查。
func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	val, err := kv.Get(ctx, "session:missing")
	require.NoError(t, err)
	assert.Nil(t, val, "absent key must read as nil")

	require.NoError(t, kv.Put(ctx, "session:a", []byte(`[{"role":"user","content":"hi"}]`)))
	val, err = kv.Get(ctx, "session:a")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"role":"user","content":"hi"}]`, string(val))

	// 覆盖写而不是追加
	require.NoError(t, kv.Put(ctx, "session:a", []byte(`[]`)))
	val, err = kv.Get(ctx, "session:a")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(val))

	// 不同 key 互不影响
	require.NoError(t, kv.Put(ctx, "session:b", []byte(`"b"`)))
	val, err = kv.Get(ctx, "session:a")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(val))

	// 会话标识由客户端提供，长度不受限制
	long := "session:" + strings.Repeat("x", 1000)
	require.NoError(t, kv.Put(ctx, long, []byte(`["long"]`)))
	val, err = kv.Get(ctx, long)
	require.NoError(t, err)
	assert.Equal(t, `["long"]`, string(val))
}

func TestMemoryKV(t *testing.T) {
	kv := NewMemoryKV()
	exerciseKV(t, kv)
	assert.Equal(t, 2, kv.Len())

	kv.Delete("session:a")
	val, err := kv.Get(context.Background(), "session:a")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestMemoryKVReturnsCopies(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()
	src := []byte("abc")
	require.NoError(t, kv.Put(ctx, "k", src))
	src[0] = 'x'

	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	got[1] = 'y'
	again, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestFileKV(t *testing.T) {
	kv, err := NewFileKV(filepath.Join(t.TempDir(), "history"))
	require.NoError(t, err)
	exerciseKV(t, kv)
}

func TestFileKVKeyCannotEscapeDir(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewFileKV(dir)
	require.NoError(t, err)

	key := "session:../../etc/passwd"
	require.NoError(t, kv.Put(context.Background(), key, []byte("x")))
	assert.Equal(t, dir, filepath.Dir(kv.filePath(key)))
}

func TestFileKVNameLengthIsFixed(t *testing.T) {
	kv, err := NewFileKV(t.TempDir())
	require.NoError(t, err)

	short := filepath.Base(kv.filePath("session:a"))
	long := filepath.Base(kv.filePath("session:" + strings.Repeat("y", 4096)))
	assert.Len(t, long, len(short))
	assert.Less(t, len(long), 255)
}

func TestSQLiteKV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "tutor.db")
	kv, err := OpenSQLKV(context.Background(), TypeSQLite, path)
	require.NoError(t, err)
	defer kv.Close()
	exerciseKV(t, kv)
}

func TestNewSelectsBackend(t *testing.T) {
	ctx := context.Background()

	kv, err := New(ctx, TypeMemory)
	require.NoError(t, err)
	assert.IsType(t, &MemoryKV{}, kv)

	kv, err = New(ctx, TypeFile, WithPath(t.TempDir()))
	require.NoError(t, err)
	assert.IsType(t, &FileKV{}, kv)

	kv, err = New(ctx, TypeSQLite, WithPath(filepath.Join(t.TempDir(), "kv.db")))
	require.NoError(t, err)
	assert.IsType(t, &SQLKV{}, kv)
	require.NoError(t, kv.Close())
}

func TestNewRejectsBadConfig(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, "etcd")
	assert.ErrorIs(t, err, ErrInvalidStoreType)

	_, err = New(ctx, TypeFile)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(ctx, TypeRedis)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(ctx, TypePostgres)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
