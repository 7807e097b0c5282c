package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileKV 实现基于文件系统的 KV。
// 每个 key 存储在单独的文件中，文件名是 key 的 SHA-256 十六进制摘要：
// 长度固定，含分隔符的 key 也不会造成路径穿越。
type FileKV struct {
	baseDir string
	mu      sync.RWMutex // 全局锁，保护文件系统操作并发安全
}

// NewFileKV 创建一个新的 FileKV。
// baseDir: 存储目录路径，不存在时自动创建。
func NewFileKV(baseDir string) (*FileKV, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileKV{baseDir: baseDir}, nil
}

// filePath 返回 key 对应的文件路径。
func (s *FileKV) filePath(key string) string {
	return filepath.Join(s.baseDir, hashKey(key)+".json")
}

// Get 读取文件内容；文件不存在视为 key 不存在。
func (s *FileKV) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.filePath(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", key, err)
	}
	return data, nil
}

// Put 先写临时文件再 rename，读者不会看到写了一半的内容。
func (s *FileKV) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.filePath(key)
	tmp, err := os.CreateTemp(s.baseDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %q: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %q: %w", key, err)
	}
	return nil
}

// Close 无需释放资源。
func (s *FileKV) Close() error {
	return nil
}
