package store

import (
	"context"
	"sync"
)

// MemoryKV 提供简单的基于内存的键值实现。
// 适合本地开发与测试；进程重启即丢失。
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKV 创建内存存储实例。
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// Get 返回指定 key 的值副本。
func (s *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil || key == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if val, ok := s.data[key]; ok {
		return cloneBytes(val), nil
	}
	return nil, nil
}

// Put 覆盖存储 key 的值。
func (s *MemoryKV) Put(ctx context.Context, key string, value []byte) error {
	if s == nil || key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string][]byte)
	}
	s.data[key] = cloneBytes(value)
	return nil
}

// Delete 删除 key，用于模拟外部过期。
func (s *MemoryKV) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Len 返回当前 key 数量。
func (s *MemoryKV) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Close 清空数据。
func (s *MemoryKV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}

// cloneBytes 复制字节切片，避免调用方与存储共享底层数组。
func cloneBytes(src []byte) []byte {
	if src == nil {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}
