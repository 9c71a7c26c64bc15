// Package cache keeps fetched pages and search responses so concurrent
// research runs do not hit the same remote endpoint twice within the TTL.
package cache

import (
	"context"
	"sync"
	"time"
)

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Open returns a sqlite-backed cache at path, or an in-memory cache when path is empty.
func Open(ctx context.Context, path string, ttl time.Duration) (Cache, error) {
	if path == "" {
		return NewMemory(ttl), nil
	}
	return NewSQLite(ctx, path, ttl)
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

func NewMemory(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: map[string]entry{},
	}
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cached, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(cached.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), cached.value...), true, nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, value []byte) error {
	if m.ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{value: append([]byte(nil), value...), expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryCache) Close() error {
	return nil
}
