package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// ScanCache 最近一次局域网扫描结果缓存
type ScanCache interface {
	SaveScan(ctx context.Context, v any) error
	// LoadScan 将缓存解码到 dst；无缓存或已过期时返回 false
	LoadScan(ctx context.Context, dst any) (bool, error)
}

// MemoryScanCache 进程内扫描缓存，Redis 未启用时使用
type MemoryScanCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	payload []byte
	savedAt time.Time
	now     func() time.Time
}

// NewMemoryScanCache ttl<=0 表示永不过期
func NewMemoryScanCache(ttl time.Duration) *MemoryScanCache {
	return &MemoryScanCache{ttl: ttl, now: time.Now}
}

func (m *MemoryScanCache) SaveScan(_ context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.payload = b
	m.savedAt = m.now()
	m.mu.Unlock()
	return nil
}

func (m *MemoryScanCache) LoadScan(_ context.Context, dst any) (bool, error) {
	m.mu.RLock()
	payload, savedAt := m.payload, m.savedAt
	m.mu.RUnlock()

	if payload == nil {
		return false, nil
	}
	if m.ttl > 0 && m.now().Sub(savedAt) > m.ttl {
		return false, nil
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return false, err
	}
	return true, nil
}
