package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"
)

// MemoryStore 行程內快取，供開發模式與測試使用（無 Redis 依賴）
type MemoryStore struct {
	config *config.CacheConfig
	mu     sync.RWMutex
	store  map[string]*Entry
	stats  memoryStats
}

// memoryStats 快取統計
type memoryStats struct {
	hits      int64
	misses    int64
	evictions int64
}

// NewMemoryStore 創建記憶體快取
func NewMemoryStore(cfg *config.CacheConfig) *MemoryStore {
	m := &MemoryStore{
		config: cfg,
		store:  make(map[string]*Entry),
	}

	common.LogInfo("記憶體快取已初始化",
		zap.Int("最大容量", cfg.MaxSize),
		zap.Duration("存活時間", cfg.TTL),
	)

	return m
}

// Get 獲取快取值
func (m *MemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	if !m.config.Enabled {
		return nil, common.ErrCacheDisabled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.store[key]
	if !exists {
		m.stats.misses++
		return nil, common.ErrCacheMiss
	}
	if entry.Expired(time.Now()) {
		delete(m.store, key)
		m.stats.evictions++
		m.stats.misses++
		return nil, common.ErrCacheMiss
	}

	entry.HitCount++
	m.stats.hits++

	// 回傳複本，呼叫端不可變動共享狀態
	copied := *entry
	return &copied, nil
}

// Set 設置快取值
func (m *MemoryStore) Set(ctx context.Context, key string, entry *Entry) error {
	if !m.config.Enabled {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.MaxSize > 0 && len(m.store) >= m.config.MaxSize {
		m.evictOldest()
	}

	copied := *entry
	m.store[key] = &copied
	return nil
}

// evictOldest 淘汰最舊的條目，呼叫端須持有寫鎖
func (m *MemoryStore) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	for key, entry := range m.store {
		if oldestKey == "" || entry.CreatedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.CreatedAt
		}
	}
	if oldestKey != "" {
		delete(m.store, oldestKey)
		m.stats.evictions++
	}
}

// Stats 回傳命中、未命中與淘汰統計
func (m *MemoryStore) Stats() (hits, misses, evictions int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats.hits, m.stats.misses, m.stats.evictions
}
