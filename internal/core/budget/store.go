// Package budget 實作配額與預算控管：
// 每月操作配額、每小時呼叫上限、視覺層每日分鐘預算（個人與全域）
package budget

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store 計數器存取介面
// 檢查與遞增必須是單一原子操作，避免並發嘗試同時通過檢查的雙重扣款競態
type Store interface {
	// IncrWithLimit 原子地將計數器加上 amount；若結果超過 limit 則回退並回傳 false
	IncrWithLimit(ctx context.Context, key string, amount, limit int64, ttl time.Duration) (bool, error)
	// Decr 釋放先前保留的額度
	Decr(ctx context.Context, key string, amount int64) error
	// Get 讀取計數器現值，鍵不存在時回傳 0
	Get(ctx context.Context, key string) (int64, error)
}

// incrWithLimitScript 檢查加遞增的單一原子腳本
// 先加後驗，超限立即回退，兩個動作在同一腳本內完成
var incrWithLimitScript = redis.NewScript(`
local current = redis.call('INCRBY', KEYS[1], ARGV[1])
if current > tonumber(ARGV[2]) then
    redis.call('DECRBY', KEYS[1], ARGV[1])
    return 0
end
if current == tonumber(ARGV[1]) then
    redis.call('EXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// RedisStore Redis 計數器存儲
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore 創建 Redis 計數器存儲
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// IncrWithLimit 原子檢查加遞增
func (s *RedisStore) IncrWithLimit(ctx context.Context, key string, amount, limit int64, ttl time.Duration) (bool, error) {
	result, err := incrWithLimitScript.Run(ctx, s.client,
		[]string{key}, amount, limit, int(ttl.Seconds())).Int64()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

// Decr 釋放額度
func (s *RedisStore) Decr(ctx context.Context, key string, amount int64) error {
	return s.client.DecrBy(ctx, key, amount).Err()
}

// Get 讀取計數器現值
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	value, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return value, err
}

// MemoryStore 行程內計數器，供開發模式與測試使用
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
}

type memoryCounter struct {
	value     int64
	expiresAt time.Time
}

// NewMemoryStore 創建記憶體計數器存儲
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*memoryCounter)}
}

// IncrWithLimit 原子檢查加遞增
func (s *MemoryStore) IncrWithLimit(ctx context.Context, key string, amount, limit int64, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, exists := s.counters[key]
	if !exists || time.Now().After(counter.expiresAt) {
		counter = &memoryCounter{expiresAt: time.Now().Add(ttl)}
		s.counters[key] = counter
	}

	if counter.value+amount > limit {
		return false, nil
	}
	counter.value += amount
	return true, nil
}

// Decr 釋放額度
func (s *MemoryStore) Decr(ctx context.Context, key string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if counter, exists := s.counters[key]; exists {
		counter.value -= amount
		if counter.value < 0 {
			counter.value = 0
		}
	}
	return nil
}

// Get 讀取計數器現值
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, exists := s.counters[key]
	if !exists || time.Now().After(counter.expiresAt) {
		return 0, nil
	}
	return counter.value, nil
}
