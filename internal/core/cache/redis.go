package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"
)

// Store 快取存取介面
type Store interface {
	// Get 查找條目；未命中或已過期回傳 common.ErrCacheMiss，命中時遞增命中計數
	Get(ctx context.Context, key string) (*Entry, error)
	// Set 以固定 TTL upsert 條目（冪等，重複並發寫入安全收斂）
	Set(ctx context.Context, key string, entry *Entry) error
}

// RedisService Redis 快取服務
type RedisService struct {
	client *redis.Client
	config *config.CacheConfig
}

// NewRedisService 創建 Redis 快取服務
func NewRedisService(client *redis.Client, cfg *config.CacheConfig) *RedisService {
	return &RedisService{client: client, config: cfg}
}

// Get 獲取快取
func (s *RedisService) Get(ctx context.Context, key string) (*Entry, error) {
	if !s.config.Enabled || s.client == nil {
		return nil, common.ErrCacheDisabled
	}

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, common.ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}

	var entry Entry
	if err := common.ParseJSONBytes(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	// TTL 之外再驗一次過期時間，防禦時鐘飄移與 TTL 設定變更
	if entry.Expired(time.Now()) {
		return nil, common.ErrCacheMiss
	}

	// 命中計數記在獨立鍵，避免重寫整包載荷
	hits, err := s.client.Incr(ctx, key+":hits").Result()
	if err != nil {
		common.LogWarn("快取命中計數遞增失敗", zap.Error(err))
	} else {
		entry.HitCount = hits
	}

	return &entry, nil
}

// Set 設置快取
func (s *RedisService) Set(ctx context.Context, key string, entry *Entry) error {
	if !s.config.Enabled || s.client == nil {
		return nil
	}

	data, err := common.ToJSON(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, s.config.TTL)
	pipe.Set(ctx, key+":hits", 0, s.config.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	return nil
}
