package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/clipvault/clipvault/internal/config"
	"github.com/clipvault/clipvault/internal/logger"
)

const (
	redisItemPrefix = "clipvault:item:"
	redisBlobPrefix = "clipvault:blob:"
	redisItemIndex  = "clipvault:items"
)

// RedisStore backs both the item store and the blob store with one client.
// Records are JSON values; ordering lives in a sorted set scored by capture
// time.
type RedisStore struct {
	client *redis.Client
	logger *logger.Logger
}

// NewRedisStore connects and verifies the redis backend
func NewRedisStore(cfg config.RedisConfig, log *logger.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("Redis store initialized",
		zap.String("redis_url", maskURL(cfg.URL)),
		zap.Int("pool_size", cfg.PoolSize))

	return &RedisStore{client: client, logger: log}, nil
}

func (s *RedisStore) Put(ctx context.Context, rec ItemRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal item record: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, redisItemPrefix+rec.ID, data, 0)
	pipe.ZAdd(ctx, redisItemIndex, &redis.Z{
		Score:  float64(rec.CreatedAt.UnixNano()),
		Member: rec.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store item record: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (ItemRecord, error) {
	data, err := s.client.Get(ctx, redisItemPrefix+id).Bytes()
	if err == redis.Nil {
		return ItemRecord{}, ErrNotFound
	} else if err != nil {
		return ItemRecord{}, fmt.Errorf("failed to read item record: %w", err)
	}

	var rec ItemRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ItemRecord{}, fmt.Errorf("failed to unmarshal item record: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, redisItemPrefix+id)
	pipe.ZRem(ctx, redisItemIndex, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete item record: %w", err)
	}
	return nil
}

func (s *RedisStore) Query(ctx context.Context, spec QuerySpec) ([]ItemRecord, error) {
	start := int64(spec.Offset)
	stop := int64(-1)
	if spec.Limit > 0 {
		stop = start + int64(spec.Limit) - 1
	}

	ids, err := s.client.ZRevRange(ctx, redisItemIndex, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read item index: %w", err)
	}
	if len(ids) == 0 {
		return []ItemRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisItemPrefix + id
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read item records: %w", err)
	}

	records := make([]ItemRecord, 0, len(values))
	for i, value := range values {
		str, ok := value.(string)
		if !ok {
			continue // index entry without a record, compaction will drop it
		}
		var rec ItemRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			s.logger.Warn("Skipping corrupt item record", zap.String("id", ids[i]), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Compact drops index members whose record key is gone
func (s *RedisStore) Compact(ctx context.Context) error {
	ids, err := s.client.ZRange(ctx, redisItemIndex, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read item index: %w", err)
	}

	removed := 0
	for _, id := range ids {
		exists, err := s.client.Exists(ctx, redisItemPrefix+id).Result()
		if err != nil {
			return fmt.Errorf("failed to check item record: %w", err)
		}
		if exists == 0 {
			if err := s.client.ZRem(ctx, redisItemIndex, id).Err(); err != nil {
				return fmt.Errorf("failed to drop index entry: %w", err)
			}
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("Store compacted", zap.Int("removed_index_entries", removed))
	}
	return nil
}

func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Blobs returns the blob-store view over the same client
func (s *RedisStore) Blobs() BlobStore {
	return &redisBlobStore{client: s.client}
}

// redisBlobStore stores image bytes as plain values keyed by item id
type redisBlobStore struct {
	client *redis.Client
}

func (s *redisBlobStore) Save(ctx context.Context, id string, data []byte) (string, error) {
	key := redisBlobPrefix + id
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}
	return key, nil
}

func (s *redisBlobStore) Load(ctx context.Context, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, redisBlobPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (s *redisBlobStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, redisBlobPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
