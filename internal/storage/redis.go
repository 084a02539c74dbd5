package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"storefront/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisStorage implements the Storage interface using Redis. Events live in
// one sorted set per identifier scored by occurrence time, so window counts
// are a ZCOUNT and pruning is a ZREMRANGEBYSCORE. Key records are stored as
// JSON with the volatile quota counters split into a hash, so increments do
// not rewrite the whole record.
type RedisStorage struct {
	client *redis.Client
}

const (
	redisEventsPrefix   = "events:"
	redisKeyIDPrefix    = "apikeys:id:"
	redisKeyHashPrefix  = "apikeys:hash:"
	redisKeyQuotaPrefix = "apikeys:quota:"
	redisKeySetKey      = "apikeys:all"

	// Event zsets expire if untouched; generous relative to the 24h
	// retention horizon so opportunistic pruning stays the authority.
	redisEventsTTL = 48 * time.Hour
)

// rollDailyScript resets the quota hash only when the stored date differs,
// making the roll-over a single atomic operation on the server.
var rollDailyScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'date') ~= ARGV[1] then
	redis.call('HSET', KEYS[1], 'count', 0, 'date', ARGV[1])
end
return 1
`)

// NewRedisStorage creates a new Redis storage instance.
func NewRedisStorage(config Config) (Storage, error) {
	if config.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address is required for redis storage")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisStorage{client: client}, nil
}

// RecordEvent appends one admitted request to the event log.
func (rs *RedisStorage) RecordEvent(ctx context.Context, event *models.RequestEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := redisEventsPrefix + event.Identifier

	pipe := rs.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(event.OccurredAt.UnixNano()),
		Member: payload,
	})
	pipe.Expire(ctx, key, redisEventsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// CountEvents returns the number of events for an identifier at or after since.
func (rs *RedisStorage) CountEvents(ctx context.Context, identifier string, since time.Time) (int, error) {
	min := strconv.FormatInt(since.UnixNano(), 10)
	count, err := rs.client.ZCount(ctx, redisEventsPrefix+identifier, min, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return int(count), nil
}

// OldestEvent returns the oldest event time for an identifier at or after
// since, or the zero time when there is none.
func (rs *RedisStorage) OldestEvent(ctx context.Context, identifier string, since time.Time) (time.Time, error) {
	entries, err := rs.client.ZRangeByScoreWithScores(ctx, redisEventsPrefix+identifier, &redis.ZRangeBy{
		Min:    strconv.FormatInt(since.UnixNano(), 10),
		Max:    "+inf",
		Offset: 0,
		Count:  1,
	}).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get oldest event: %w", err)
	}
	if len(entries) == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, int64(entries[0].Score)).UTC(), nil
}

// PruneEvents deletes events strictly older than the cutoff across all
// identifiers.
func (rs *RedisStorage) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	max := "(" + strconv.FormatInt(before.UnixNano(), 10)
	var removed int64
	var cursor uint64
	for {
		keys, next, err := rs.client.Scan(ctx, cursor, redisEventsPrefix+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to prune events: %w", err)
		}
		for _, key := range keys {
			n, err := rs.client.ZRemRangeByScore(ctx, key, "-inf", max).Result()
			if err != nil {
				return removed, fmt.Errorf("failed to prune events: %w", err)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}

// CreateAPIKey stores a new API key.
func (rs *RedisStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	payload, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("marshal api key: %w", err)
	}

	pipe := rs.client.TxPipeline()
	pipe.Set(ctx, redisKeyIDPrefix+key.ID, payload, 0)
	pipe.Set(ctx, redisKeyHashPrefix+key.KeyHash, key.ID, 0)
	pipe.SAdd(ctx, redisKeySetKey, key.ID)
	pipe.HSet(ctx, redisKeyQuotaPrefix+key.ID,
		"count", key.DailyUsageCount, "date", key.DailyUsageDate)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// GetAPIKeyByID retrieves an API key by its ID.
func (rs *RedisStorage) GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error) {
	payload, err := rs.client.Get(ctx, redisKeyIDPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}

	var key models.APIKey
	if err := json.Unmarshal(payload, &key); err != nil {
		return nil, fmt.Errorf("unmarshal api key: %w", err)
	}
	if err := rs.loadQuota(ctx, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

// GetAPIKeyByHash retrieves an API key by its SHA-256 hash.
func (rs *RedisStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	id, err := rs.client.Get(ctx, redisKeyHashPrefix+hash).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return rs.GetAPIKeyByID(ctx, id)
}

// ListAPIKeys returns all API keys (both enabled and disabled).
func (rs *RedisStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	ids, err := rs.client.SMembers(ctx, redisKeySetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	keys := make([]*models.APIKey, 0, len(ids))
	for _, id := range ids {
		key, err := rs.GetAPIKeyByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // index entry for a concurrently deleted key
			}
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// UpdateAPIKey replaces the mutable fields of an existing API key. The quota
// hash is left untouched so concurrent increments are not lost.
func (rs *RedisStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	existing, err := rs.GetAPIKeyByID(ctx, key.ID)
	if err != nil {
		return err
	}

	updated := *key
	updated.DailyUsageCount = existing.DailyUsageCount
	updated.DailyUsageDate = existing.DailyUsageDate
	updated.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(&updated)
	if err != nil {
		return fmt.Errorf("marshal api key: %w", err)
	}

	pipe := rs.client.TxPipeline()
	if existing.KeyHash != updated.KeyHash {
		pipe.Del(ctx, redisKeyHashPrefix+existing.KeyHash)
		pipe.Set(ctx, redisKeyHashPrefix+updated.KeyHash, updated.ID, 0)
	}
	pipe.Set(ctx, redisKeyIDPrefix+updated.ID, payload, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	return nil
}

// DeleteAPIKey permanently removes an API key by ID.
func (rs *RedisStorage) DeleteAPIKey(ctx context.Context, id string) error {
	key, err := rs.GetAPIKeyByID(ctx, id)
	if err != nil {
		return err
	}

	pipe := rs.client.TxPipeline()
	pipe.Del(ctx, redisKeyIDPrefix+id)
	pipe.Del(ctx, redisKeyHashPrefix+key.KeyHash)
	pipe.Del(ctx, redisKeyQuotaPrefix+id)
	pipe.SRem(ctx, redisKeySetKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return nil
}

// RollDailyUsage performs the once-per-day counter reset atomically via a
// server-side script.
func (rs *RedisStorage) RollDailyUsage(ctx context.Context, keyID string, date string) error {
	err := rollDailyScript.Run(ctx, rs.client,
		[]string{redisKeyQuotaPrefix + keyID}, date).Err()
	if err != nil {
		return fmt.Errorf("roll daily usage: %w", err)
	}
	return nil
}

// IncrementDailyUsage adds one to a key's daily usage counter atomically.
func (rs *RedisStorage) IncrementDailyUsage(ctx context.Context, keyID string) error {
	err := rs.client.HIncrBy(ctx, redisKeyQuotaPrefix+keyID, "count", 1).Err()
	if err != nil {
		return fmt.Errorf("increment daily usage: %w", err)
	}
	return nil
}

// Ping verifies the storage backend is reachable and operational.
func (rs *RedisStorage) Ping(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}

// Close closes the storage connection.
func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}

// loadQuota overlays the volatile counter fields from the quota hash.
func (rs *RedisStorage) loadQuota(ctx context.Context, key *models.APIKey) error {
	fields, err := rs.client.HGetAll(ctx, redisKeyQuotaPrefix+key.ID).Result()
	if err != nil {
		return fmt.Errorf("get quota fields: %w", err)
	}
	if raw, ok := fields["count"]; ok {
		if count, err := strconv.Atoi(raw); err == nil {
			key.DailyUsageCount = count
		}
	}
	if date, ok := fields["date"]; ok {
		key.DailyUsageDate = date
	}
	return nil
}
