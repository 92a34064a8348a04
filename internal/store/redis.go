package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xkilldash9x/tapwise/api/schemas"
	"github.com/xkilldash9x/tapwise/internal/cache"
	"go.uber.org/zap"
)

// RedisClient is the subset of *redis.Client the repository uses.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HSetNX(ctx context.Context, key, field string, value interface{}) *redis.BoolCmd
	HIncrBy(ctx context.Context, key, field string, incr int64) *redis.IntCmd
	ZAddNX(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Close() error
}

// Hash fields of one cached position.
const (
	fieldText       = "text"
	fieldBox        = "bounding_box"
	fieldCenter     = "center"
	fieldConfidence = "confidence"
	fieldCreatedAt  = "created_at"
	fieldHitCount   = "hit_count"
	fieldVerifiedAt = "last_verified_at"
)

// RedisRepository keeps each position in a hash and indexes the hash keys
// in a sorted set scored by creation time in Unix milliseconds.
type RedisRepository struct {
	client RedisClient
	prefix string
	log    *zap.Logger
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int, prefix string, logger *zap.Logger) (*RedisRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	repo, err := NewRedisRepository(ctx, client, prefix, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return repo, nil
}

// NewRedisRepository wraps an existing client.
func NewRedisRepository(ctx context.Context, client RedisClient, prefix string, logger *zap.Logger) (*RedisRepository, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "tapwise"
	}
	return &RedisRepository{client: client, prefix: prefix, log: logger.Named("store.redis")}, nil
}

func (r *RedisRepository) positionKey(key schemas.CacheKey) string {
	return strings.Join([]string{r.prefix, "pos", key.ScreenFingerprint, key.AppContext, key.Text}, ":")
}

func (r *RedisRepository) indexKey() string {
	return r.prefix + ":pos:index"
}

func (r *RedisRepository) Get(ctx context.Context, key schemas.CacheKey) (*schemas.CachedPosition, error) {
	fields, err := r.client.HGetAll(ctx, r.positionKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cached position: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	pos := schemas.CachedPosition{Text: key.Text, ScreenFingerprint: key.ScreenFingerprint, AppContext: key.AppContext}
	if err := decodeGeometry([]byte(fields[fieldBox]), []byte(fields[fieldCenter]), &pos); err != nil {
		return nil, err
	}
	if pos.Confidence, err = strconv.ParseFloat(fields[fieldConfidence], 64); err != nil {
		return nil, fmt.Errorf("failed to parse confidence: %w", err)
	}
	if pos.HitCount, err = strconv.Atoi(fields[fieldHitCount]); err != nil {
		return nil, fmt.Errorf("failed to parse hit count: %w", err)
	}
	if pos.CreatedAt, err = time.Parse(time.RFC3339Nano, fields[fieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if pos.LastVerifiedAt, err = time.Parse(time.RFC3339Nano, fields[fieldVerifiedAt]); err != nil {
		return nil, fmt.Errorf("failed to parse last_verified_at: %w", err)
	}
	return &pos, nil
}

func (r *RedisRepository) Upsert(ctx context.Context, pos schemas.CachedPosition) error {
	box, center, err := encodeGeometry(pos)
	if err != nil {
		return err
	}
	key := r.positionKey(pos.Key())

	// Creation time and hit count are written only for a new hash.
	if err := r.client.HSetNX(ctx, key, fieldCreatedAt, pos.CreatedAt.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("failed to upsert cached position: %w", err)
	}
	if err := r.client.HSetNX(ctx, key, fieldHitCount, pos.HitCount).Err(); err != nil {
		return fmt.Errorf("failed to upsert cached position: %w", err)
	}
	err = r.client.HSet(ctx, key,
		fieldText, pos.Text,
		fieldBox, box,
		fieldCenter, center,
		fieldConfidence, strconv.FormatFloat(pos.Confidence, 'f', -1, 64),
		fieldVerifiedAt, pos.LastVerifiedAt.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to upsert cached position: %w", err)
	}
	member := redis.Z{Score: float64(pos.CreatedAt.UnixMilli()), Member: key}
	if err := r.client.ZAddNX(ctx, r.indexKey(), member).Err(); err != nil {
		return fmt.Errorf("failed to index cached position: %w", err)
	}
	return nil
}

func (r *RedisRepository) Touch(ctx context.Context, key schemas.CacheKey, at time.Time) error {
	hkey := r.positionKey(key)
	n, err := r.client.Exists(ctx, hkey).Result()
	if err != nil {
		return fmt.Errorf("failed to update hit count: %w", err)
	}
	if n == 0 {
		return nil
	}
	if err := r.client.HIncrBy(ctx, hkey, fieldHitCount, 1).Err(); err != nil {
		return fmt.Errorf("failed to update hit count: %w", err)
	}
	if err := r.client.HSet(ctx, hkey, fieldVerifiedAt, at.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("failed to update verification time: %w", err)
	}
	return nil
}

func (r *RedisRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	keys, err := r.client.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan position index: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete old cached positions: %w", err)
	}
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	if err := r.client.ZRem(ctx, r.indexKey(), members...).Err(); err != nil {
		return deleted, fmt.Errorf("failed to prune position index: %w", err)
	}
	r.log.Debug("Deleted old cached positions.", zap.Int64("rows", deleted), zap.Time("cutoff", cutoff))
	return deleted, nil
}

func (r *RedisRepository) Summary(ctx context.Context) (cache.Summary, error) {
	var sum cache.Summary
	keys, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return sum, fmt.Errorf("failed to read position index: %w", err)
	}

	var hits int64
	for _, k := range keys {
		n, err := r.client.HGet(ctx, k, fieldHitCount).Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return cache.Summary{}, fmt.Errorf("failed to read hit count: %w", err)
		}
		sum.Entries++
		hits += n
	}
	if sum.Entries == 0 {
		return sum, nil
	}
	sum.AvgHitCount = float64(hits) / float64(sum.Entries)

	newest, err := r.client.ZRevRangeWithScores(ctx, r.indexKey(), 0, 0).Result()
	if err != nil {
		return cache.Summary{}, fmt.Errorf("failed to read newest position: %w", err)
	}
	if len(newest) > 0 {
		sum.LastUpdate = time.UnixMilli(int64(newest[0].Score)).UTC()
	}
	return sum, nil
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}
