package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockRedisClient answers with canned redis results.
type mockRedisClient struct {
	mock.Mock
}

func (m *mockRedisClient) Ping(ctx context.Context) *redis.StatusCmd {
	args := m.Called(ctx)
	return redis.NewStatusResult("PONG", args.Error(0))
}

func (m *mockRedisClient) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	return redis.NewIntResult(int64(args.Int(0)), args.Error(1))
}

func (m *mockRedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	return redis.NewIntResult(int64(args.Int(0)), args.Error(1))
}

func (m *mockRedisClient) HGet(ctx context.Context, key, field string) *redis.StringCmd {
	args := m.Called(ctx, key, field)
	return redis.NewStringResult(args.String(0), args.Error(1))
}

func (m *mockRedisClient) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	args := m.Called(ctx, key)
	fields, _ := args.Get(0).(map[string]string)
	return redis.NewMapStringStringResult(fields, args.Error(1))
}

func (m *mockRedisClient) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	args := m.Called(ctx, key, values)
	return redis.NewIntResult(int64(len(values)/2), args.Error(0))
}

func (m *mockRedisClient) HSetNX(ctx context.Context, key, field string, value interface{}) *redis.BoolCmd {
	args := m.Called(ctx, key, field, value)
	return redis.NewBoolResult(args.Bool(0), args.Error(1))
}

func (m *mockRedisClient) HIncrBy(ctx context.Context, key, field string, incr int64) *redis.IntCmd {
	args := m.Called(ctx, key, field, incr)
	return redis.NewIntResult(int64(args.Int(0)), args.Error(1))
}

func (m *mockRedisClient) ZAddNX(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	args := m.Called(ctx, key, members)
	return redis.NewIntResult(int64(len(members)), args.Error(0))
}

func (m *mockRedisClient) ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	args := m.Called(ctx, key, start, stop)
	keys, _ := args.Get(0).([]string)
	return redis.NewStringSliceResult(keys, args.Error(1))
}

func (m *mockRedisClient) ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd {
	args := m.Called(ctx, key, opt)
	keys, _ := args.Get(0).([]string)
	return redis.NewStringSliceResult(keys, args.Error(1))
}

func (m *mockRedisClient) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd {
	args := m.Called(ctx, key, start, stop)
	zs, _ := args.Get(0).([]redis.Z)
	return redis.NewZSliceCmdResult(zs, args.Error(1))
}

func (m *mockRedisClient) ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	args := m.Called(ctx, key, members)
	return redis.NewIntResult(int64(len(members)), args.Error(0))
}

func (m *mockRedisClient) Close() error {
	return m.Called().Error(0)
}

const hashKey = "tw:pos:00ff00ff00ff00ff:messages:Send"

func newRedis(t *testing.T) (*RedisRepository, *mockRedisClient) {
	t.Helper()
	client := new(mockRedisClient)
	client.On("Ping", mock.Anything).Return(nil).Once()
	repo, err := NewRedisRepository(context.Background(), client, "tw", zap.NewNop())
	require.NoError(t, err)
	return repo, client
}

func TestNewRedisRepository_PingFailure(t *testing.T) {
	client := new(mockRedisClient)
	pingErr := errors.New("connection refused")
	client.On("Ping", mock.Anything).Return(pingErr)

	_, err := NewRedisRepository(context.Background(), client, "", nil)
	assert.ErrorIs(t, err, pingErr)
}

func TestRedisRepository_Keys(t *testing.T) {
	repo, _ := newRedis(t)
	assert.Equal(t, hashKey, repo.positionKey(samplePosition("Send").Key()))
	assert.Equal(t, "tw:pos:index", repo.indexKey())
}

func TestRedisRepository_Get(t *testing.T) {
	ctx := context.Background()
	pos := samplePosition("Send")

	t.Run("missing hash", func(t *testing.T) {
		repo, client := newRedis(t)
		client.On("HGetAll", ctx, hashKey).Return(map[string]string{}, nil)

		got, err := repo.Get(ctx, pos.Key())
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("decodes fields", func(t *testing.T) {
		repo, client := newRedis(t)
		client.On("HGetAll", ctx, hashKey).Return(map[string]string{
			fieldText:       "Send",
			fieldBox:        `{"x":100,"y":200,"width":80,"height":40}`,
			fieldCenter:     `{"x":140,"y":220}`,
			fieldConfidence: "0.92",
			fieldHitCount:   "7",
			fieldCreatedAt:  baseTime.Format(time.RFC3339Nano),
			fieldVerifiedAt: baseTime.Add(time.Hour).Format(time.RFC3339Nano),
		}, nil)

		got, err := repo.Get(ctx, pos.Key())
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, pos.Box, got.Box)
		assert.Equal(t, pos.Center, got.Center)
		assert.Equal(t, 7, got.HitCount)
		assert.True(t, baseTime.Equal(got.CreatedAt))
		assert.True(t, baseTime.Add(time.Hour).Equal(got.LastVerifiedAt))
	})

	t.Run("bad hit count", func(t *testing.T) {
		repo, client := newRedis(t)
		client.On("HGetAll", ctx, hashKey).Return(map[string]string{
			fieldBox:        `{}`,
			fieldCenter:     `{}`,
			fieldConfidence: "0.5",
			fieldHitCount:   "many",
		}, nil)

		_, err := repo.Get(ctx, pos.Key())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "hit count")
	})
}

func TestRedisRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	pos := samplePosition("Send")
	repo, client := newRedis(t)

	client.On("HSetNX", ctx, hashKey, fieldCreatedAt, baseTime.Format(time.RFC3339Nano)).Return(true, nil).Once()
	client.On("HSetNX", ctx, hashKey, fieldHitCount, 0).Return(true, nil).Once()
	client.On("HSet", ctx, hashKey, mock.MatchedBy(func(values []interface{}) bool {
		return len(values) == 10 && values[0] == fieldText && values[1] == "Send"
	})).Return(nil).Once()
	client.On("ZAddNX", ctx, "tw:pos:index", []redis.Z{{Score: float64(baseTime.UnixMilli()), Member: hashKey}}).Return(nil).Once()

	require.NoError(t, repo.Upsert(ctx, pos))
	client.AssertExpectations(t)
}

func TestRedisRepository_Touch(t *testing.T) {
	ctx := context.Background()
	key := samplePosition("Send").Key()

	t.Run("existing hash", func(t *testing.T) {
		repo, client := newRedis(t)
		client.On("Exists", ctx, []string{hashKey}).Return(1, nil)
		client.On("HIncrBy", ctx, hashKey, fieldHitCount, int64(1)).Return(2, nil)
		client.On("HSet", ctx, hashKey, []interface{}{fieldVerifiedAt, baseTime.Format(time.RFC3339Nano)}).Return(nil)

		require.NoError(t, repo.Touch(ctx, key, baseTime))
		client.AssertExpectations(t)
	})

	t.Run("missing hash is left alone", func(t *testing.T) {
		repo, client := newRedis(t)
		client.On("Exists", ctx, []string{hashKey}).Return(0, nil)

		require.NoError(t, repo.Touch(ctx, key, baseTime))
		client.AssertNotCalled(t, "HIncrBy", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRedisRepository_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	repo, client := newRedis(t)
	cutoff := baseTime
	stale := []string{"tw:pos:a:b:One", "tw:pos:a:b:Two"}

	client.On("ZRangeByScore", ctx, "tw:pos:index", &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + "1772366400000",
	}).Return(stale, nil)
	client.On("Del", ctx, stale).Return(2, nil)
	client.On("ZRem", ctx, "tw:pos:index", []interface{}{stale[0], stale[1]}).Return(nil)

	n, err := repo.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	client.AssertExpectations(t)
}

func TestRedisRepository_Summary(t *testing.T) {
	ctx := context.Background()
	repo, client := newRedis(t)

	client.On("ZRange", ctx, "tw:pos:index", int64(0), int64(-1)).Return([]string{"k1", "k2", "gone"}, nil)
	client.On("HGet", ctx, "k1", fieldHitCount).Return("1", nil)
	client.On("HGet", ctx, "k2", fieldHitCount).Return("4", nil)
	client.On("HGet", ctx, "gone", fieldHitCount).Return("", redis.Nil)
	client.On("ZRevRangeWithScores", ctx, "tw:pos:index", int64(0), int64(0)).
		Return([]redis.Z{{Score: float64(baseTime.UnixMilli()), Member: "k2"}}, nil)

	sum, err := repo.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.Entries)
	assert.InDelta(t, 2.5, sum.AvgHitCount, 1e-9)
	assert.True(t, baseTime.Equal(sum.LastUpdate))
}
