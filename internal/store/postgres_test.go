package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/tapwise/api/schemas"
	"go.uber.org/zap"
)

const (
	sqlSelectPosition = `
        SELECT bounding_box, center, confidence, created_at, hit_count, last_verified_at
        FROM cached_positions
        WHERE text = $1 AND screen_fingerprint = $2 AND app_context = $3`
	sqlUpsertPosition = `
        INSERT INTO cached_positions (text, screen_fingerprint, app_context, bounding_box, center, confidence, created_at, hit_count, last_verified_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (text, screen_fingerprint, app_context) DO UPDATE SET
            bounding_box = EXCLUDED.bounding_box,
            center = EXCLUDED.center,
            confidence = EXCLUDED.confidence,
            last_verified_at = EXCLUDED.last_verified_at`
	sqlTouchPosition = `
        UPDATE cached_positions
        SET hit_count = hit_count + 1, last_verified_at = $1
        WHERE text = $2 AND screen_fingerprint = $3 AND app_context = $4`
)

var positionColumns = []string{"bounding_box", "center", "confidence", "created_at", "hit_count", "last_verified_at"}

func newPostgres(t *testing.T) (*PostgresRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	mockPool.ExpectPing()

	repo, err := NewPostgresRepository(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return repo, mockPool
}

func TestNewPostgresRepository(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewPostgresRepository(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresRepository_Migrate(t *testing.T) {
	t.Run("applies schema in a transaction", func(t *testing.T) {
		repo, mockPool := newPostgres(t)
		mockPool.ExpectBegin()
		for _, stmt := range postgresSchema {
			mockPool.ExpectExec(flexibleSQLMatcher(stmt)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
		}
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, repo.Migrate(context.Background()))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		repo, mockPool := newPostgres(t)
		ddlErr := errors.New("permission denied")
		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(postgresSchema[0])).WillReturnError(ddlErr)
		mockPool.ExpectRollback()

		err := repo.Migrate(context.Background())
		assert.ErrorIs(t, err, ddlErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresRepository_Get(t *testing.T) {
	pos := samplePosition("Send")
	key := pos.Key()

	t.Run("found", func(t *testing.T) {
		repo, mockPool := newPostgres(t)
		verified := baseTime.Add(time.Minute)
		rows := pgxmock.NewRows(positionColumns).AddRow(
			[]byte(`{"x":100,"y":200,"width":80,"height":40}`),
			[]byte(`{"x":140,"y":220}`),
			0.92, baseTime, 3, verified,
		)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectPosition)).
			WithArgs(key.Text, key.ScreenFingerprint, key.AppContext).
			WillReturnRows(rows)

		got, err := repo.Get(context.Background(), key)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, pos.Box, got.Box)
		assert.Equal(t, schemas.Point{X: 140, Y: 220}, got.Center)
		assert.Equal(t, 3, got.HitCount)
		assert.Equal(t, verified, got.LastVerifiedAt)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		repo, mockPool := newPostgres(t)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectPosition)).
			WithArgs(key.Text, key.ScreenFingerprint, key.AppContext).
			WillReturnRows(pgxmock.NewRows(positionColumns))

		got, err := repo.Get(context.Background(), key)
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresRepository_Writes(t *testing.T) {
	pos := samplePosition("Send")
	key := pos.Key()
	repo, mockPool := newPostgres(t)

	mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertPosition)).
		WithArgs(
			pos.Text, pos.ScreenFingerprint, pos.AppContext,
			`{"x":100,"y":200,"width":80,"height":40}`, `{"x":140,"y":220}`,
			pos.Confidence, anyTime, 0, anyTime,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectExec(flexibleSQLMatcher(sqlTouchPosition)).
		WithArgs(anyTime, key.Text, key.ScreenFingerprint, key.AppContext).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mockPool.ExpectExec(flexibleSQLMatcher(`DELETE FROM cached_positions WHERE created_at < $1`)).
		WithArgs(anyTime).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	ctx := context.Background()
	require.NoError(t, repo.Upsert(ctx, pos))
	require.NoError(t, repo.Touch(ctx, key, baseTime))
	n, err := repo.DeleteOlderThan(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresRepository_Summary(t *testing.T) {
	query := flexibleSQLMatcher(`SELECT COUNT(*), COALESCE(AVG(hit_count), 0)::float8, MAX(created_at) FROM cached_positions`)

	t.Run("populated", func(t *testing.T) {
		repo, mockPool := newPostgres(t)
		newest := baseTime
		mockPool.ExpectQuery(query).WillReturnRows(
			pgxmock.NewRows([]string{"count", "avg", "max"}).AddRow(int64(4), 2.5, &newest))

		sum, err := repo.Summary(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(4), sum.Entries)
		assert.InDelta(t, 2.5, sum.AvgHitCount, 1e-9)
		assert.Equal(t, baseTime, sum.LastUpdate)
	})

	t.Run("empty table", func(t *testing.T) {
		repo, mockPool := newPostgres(t)
		mockPool.ExpectQuery(query).WillReturnRows(
			pgxmock.NewRows([]string{"count", "avg", "max"}).AddRow(int64(0), 0.0, nil))

		sum, err := repo.Summary(context.Background())
		require.NoError(t, err)
		assert.Zero(t, sum.Entries)
		assert.True(t, sum.LastUpdate.IsZero())
	})
}
