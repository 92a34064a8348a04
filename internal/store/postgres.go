package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xkilldash9x/tapwise/api/schemas"
	"github.com/xkilldash9x/tapwise/internal/cache"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresRepository shares the position cache between hosts.
type PostgresRepository struct {
	pool DBPool
	log  *zap.Logger
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS cached_positions (
        text TEXT NOT NULL,
        screen_fingerprint TEXT NOT NULL,
        app_context TEXT NOT NULL DEFAULT '',
        bounding_box JSONB NOT NULL,
        center JSONB NOT NULL,
        confidence DOUBLE PRECISION NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        hit_count INTEGER NOT NULL DEFAULT 0,
        last_verified_at TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (text, screen_fingerprint, app_context)
    )`,
	`CREATE INDEX IF NOT EXISTS idx_cached_positions_created_at ON cached_positions (created_at)`,
}

// NewPostgresRepository creates a repository and verifies the connection.
func NewPostgresRepository(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresRepository, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresRepository{
		pool: pool,
		log:  logger.Named("store.postgres"),
	}, nil
}

// Migrate creates the table and index inside one transaction.
func (s *PostgresRepository) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	for _, stmt := range postgresSchema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresRepository) Get(ctx context.Context, key schemas.CacheKey) (*schemas.CachedPosition, error) {
	query := `
        SELECT bounding_box, center, confidence, created_at, hit_count, last_verified_at
        FROM cached_positions
        WHERE text = $1 AND screen_fingerprint = $2 AND app_context = $3`

	var box, center []byte
	pos := schemas.CachedPosition{Text: key.Text, ScreenFingerprint: key.ScreenFingerprint, AppContext: key.AppContext}
	err := s.pool.QueryRow(ctx, query, key.Text, key.ScreenFingerprint, key.AppContext).
		Scan(&box, &center, &pos.Confidence, &pos.CreatedAt, &pos.HitCount, &pos.LastVerifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cached position: %w", err)
	}
	if err := decodeGeometry(box, center, &pos); err != nil {
		return nil, err
	}
	return &pos, nil
}

func (s *PostgresRepository) Upsert(ctx context.Context, pos schemas.CachedPosition) error {
	box, center, err := encodeGeometry(pos)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO cached_positions (text, screen_fingerprint, app_context, bounding_box, center, confidence, created_at, hit_count, last_verified_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (text, screen_fingerprint, app_context) DO UPDATE SET
            bounding_box = EXCLUDED.bounding_box,
            center = EXCLUDED.center,
            confidence = EXCLUDED.confidence,
            last_verified_at = EXCLUDED.last_verified_at`
	_, err = s.pool.Exec(ctx, query,
		pos.Text, pos.ScreenFingerprint, pos.AppContext, box, center, pos.Confidence,
		pos.CreatedAt, pos.HitCount, pos.LastVerifiedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert cached position: %w", err)
	}
	return nil
}

func (s *PostgresRepository) Touch(ctx context.Context, key schemas.CacheKey, at time.Time) error {
	query := `
        UPDATE cached_positions
        SET hit_count = hit_count + 1, last_verified_at = $1
        WHERE text = $2 AND screen_fingerprint = $3 AND app_context = $4`
	if _, err := s.pool.Exec(ctx, query, at, key.Text, key.ScreenFingerprint, key.AppContext); err != nil {
		return fmt.Errorf("failed to update hit count: %w", err)
	}
	return nil
}

func (s *PostgresRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cached_positions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old cached positions: %w", err)
	}
	s.log.Debug("Deleted old cached positions.", zap.Int64("rows", tag.RowsAffected()), zap.Time("cutoff", cutoff))
	return tag.RowsAffected(), nil
}

func (s *PostgresRepository) Summary(ctx context.Context) (cache.Summary, error) {
	var (
		sum    cache.Summary
		newest *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(AVG(hit_count), 0)::float8, MAX(created_at) FROM cached_positions`).
		Scan(&sum.Entries, &sum.AvgHitCount, &newest)
	if err != nil {
		return cache.Summary{}, fmt.Errorf("failed to summarize cached positions: %w", err)
	}
	if newest != nil {
		sum.LastUpdate = *newest
	}
	return sum, nil
}

func (s *PostgresRepository) Close() error {
	s.pool.Close()
	return nil
}
