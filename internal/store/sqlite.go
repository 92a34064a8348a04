package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/xkilldash9x/tapwise/api/schemas"
	"github.com/xkilldash9x/tapwise/internal/cache"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the embedded persistent tier. Timestamps are stored as
// Unix nanoseconds.
type SQLiteRepository struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenSQLite opens (creating if needed) the database file at path. A leading
// "~" is expanded and ":memory:" selects a private in-memory database.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteRepository, error) {
	dsn := path
	if path != ":memory:" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("failed to expand sqlite path %q: %w", path, err)
		}
		if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
		dsn = "file:" + expanded + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// An in-memory database exists only on the connection that created it.
	// File databases keep a pool; WAL lets readers run beside the writer.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	repo, err := NewSQLiteRepository(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// NewSQLiteRepository wraps an open database and creates the schema.
func NewSQLiteRepository(db *sql.DB, logger *zap.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &SQLiteRepository{db: db, log: logger.Named("store.sqlite")}
	if err := r.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return r, nil
}

func (r *SQLiteRepository) migrate(ctx context.Context) error {
	query := `
    CREATE TABLE IF NOT EXISTS cached_positions (
        text TEXT NOT NULL,
        screen_fingerprint TEXT NOT NULL,
        app_context TEXT NOT NULL DEFAULT '',
        bounding_box TEXT NOT NULL,
        center TEXT NOT NULL,
        confidence REAL NOT NULL,
        created_at INTEGER NOT NULL,
        hit_count INTEGER NOT NULL DEFAULT 0,
        last_verified_at INTEGER NOT NULL,
        PRIMARY KEY (text, screen_fingerprint, app_context)
    );
    CREATE INDEX IF NOT EXISTS idx_cached_positions_created_at ON cached_positions (created_at);`
	_, err := r.db.ExecContext(ctx, query)
	return err
}

func (r *SQLiteRepository) Get(ctx context.Context, key schemas.CacheKey) (*schemas.CachedPosition, error) {
	query := `
        SELECT bounding_box, center, confidence, created_at, hit_count, last_verified_at
        FROM cached_positions
        WHERE text = ? AND screen_fingerprint = ? AND app_context = ?`

	var (
		box, center           string
		createdAt, verifiedAt int64
	)
	pos := schemas.CachedPosition{Text: key.Text, ScreenFingerprint: key.ScreenFingerprint, AppContext: key.AppContext}
	err := r.db.QueryRowContext(ctx, query, key.Text, key.ScreenFingerprint, key.AppContext).
		Scan(&box, &center, &pos.Confidence, &createdAt, &pos.HitCount, &verifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cached position: %w", err)
	}
	if err := decodeGeometry([]byte(box), []byte(center), &pos); err != nil {
		return nil, err
	}
	pos.CreatedAt = time.Unix(0, createdAt).UTC()
	pos.LastVerifiedAt = time.Unix(0, verifiedAt).UTC()
	return &pos, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, pos schemas.CachedPosition) error {
	box, center, err := encodeGeometry(pos)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO cached_positions (text, screen_fingerprint, app_context, bounding_box, center, confidence, created_at, hit_count, last_verified_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (text, screen_fingerprint, app_context) DO UPDATE SET
            bounding_box = excluded.bounding_box,
            center = excluded.center,
            confidence = excluded.confidence,
            last_verified_at = excluded.last_verified_at`
	_, err = r.db.ExecContext(ctx, query,
		pos.Text, pos.ScreenFingerprint, pos.AppContext, box, center, pos.Confidence,
		pos.CreatedAt.UnixNano(), pos.HitCount, pos.LastVerifiedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert cached position: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Touch(ctx context.Context, key schemas.CacheKey, at time.Time) error {
	query := `
        UPDATE cached_positions
        SET hit_count = hit_count + 1, last_verified_at = ?
        WHERE text = ? AND screen_fingerprint = ? AND app_context = ?`
	if _, err := r.db.ExecContext(ctx, query, at.UnixNano(), key.Text, key.ScreenFingerprint, key.AppContext); err != nil {
		return fmt.Errorf("failed to update hit count: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cached_positions WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old cached positions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted rows: %w", err)
	}
	r.log.Debug("Deleted old cached positions.", zap.Int64("rows", n), zap.Time("cutoff", cutoff))
	return n, nil
}

func (r *SQLiteRepository) Summary(ctx context.Context) (cache.Summary, error) {
	var (
		sum    cache.Summary
		newest sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(hit_count), 0), MAX(created_at) FROM cached_positions`).
		Scan(&sum.Entries, &sum.AvgHitCount, &newest)
	if err != nil {
		return cache.Summary{}, fmt.Errorf("failed to summarize cached positions: %w", err)
	}
	if newest.Valid {
		sum.LastUpdate = time.Unix(0, newest.Int64).UTC()
	}
	return sum, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
