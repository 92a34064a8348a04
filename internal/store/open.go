package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xkilldash9x/tapwise/internal/cache"
	"github.com/xkilldash9x/tapwise/internal/config"
	"go.uber.org/zap"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverNone     = "none"
)

// Open builds the persistent tier selected by cfg.Driver. The "none" driver
// returns a nil repository and the cache runs memory only.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (cache.Repository, error) {
	switch cfg.Driver {
	case DriverNone:
		return nil, nil
	case DriverSQLite, "":
		repo, err := OpenSQLite(cfg.SQLite.Path, logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		repo, err := NewPostgresRepository(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := repo.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return repo, nil
	case DriverRedis:
		repo, err := DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KeyPrefix, logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
