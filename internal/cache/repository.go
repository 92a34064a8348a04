package cache

import (
	"context"
	"time"

	"github.com/xkilldash9x/tapwise/api/schemas"
)

// Repository is the persistent tier behind the in-memory cache.
// Implementations must serialize their own writes.
type Repository interface {
	// Get returns nil, nil when the key is not stored.
	Get(ctx context.Context, key schemas.CacheKey) (*schemas.CachedPosition, error)
	// Upsert inserts pos or refreshes the geometry of an existing row,
	// leaving its creation time and hit count alone.
	Upsert(ctx context.Context, pos schemas.CachedPosition) error
	// Touch increments the hit count and sets the verification time.
	Touch(ctx context.Context, key schemas.CacheKey, at time.Time) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Summary(ctx context.Context) (Summary, error)
	Close() error
}

// Summary describes the contents of a persistent tier.
type Summary struct {
	Entries     int64     `json:"entries"`
	AvgHitCount float64   `json:"avg_hit_count"`
	LastUpdate  time.Time `json:"last_update"`
}
