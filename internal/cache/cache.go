// Package cache remembers where labelled UI elements appeared on previously
// seen screens, so that a repeat visit can skip text recognition.
package cache

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/tapwise/api/schemas"
	"github.com/xkilldash9x/tapwise/internal/fingerprint"
	"go.uber.org/zap"
)

// Config tunes the memory tier.
type Config struct {
	// ConfidenceThreshold is the minimum detection confidence worth storing.
	ConfidenceThreshold float64
	// VerificationThreshold is how long a verified entry is trusted without
	// re-checking it against the current screen.
	VerificationThreshold time.Duration
	// Capacity bounds the number of memory entries.
	Capacity int
}

// DefaultConfig returns a 1000-entry cache that trusts hits for five minutes.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold:   0.7,
		VerificationThreshold: 5 * time.Minute,
		Capacity:              1000,
	}
}

// Option configures a PositionCache.
type Option func(*PositionCache)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *PositionCache) { c.now = now }
}

// WithRepository attaches a persistent tier.
func WithRepository(repo Repository) Option {
	return func(c *PositionCache) { c.repo = repo }
}

// Stats reports lookup performance since the cache was created.
type Stats struct {
	Requests   int64         `json:"total_requests"`
	Hits       int64         `json:"cache_hits"`
	Misses     int64         `json:"cache_misses"`
	MemorySize int           `json:"memory_size"`
	HitRate    float64       `json:"hit_rate"`
	AvgLookup  time.Duration `json:"avg_lookup_time"`
}

// Export bundles the performance stats with the persistent tier summary.
type Export struct {
	Stats      Stats    `json:"performance"`
	Capacity   int      `json:"capacity"`
	Persistent *Summary `json:"persistent,omitempty"`
}

// PositionCache is a two-tier cache of CachedPositions keyed by
// (text, screen fingerprint, app context). The memory tier is safe for
// concurrent use by several sequencers.
type PositionCache struct {
	cfg    Config
	repo   Repository
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries map[schemas.CacheKey]*schemas.CachedPosition

	statsMu     sync.Mutex
	requests    int64
	hits        int64
	misses      int64
	lookupTotal time.Duration
}

// New creates a PositionCache. Capacity values below one fall back to the default.
func New(cfg Config, logger *zap.Logger, opts ...Option) *PositionCache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &PositionCache{
		cfg:     cfg,
		logger:  logger.Named("cache"),
		now:     time.Now,
		entries: make(map[schemas.CacheKey]*schemas.CachedPosition),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Find looks label up for the given screen and app context. A hit has its
// hit count incremented and is returned as a copy.
func (c *PositionCache) Find(ctx context.Context, label string, screen image.Image, appContext string, fuzzy bool) (*schemas.CachedPosition, bool) {
	start := c.now()
	pos, ok := c.find(ctx, label, screen, appContext, fuzzy)
	c.record(ok, c.now().Sub(start))
	return pos, ok
}

func (c *PositionCache) find(ctx context.Context, label string, screen image.Image, appContext string, fuzzy bool) (*schemas.CachedPosition, bool) {
	fp := fingerprint.Fingerprint(screen, nil)
	if fp == fingerprint.Unknown {
		return nil, false
	}
	key := schemas.CacheKey{Text: label, ScreenFingerprint: fp, AppContext: appContext}

	entry := c.lookupMemory(key, fuzzy)
	if entry == nil {
		entry = c.lookupPersistent(ctx, key)
		if entry == nil {
			return nil, false
		}
	}

	now := c.now()
	if !c.verify(entry, schemas.ScreenSizeOf(screen), now) {
		c.logger.Debug("Cached position failed verification; invalidating.",
			zap.String("text", entry.Text), zap.Any("box", entry.Box))
		c.Invalidate(entry.Key())
		return nil, false
	}

	c.mu.Lock()
	entry.HitCount++
	entry.LastVerifiedAt = now
	hit := *entry
	c.mu.Unlock()

	if c.repo != nil {
		if err := c.repo.Touch(ctx, hit.Key(), now); err != nil {
			c.logger.Warn("Failed to record cache hit in persistent tier.", zap.Error(err))
		}
	}
	return &hit, true
}

func (c *PositionCache) lookupMemory(key schemas.CacheKey, fuzzy bool) *schemas.CachedPosition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, ok := c.entries[key]; ok {
		return e
	}
	if !fuzzy {
		return nil
	}

	// Fuzzy candidates must come from the same screen and app.
	want := strings.ToLower(key.Text)
	var best *schemas.CachedPosition
	for k, e := range c.entries {
		if k.AppContext != key.AppContext || k.ScreenFingerprint != key.ScreenFingerprint {
			continue
		}
		have := strings.ToLower(k.Text)
		if want == "" || have == "" || !(strings.Contains(have, want) || strings.Contains(want, have)) {
			continue
		}
		if best == nil || e.HitCount > best.HitCount ||
			(e.HitCount == best.HitCount && e.CreatedAt.After(best.CreatedAt)) {
			best = e
		}
	}
	return best
}

func (c *PositionCache) lookupPersistent(ctx context.Context, key schemas.CacheKey) *schemas.CachedPosition {
	if c.repo == nil {
		return nil
	}
	pos, err := c.repo.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Persistent cache lookup failed; continuing from memory.", zap.Error(err))
		return nil
	}
	if pos == nil {
		return nil
	}
	return c.insert(*pos)
}

// verify trusts recently verified entries. Older ones must still fit on screen.
func (c *PositionCache) verify(e *schemas.CachedPosition, screen schemas.ScreenSize, now time.Time) bool {
	c.mu.RLock()
	last := e.LastVerifiedAt
	box := e.Box
	c.mu.RUnlock()

	if now.Sub(last) < c.cfg.VerificationThreshold {
		return true
	}
	return box.Within(screen)
}

// insert places pos in the memory tier, evicting the oldest entries first
// when full, and returns the stored pointer.
func (c *PositionCache) insert(pos schemas.CachedPosition) *schemas.CachedPosition {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := pos.Key()
	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.cfg.Capacity {
			c.evictOldestLocked()
		}
	}
	stored := pos
	c.entries[key] = &stored
	return &stored
}

func (c *PositionCache) evictOldestLocked() {
	var oldestKey schemas.CacheKey
	var oldest *schemas.CachedPosition
	for k, e := range c.entries {
		if oldest == nil || e.CreatedAt.Before(oldest.CreatedAt) {
			oldestKey, oldest = k, e
		}
	}
	if oldest != nil {
		delete(c.entries, oldestKey)
	}
}

// Store caches every detection at or above the confidence threshold in both
// tiers and returns how many reached the memory tier.
func (c *PositionCache) Store(ctx context.Context, detections []schemas.TextDetection, screen image.Image, appContext string) int {
	fp := fingerprint.Fingerprint(screen, nil)
	if fp == fingerprint.Unknown {
		return 0
	}
	now := c.now()
	stored := 0
	for _, det := range detections {
		if det.Confidence < c.cfg.ConfidenceThreshold || strings.TrimSpace(det.Text) == "" {
			continue
		}
		pos := schemas.CachedPosition{
			Text:              det.Text,
			Box:               det.Box,
			Center:            det.CenterPoint(),
			Confidence:        det.Confidence,
			ScreenFingerprint: fp,
			AppContext:        appContext,
			CreatedAt:         now,
			LastVerifiedAt:    now,
		}

		c.mu.Lock()
		if existing, ok := c.entries[pos.Key()]; ok {
			// Re-observed entries keep their age and hit history.
			pos.CreatedAt = existing.CreatedAt
			pos.HitCount = existing.HitCount
		}
		c.mu.Unlock()

		c.insert(pos)
		stored++

		if c.repo != nil {
			if err := c.repo.Upsert(ctx, pos); err != nil {
				c.logger.Warn("Failed to persist cached position.", zap.String("text", pos.Text), zap.Error(err))
			}
		}
	}
	c.logger.Debug("Cached positions from detections.",
		zap.Int("stored", stored), zap.Int("detections", len(detections)), zap.String("app_context", appContext))
	return stored
}

// Invalidate drops key from the memory tier. The persistent row is kept.
func (c *PositionCache) Invalidate(key schemas.CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Cleanup removes entries created more than maxAgeDays ago from both tiers
// and returns the number of memory entries removed.
func (c *PositionCache) Cleanup(ctx context.Context, maxAgeDays int) int {
	cutoff := c.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	c.mu.Lock()
	removed := 0
	for k, e := range c.entries {
		if e.CreatedAt.Before(cutoff) {
			delete(c.entries, k)
			removed++
		}
	}
	c.mu.Unlock()

	var persisted int64
	if c.repo != nil {
		n, err := c.repo.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			c.logger.Warn("Persistent cache cleanup failed.", zap.Error(err))
		}
		persisted = n
	}
	c.logger.Info("Cleaned up old cache entries.",
		zap.Int("memory", removed), zap.Int64("persistent", persisted), zap.Int("max_age_days", maxAgeDays))
	return removed
}

// Purge drops every entry from both tiers and returns the number of
// persistent rows removed. Unlike Cleanup, persistent failures are returned.
func (c *PositionCache) Purge(ctx context.Context) (int64, error) {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()

	if c.repo == nil {
		return 0, nil
	}
	// Nothing is created after the current instant plus clock skew.
	n, err := c.repo.DeleteOlderThan(ctx, c.now().Add(24*time.Hour))
	if err != nil {
		return n, fmt.Errorf("failed to purge persistent cache: %w", err)
	}
	c.logger.Info("Purged position cache.", zap.Int64("persistent", n))
	return n, nil
}

// Len returns the number of memory entries.
func (c *PositionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *PositionCache) record(hit bool, elapsed time.Duration) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.requests++
	if hit {
		c.hits++
	} else {
		c.misses++
	}
	c.lookupTotal += elapsed
}

// Stats returns a snapshot of lookup performance.
func (c *PositionCache) Stats() Stats {
	size := c.Len()
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	s := Stats{
		Requests:   c.requests,
		Hits:       c.hits,
		Misses:     c.misses,
		MemorySize: size,
	}
	if c.requests > 0 {
		s.HitRate = float64(c.hits) / float64(c.requests)
		s.AvgLookup = c.lookupTotal / time.Duration(c.requests)
	}
	return s
}

// Export returns Stats plus the persistent tier summary, when one is attached and readable.
func (c *PositionCache) Export(ctx context.Context) Export {
	out := Export{Stats: c.Stats(), Capacity: c.cfg.Capacity}
	if c.repo == nil {
		return out
	}
	sum, err := c.repo.Summary(ctx)
	if err != nil {
		c.logger.Warn("Failed to summarize persistent cache.", zap.Error(err))
		return out
	}
	out.Persistent = &sum
	return out
}

// Close releases the persistent tier.
func (c *PositionCache) Close() error {
	if c.repo == nil {
		return nil
	}
	return c.repo.Close()
}
