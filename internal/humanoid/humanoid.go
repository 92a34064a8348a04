// Package humanoid models the pacing of a human operator: variable reading,
// thinking and inter-action delays that slow down as a session grows long.
package humanoid

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Humanoid produces human-plausible delays and carries the fatigue state of
// one device session. It is safe for concurrent use, though one instance is
// normally driven by one sequencer.
type Humanoid struct {
	mu sync.Mutex

	cfg      Config
	logger   *zap.Logger
	executor Executor
	rng      *rand.Rand

	actionCount int
}

// New creates a Humanoid. A nil executor selects the wall clock.
func New(config Config, logger *zap.Logger, executor Executor) *Humanoid {
	rng := config.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if executor == nil {
		executor = NewRealExecutor()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Humanoid{
		cfg:      config,
		logger:   logger.Named("humanoid"),
		executor: executor,
		rng:      rng,
	}
}

// NewTestHumanoid creates a Humanoid with default ranges and a seeded RNG.
func NewTestHumanoid(executor Executor, seed int64) *Humanoid {
	config := DefaultConfig()
	config.Rng = rand.New(rand.NewSource(seed))
	return New(config, zap.NewNop(), executor)
}

// Executor returns the scheduler used for pauses.
func (h *Humanoid) Executor() Executor { return h.executor }

// Now reads the scheduler clock.
func (h *Humanoid) Now() time.Time { return h.executor.Now() }

// Pause suspends for d through the executor.
func (h *Humanoid) Pause(ctx context.Context, d time.Duration) error {
	return h.executor.Sleep(ctx, d)
}
