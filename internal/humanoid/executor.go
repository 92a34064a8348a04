package humanoid

import (
	"context"
	"sync"
	"time"
)

// Executor is the scheduler abstraction behind every suspension point. All
// waiting in the decision pipeline goes through Sleep, which lets tests run
// on virtual time and makes cancellation observable in one place.
type Executor interface {
	// Sleep pauses for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
	Now() time.Time
}

// RealExecutor sleeps on the wall clock.
type RealExecutor struct{}

// NewRealExecutor creates the production executor.
func NewRealExecutor() *RealExecutor { return &RealExecutor{} }

func (RealExecutor) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (RealExecutor) Now() time.Time { return time.Now() }

// VirtualExecutor advances a simulated clock instead of blocking. It records
// every requested sleep.
type VirtualExecutor struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration

	// OnSleep, if set, runs after the clock has advanced. It must not call
	// back into the executor's locked methods.
	OnSleep func(d time.Duration)
}

// NewVirtualExecutor starts the simulated clock at start.
func NewVirtualExecutor(start time.Time) *VirtualExecutor {
	return &VirtualExecutor{now: start}
}

func (v *VirtualExecutor) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	if d > 0 {
		v.now = v.now.Add(d)
	}
	v.sleeps = append(v.sleeps, d)
	hook := v.OnSleep
	v.mu.Unlock()

	if hook != nil {
		hook(d)
	}
	return ctx.Err()
}

func (v *VirtualExecutor) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Advance moves the clock forward without recording a sleep.
func (v *VirtualExecutor) Advance(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = v.now.Add(d)
}

// Sleeps returns a copy of every duration passed to Sleep.
func (v *VirtualExecutor) Sleeps() []time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]time.Duration, len(v.sleeps))
	copy(out, v.sleeps)
	return out
}

// TotalSlept sums all recorded sleeps.
func (v *VirtualExecutor) TotalSlept() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	var total time.Duration
	for _, d := range v.sleeps {
		total += d
	}
	return total
}
