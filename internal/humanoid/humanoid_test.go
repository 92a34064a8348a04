package humanoid

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func within(t *testing.T, d time.Duration, r Range) {
	t.Helper()
	assert.GreaterOrEqual(t, d, r.Min)
	assert.LessOrEqual(t, d, r.Max)
}

func TestDelaysWithinRanges(t *testing.T) {
	h := NewTestHumanoid(NewVirtualExecutor(epoch), 42)
	cfg := DefaultConfig()

	for i := 0; i < 200; i++ {
		within(t, h.ThinkingDelay(), cfg.ThinkingDelay)
		within(t, h.ActionDelay(), cfg.ActionDelay)
		within(t, h.TapDelay(), cfg.TapDelay)
		within(t, h.ReadingDelay(0), cfg.ReadingDelay)
	}
}

func TestReadingDelayGrowsWithLength(t *testing.T) {
	h := NewTestHumanoid(NewVirtualExecutor(epoch), 7)
	cfg := DefaultConfig()

	d := h.ReadingDelay(20)
	extra := 20 * cfg.ReadingPerChar
	within(t, d, Range{Min: cfg.ReadingDelay.Min + extra, Max: cfg.ReadingDelay.Max + extra})

	// Negative lengths are treated as empty text.
	within(t, h.ReadingDelay(-5), cfg.ReadingDelay)
}

func TestDeterministicWithSeed(t *testing.T) {
	a := NewTestHumanoid(NewVirtualExecutor(epoch), 99)
	b := NewTestHumanoid(NewVirtualExecutor(epoch), 99)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.ThinkingDelay(), b.ThinkingDelay())
		assert.Equal(t, a.ReadingDelay(i), b.ReadingDelay(i))
	}
}

func TestFatigueMultiplier(t *testing.T) {
	h := NewTestHumanoid(NewVirtualExecutor(epoch), 1)
	assert.Equal(t, 1.0, h.FatigueMultiplier())

	for i := 0; i < 50; i++ {
		h.UpdateFatigue()
	}
	assert.Equal(t, 50, h.ActionCount())
	assert.Equal(t, 1.0, h.FatigueMultiplier(), "multiplier stays flat up to the threshold")

	for i := 0; i < 10; i++ {
		h.UpdateFatigue()
	}
	assert.InDelta(t, 1.2, h.FatigueMultiplier(), 1e-9)
}

func TestFatigueScalesDelays(t *testing.T) {
	cfg := DefaultConfig()
	fixed := Range{Min: time.Second, Max: time.Second}
	cfg.ThinkingDelay = fixed
	cfg.ActionDelay = fixed
	cfg.FatigueThreshold = 2
	cfg.FatigueStep = 0.5
	h := New(cfg, nil, NewVirtualExecutor(epoch))

	assert.Equal(t, time.Second, h.ThinkingDelay())
	for i := 0; i < 4; i++ {
		h.UpdateFatigue()
	}
	// 1 + 0.5*(4-2)
	assert.Equal(t, 2*time.Second, h.ThinkingDelay())
	assert.Equal(t, 2*time.Second, h.ActionDelay())
}

func TestUpdateFatigueLogsThresholdCrossing(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cfg := DefaultConfig()
	cfg.FatigueThreshold = 1
	h := New(cfg, zap.New(core), NewVirtualExecutor(epoch))

	h.UpdateFatigue()
	assert.Zero(t, logs.Len())
	h.UpdateFatigue()
	require.Equal(t, 1, logs.FilterMessageSnippet("Fatigue threshold").Len())
	h.UpdateFatigue()
	assert.Equal(t, 1, logs.Len(), "crossing is reported once")
}

func TestPauseUsesExecutor(t *testing.T) {
	exec := NewVirtualExecutor(epoch)
	h := NewTestHumanoid(exec, 3)

	require.NoError(t, h.Pause(context.Background(), 750*time.Millisecond))
	assert.Equal(t, []time.Duration{750 * time.Millisecond}, exec.Sleeps())
	assert.Equal(t, epoch.Add(750*time.Millisecond), h.Now())
	assert.Same(t, exec, h.Executor())
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.ActionDelay = Range{Min: time.Second, Max: time.Millisecond}
	assert.ErrorContains(t, bad.Validate(), "action delay range")

	bad = DefaultConfig()
	bad.FatigueStep = -1
	assert.Error(t, bad.Validate())
}
