package tap

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/tapwise/api/schemas"
	"github.com/xkilldash9x/tapwise/internal/humanoid"
	"github.com/xkilldash9x/tapwise/internal/mocks"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var (
	epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	phone = schemas.ScreenSize{Width: 1080, Height: 1920}
)

func newTestPlanner(t *testing.T, cfg Config, injector schemas.InputInjector) (*Planner, *humanoid.VirtualExecutor) {
	t.Helper()
	exec := humanoid.NewVirtualExecutor(epoch)
	if cfg.Rng == nil {
		cfg.Rng = rand.New(rand.NewSource(11))
	}
	p, err := NewPlanner(cfg, injector, humanoid.NewTestHumanoid(exec, 5), zap.NewNop())
	require.NoError(t, err)
	return p, exec
}

func detAt(text string, cx, cy int) schemas.TextDetection {
	return schemas.NewTextDetection(text, 0.9, schemas.BoundingBox{X: cx - 20, Y: cy - 10, Width: 40, Height: 20})
}

func TestNewPlanner_RejectsInvalidConfig(t *testing.T) {
	human := humanoid.NewTestHumanoid(humanoid.NewVirtualExecutor(epoch), 1)
	tests := map[string]func(*Config){
		"negative radius":   func(c *Config) { c.RandomizationRadius = -1 },
		"negative interval": func(c *Config) { c.MinTapInterval = -time.Second },
		"negative margin":   func(c *Config) { c.SafeZone.Left = -0.1 },
		"half screen":       func(c *Config) { c.SafeZone.Top = 0.5 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			_, err := NewPlanner(cfg, nil, human, nil)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := NewPlanner(DefaultConfig(), nil, nil, nil)
	assert.Error(t, err, "behavior model is required")
}

func TestPlan_ClampsIntoSafeZone(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig(), nil)

	minX, maxX, minY, maxY := p.SafeBounds(phone)
	assert.Equal(t, []int{54, 1026, 192, 1728}, []int{minX, maxX, minY, maxY})

	for i := 0; i < 500; i++ {
		c := p.Plan(detAt("OK", 500, 800), phone)
		assert.True(t, c.X >= 54 && c.X <= 1026, "x=%d", c.X)
		assert.True(t, c.Y >= 192 && c.Y <= 1728, "y=%d", c.Y)
	}

	corners := []struct {
		in   schemas.Point
		want schemas.Point
	}{
		{schemas.Point{X: 0, Y: 0}, schemas.Point{X: 54, Y: 192}},
		{schemas.Point{X: 5000, Y: 5000}, schemas.Point{X: 1026, Y: 1728}},
		{schemas.Point{X: 20, Y: 1900}, schemas.Point{X: 54, Y: 1728}},
	}
	for _, tc := range corners {
		c := p.PlanPoint(tc.in, phone)
		assert.Equal(t, tc.want, c.Point())
	}
}

func TestPlan_JitterWithinRadius(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig(), nil)

	moved := false
	for i := 0; i < 200; i++ {
		c := p.Plan(detAt("Send", 500, 800), phone)
		assert.InDelta(t, 500, c.X, 5)
		assert.InDelta(t, 800, c.Y, 5)
		assert.True(t, c.RandomizationApplied)
		assert.Equal(t, "Send", c.SourceText)
		assert.Equal(t, 0.9, c.Confidence)
		if c.X != 500 || c.Y != 800 {
			moved = true
		}
	}
	assert.True(t, moved, "jitter should move at least one tap")
}

func TestPlan_NoRandomization(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RandomizationEnabled = false
	p, _ := newTestPlanner(t, cfg, nil)

	c := p.Plan(detAt("Send", 500, 800), phone)
	assert.Equal(t, schemas.Point{X: 500, Y: 800}, c.Point())
	assert.False(t, c.RandomizationApplied)
	assert.Equal(t, schemas.MethodUnknown, c.Method)
	assert.Equal(t, epoch, c.Timestamp)
}

func TestPlanPoint(t *testing.T) {
	injector := &mocks.MockInputInjector{MethodName: schemas.MethodADB}
	p, _ := newTestPlanner(t, DefaultConfig(), injector)

	c := p.PlanPoint(schemas.Point{X: 300, Y: 400}, phone)
	assert.Equal(t, schemas.Point{X: 300, Y: 400}, c.Point())
	assert.Equal(t, SourceManualCoordinate, c.SourceText)
	assert.Equal(t, 1.0, c.Confidence)
	assert.False(t, c.RandomizationApplied)
	assert.Equal(t, schemas.MethodADB, c.Method)

	// Unknown screen sizes skip clamping.
	c = p.PlanPoint(schemas.Point{X: 1, Y: 1}, schemas.ScreenSize{})
	assert.Equal(t, schemas.Point{X: 1, Y: 1}, c.Point())
}

func TestTap_EnforcesMinimumInterval(t *testing.T) {
	injector := new(mocks.MockInputInjector)
	injector.On("Tap", mock.Anything, mock.Anything, mock.Anything).Return(true)
	p, exec := newTestPlanner(t, DefaultConfig(), injector)

	ctx := context.Background()
	coord := p.PlanPoint(schemas.Point{X: 500, Y: 800}, phone)

	first := p.Tap(ctx, coord)
	require.True(t, first.Success)
	require.NoError(t, first.Err)
	firstAt := p.LastTap()

	second := p.Tap(ctx, coord)
	require.True(t, second.Success)
	// The limiter works in float tokens, so allow for rounding.
	gap := p.LastTap().Sub(firstAt)
	assert.InDelta(t, float64(500*time.Millisecond), float64(gap), float64(time.Millisecond))

	// Both taps hesitated 100-500ms before injection.
	sleeps := exec.Sleeps()
	require.GreaterOrEqual(t, len(sleeps), 2)
	assert.GreaterOrEqual(t, sleeps[0], 100*time.Millisecond)
	assert.LessOrEqual(t, sleeps[0], 500*time.Millisecond)
	injector.AssertNumberOfCalls(t, "Tap", 2)
}

func TestTap_NoSpacingAfterLongPause(t *testing.T) {
	injector := new(mocks.MockInputInjector)
	injector.On("Tap", mock.Anything, 500, 800).Return(true)
	p, exec := newTestPlanner(t, DefaultConfig(), injector)
	coord := p.PlanPoint(schemas.Point{X: 500, Y: 800}, phone)

	require.True(t, p.Tap(context.Background(), coord).Success)
	exec.Advance(10 * time.Second)
	res := p.Tap(context.Background(), coord)
	require.True(t, res.Success)
	assert.LessOrEqual(t, res.Waited, 500*time.Millisecond, "only the hesitation is waited")
}

func TestTap_InjectorFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	injector := new(mocks.MockInputInjector)
	injector.On("Tap", mock.Anything, 500, 800).Return(false)

	exec := humanoid.NewVirtualExecutor(epoch)
	p, err := NewPlanner(DefaultConfig(), injector, humanoid.NewTestHumanoid(exec, 1), zap.New(core))
	require.NoError(t, err)

	res := p.Tap(context.Background(), p.PlanPoint(schemas.Point{X: 500, Y: 800}, phone))
	assert.False(t, res.Success)
	assert.ErrorContains(t, res.Err, "injector rejected tap")
	assert.Equal(t, 1, logs.FilterMessage("Tap injection failed.").Len())
}

func TestTap_Cancelled(t *testing.T) {
	injector := new(mocks.MockInputInjector)
	p, _ := newTestPlanner(t, DefaultConfig(), injector)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := p.Tap(ctx, p.PlanPoint(schemas.Point{X: 500, Y: 800}, phone))
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, context.Canceled)
	injector.AssertNotCalled(t, "Tap", mock.Anything, mock.Anything, mock.Anything)
}

func TestTap_WithoutInjector(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig(), nil)
	res := p.Tap(context.Background(), schemas.TapCoordinate{X: 1, Y: 1})
	assert.False(t, res.Success)
	assert.Error(t, res.Err)
}
