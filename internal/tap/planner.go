// Package tap turns matched detections into bounded, humanized tap
// coordinates and dispatches them to an input injector.
package tap

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/xkilldash9x/tapwise/api/schemas"
	"github.com/xkilldash9x/tapwise/internal/humanoid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SourceManualCoordinate marks coordinates that did not come from a detection.
const SourceManualCoordinate = "manual_coordinate"

// ErrInvalidConfig is returned by NewPlanner for unusable settings.
var ErrInvalidConfig = errors.New("tap: invalid planner configuration")

// SafeZone holds the fractional screen margins that taps are kept out of.
type SafeZone struct {
	Left, Right, Top, Bottom float64
}

// Config parameterizes the Planner.
type Config struct {
	RandomizationEnabled bool
	RandomizationRadius  int
	MinTapInterval       time.Duration
	SafeZone             SafeZone
	Rng                  *rand.Rand
}

// DefaultConfig keeps taps 5% from the sides and 10% from the top and bottom.
func DefaultConfig() Config {
	return Config{
		RandomizationEnabled: true,
		RandomizationRadius:  5,
		MinTapInterval:       500 * time.Millisecond,
		SafeZone:             SafeZone{Left: 0.05, Right: 0.05, Top: 0.10, Bottom: 0.10},
	}
}

func (c Config) validate() error {
	if c.RandomizationRadius < 0 {
		return fmt.Errorf("%w: randomization radius %d is negative", ErrInvalidConfig, c.RandomizationRadius)
	}
	if c.MinTapInterval < 0 {
		return fmt.Errorf("%w: minimum tap interval %s is negative", ErrInvalidConfig, c.MinTapInterval)
	}
	z := c.SafeZone
	for _, m := range []float64{z.Left, z.Right, z.Top, z.Bottom} {
		if m < 0 || m >= 0.5 {
			return fmt.Errorf("%w: safe zone margin %.3f outside [0, 0.5)", ErrInvalidConfig, m)
		}
	}
	if z.Left+z.Right >= 1 || z.Top+z.Bottom >= 1 {
		return fmt.Errorf("%w: safe zone margins leave no tappable area", ErrInvalidConfig)
	}
	return nil
}

// Result reports the outcome of dispatching one tap.
type Result struct {
	Coordinate schemas.TapCoordinate
	Success    bool
	// Waited is the total delay inserted before injection.
	Waited time.Duration
	Err    error
}

// Planner plans and dispatches taps for one device.
type Planner struct {
	cfg      Config
	logger   *zap.Logger
	injector schemas.InputInjector
	human    *humanoid.Humanoid
	exec     humanoid.Executor

	mu      sync.Mutex
	rng     *rand.Rand
	limiter *rate.Limiter
	lastTap time.Time
}

// NewPlanner validates cfg and creates a planner. injector may be nil for
// planning-only use; human supplies both the pre-tap delay and the clock.
func NewPlanner(cfg Config, injector schemas.InputInjector, human *humanoid.Humanoid, logger *zap.Logger) (*Planner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if human == nil {
		return nil, errors.New("tap: a behavior model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	rng := cfg.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	limit := rate.Inf
	if cfg.MinTapInterval > 0 {
		limit = rate.Every(cfg.MinTapInterval)
	}
	return &Planner{
		cfg:      cfg,
		logger:   logger.Named("tap"),
		injector: injector,
		human:    human,
		exec:     human.Executor(),
		rng:      rng,
		limiter:  rate.NewLimiter(limit, 1),
	}, nil
}

// Plan converts a detection into a jittered, clamped coordinate.
func (p *Planner) Plan(det schemas.TextDetection, screen schemas.ScreenSize) schemas.TapCoordinate {
	center := det.CenterPoint()
	x, y := center.X, center.Y
	randomized := false

	if p.cfg.RandomizationEnabled && p.cfg.RandomizationRadius > 0 {
		r := p.cfg.RandomizationRadius
		p.mu.Lock()
		x += p.rng.Intn(2*r+1) - r
		y += p.rng.Intn(2*r+1) - r
		p.mu.Unlock()
		randomized = true
	}
	x, y = p.clamp(x, y, screen)

	return schemas.TapCoordinate{
		X:                    x,
		Y:                    y,
		Confidence:           det.Confidence,
		SourceText:           det.Text,
		Method:               p.method(),
		Timestamp:            p.exec.Now(),
		RandomizationApplied: randomized,
	}
}

// PlanPoint clamps an explicit point without jitter.
func (p *Planner) PlanPoint(pt schemas.Point, screen schemas.ScreenSize) schemas.TapCoordinate {
	x, y := p.clamp(pt.X, pt.Y, screen)
	return schemas.TapCoordinate{
		X:          x,
		Y:          y,
		Confidence: 1.0,
		SourceText: SourceManualCoordinate,
		Method:     p.method(),
		Timestamp:  p.exec.Now(),
	}
}

// SafeBounds returns the inclusive tappable rectangle for screen.
func (p *Planner) SafeBounds(screen schemas.ScreenSize) (minX, maxX, minY, maxY int) {
	w, h := float64(screen.Width), float64(screen.Height)
	z := p.cfg.SafeZone
	return int(w * z.Left), int(w * (1 - z.Right)), int(h * z.Top), int(h * (1 - z.Bottom))
}

func (p *Planner) clamp(x, y int, screen schemas.ScreenSize) (int, int) {
	if screen.IsZero() {
		return x, y
	}
	minX, maxX, minY, maxY := p.SafeBounds(screen)
	return clampInt(x, minX, maxX), clampInt(y, minY, maxY)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (p *Planner) method() schemas.TapMethod {
	if n, ok := p.injector.(schemas.MethodNamer); ok {
		return n.Method()
	}
	return schemas.MethodUnknown
}

// LastTap returns the executor time of the most recent dispatched tap.
func (p *Planner) LastTap() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTap
}

// Tap adds a human hesitation, waits out the minimum inter-tap interval
// measured from the previous injection, then hands the coordinate to the
// injector. Failures are reported in the result, never returned or panicked.
func (p *Planner) Tap(ctx context.Context, coord schemas.TapCoordinate) Result {
	res := Result{Coordinate: coord}
	if p.injector == nil {
		res.Err = errors.New("tap: no input injector configured")
		return res
	}

	hesitation := p.human.TapDelay()
	if err := p.exec.Sleep(ctx, hesitation); err != nil {
		res.Err = fmt.Errorf("tap: interrupted before injection: %w", err)
		return res
	}
	res.Waited += hesitation

	// The reservation is taken right before injection so the spacing holds
	// between the events the device actually receives.
	p.mu.Lock()
	reservation := p.limiter.ReserveN(p.exec.Now(), 1)
	p.mu.Unlock()
	if !reservation.OK() {
		res.Err = errors.New("tap: rate limiter rejected reservation")
		return res
	}
	if wait := reservation.DelayFrom(p.exec.Now()); wait > 0 {
		p.logger.Debug("Spacing tap to honour minimum interval.", zap.Duration("wait", wait))
		if err := p.exec.Sleep(ctx, wait); err != nil {
			reservation.CancelAt(p.exec.Now())
			res.Err = fmt.Errorf("tap: interrupted while spacing taps: %w", err)
			return res
		}
		res.Waited += wait
	}

	res.Coordinate.Timestamp = p.exec.Now()
	res.Success = p.injector.Tap(ctx, coord.X, coord.Y)

	p.mu.Lock()
	p.lastTap = res.Coordinate.Timestamp
	p.mu.Unlock()

	if !res.Success {
		res.Err = fmt.Errorf("tap: injector rejected tap at (%d, %d)", coord.X, coord.Y)
		p.logger.Warn("Tap injection failed.", zap.Int("x", coord.X), zap.Int("y", coord.Y), zap.String("source", coord.SourceText))
		return res
	}
	p.logger.Debug("Tap dispatched.",
		zap.Int("x", coord.X), zap.Int("y", coord.Y),
		zap.String("source", coord.SourceText), zap.String("method", string(coord.Method)))
	return res
}
