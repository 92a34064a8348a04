package device

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/xkilldash9x/tapwise/api/schemas"
)

// Mock is a scripted device. Each successful tap advances to the next
// screen, staying on the last one.
type Mock struct {
	mu      sync.Mutex
	screens []image.Image
	current int

	taps  []schemas.Point
	typed []string
	keys  []int

	// FailInput makes every input call report failure.
	FailInput bool
}

var (
	_ schemas.ScreenProvider = (*Mock)(nil)
	_ schemas.InputInjector  = (*Mock)(nil)
	_ schemas.MethodNamer    = (*Mock)(nil)
)

func NewMock(screens ...image.Image) *Mock {
	return &Mock{screens: screens}
}

func (m *Mock) Method() schemas.TapMethod { return schemas.MethodMock }

// Capture returns the current screen, or nil when none were scripted.
func (m *Mock) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.screens) == 0 {
		return nil, errors.New("mock device has no screens")
	}
	return m.screens[m.current], nil
}

func (m *Mock) Tap(ctx context.Context, x, y int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailInput || ctx.Err() != nil {
		return false
	}
	m.taps = append(m.taps, schemas.Point{X: x, Y: y})
	if m.current < len(m.screens)-1 {
		m.current++
	}
	return true
}

func (m *Mock) TypeText(ctx context.Context, text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailInput || ctx.Err() != nil {
		return false
	}
	m.typed = append(m.typed, text)
	return true
}

func (m *Mock) PressKey(ctx context.Context, code int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailInput || ctx.Err() != nil {
		return false
	}
	m.keys = append(m.keys, code)
	return true
}

// Taps returns the tap history.
func (m *Mock) Taps() []schemas.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schemas.Point(nil), m.taps...)
}

func (m *Mock) Typed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.typed...)
}

func (m *Mock) Keys() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.keys...)
}

// ScreenIndex is the position of the screen Capture currently returns.
func (m *Mock) ScreenIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
