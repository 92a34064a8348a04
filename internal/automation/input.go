package automation

import (
	"context"
	"fmt"
	"strconv"
)

// TypeTextAction builds a Custom action that types text into the focused
// field through the device injector.
func TypeTextAction(text string, opts ...ActionOption) (*Action, error) {
	fn := func(ctx context.Context, env Env) (map[string]any, error) {
		if !env.Injector.TypeText(ctx, text) {
			return nil, actionErr(KindInjectionFailed, "injector rejected text input")
		}
		return map[string]any{"typed": len([]rune(text))}, nil
	}
	a, err := NewCustomAction("type_text", fn, opts...)
	if err != nil {
		return nil, err
	}
	if a.Description == "type_text" {
		a.Description = "type " + strconv.Quote(text)
	}
	return a, nil
}

// PressKeyAction builds a Custom action that sends one key event.
func PressKeyAction(code int, opts ...ActionOption) (*Action, error) {
	if code < 0 {
		return nil, fmt.Errorf("%w: key code must not be negative, got %d", ErrInvalidAction, code)
	}
	fn := func(ctx context.Context, env Env) (map[string]any, error) {
		if !env.Injector.PressKey(ctx, code) {
			return nil, actionErr(KindInjectionFailed, "injector rejected key %d", code)
		}
		return map[string]any{"key": code}, nil
	}
	a, err := NewCustomAction("press_key", fn, opts...)
	if err != nil {
		return nil, err
	}
	if a.Description == "press_key" {
		a.Description = fmt.Sprintf("press key %d", code)
	}
	return a, nil
}
