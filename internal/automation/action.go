// Package automation executes ordered sequences of device actions with
// per-action retries, timeouts and condition gates.
package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/tapwise/api/schemas"
)

// ActionType tags the variant of an Action.
type ActionType string

const (
	ActionTap       ActionType = "tap"
	ActionWait      ActionType = "wait"
	ActionFindText  ActionType = "find_text"
	ActionVerify    ActionType = "verify"
	ActionLoop      ActionType = "loop"
	ActionCondition ActionType = "condition"
	ActionCustom    ActionType = "custom"
)

var (
	// ErrInvalidAction is wrapped by every construction-time validation failure.
	ErrInvalidAction = errors.New("invalid action")
	// ErrSequenceReused is returned when a sequence that already ran is passed to Run again.
	ErrSequenceReused = errors.New("sequence has already been executed")
	// ErrBusy is returned when Run is called while another sequence is executing.
	ErrBusy = errors.New("sequencer is already running a sequence")
)

// TapParams targets either a text label or a fixed point.
type TapParams struct {
	Text  string
	Point *schemas.Point
	// Fuzzy allows the cache to answer with a near-match label.
	Fuzzy bool
	// Domain names a matcher filter; empty uses the sequencer default.
	Domain string
}

type WaitParams struct {
	Duration time.Duration
}

// TextParams configures FindText and Verify.
type TextParams struct {
	Text   string
	Domain string
}

type LoopParams struct {
	Iterations int
	Actions    []*Action
}

type ConditionParams struct {
	Condition Condition
}

// CustomFunc is the body of a Custom action. The returned map is copied
// into the result data.
type CustomFunc func(ctx context.Context, env Env) (map[string]any, error)

type CustomParams struct {
	Name string
	Func CustomFunc
}

// Action is one step of a sequence. Exactly one params pointer is set,
// matching Type.
type Action struct {
	Type ActionType

	Tap       *TapParams
	Wait      *WaitParams
	Text      *TextParams
	Loop      *LoopParams
	Check     *ConditionParams
	Custom    *CustomParams
	Condition *Condition

	// MaxRetries of zero selects the sequencer default.
	MaxRetries int
	// Timeout bounds a single attempt. Zero selects the sequencer default.
	Timeout     time.Duration
	Description string
}

// ActionOption customises an action at construction.
type ActionOption func(*Action)

func WithRetries(n int) ActionOption {
	return func(a *Action) { a.MaxRetries = n }
}

func WithTimeout(d time.Duration) ActionOption {
	return func(a *Action) { a.Timeout = d }
}

func WithDescription(s string) ActionOption {
	return func(a *Action) { a.Description = s }
}

// WithCondition gates every attempt of the action on c.
func WithCondition(c Condition) ActionOption {
	return func(a *Action) { a.Condition = &c }
}

// WithDomain selects a matcher domain filter for Tap, FindText and Verify.
func WithDomain(name string) ActionOption {
	return func(a *Action) {
		switch {
		case a.Tap != nil:
			a.Tap.Domain = name
		case a.Text != nil:
			a.Text.Domain = name
		}
	}
}

// WithFuzzy lets a text Tap reuse a cached position recorded under a
// similar label.
func WithFuzzy() ActionOption {
	return func(a *Action) {
		if a.Tap != nil {
			a.Tap.Fuzzy = true
		}
	}
}

func build(a *Action, opts []ActionOption) (*Action, error) {
	for _, opt := range opts {
		opt(a)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func NewTapAction(text string, opts ...ActionOption) (*Action, error) {
	return build(&Action{Type: ActionTap, Tap: &TapParams{Text: text}, Description: "tap " + text}, opts)
}

func NewTapPointAction(pt schemas.Point, opts ...ActionOption) (*Action, error) {
	return build(&Action{Type: ActionTap, Tap: &TapParams{Point: &pt}, Description: "tap " + pt.String()}, opts)
}

func NewWaitAction(d time.Duration, opts ...ActionOption) (*Action, error) {
	return build(&Action{Type: ActionWait, Wait: &WaitParams{Duration: d}, Description: "wait " + d.String()}, opts)
}

func NewFindTextAction(text string, opts ...ActionOption) (*Action, error) {
	return build(&Action{Type: ActionFindText, Text: &TextParams{Text: text}, Description: "find " + text}, opts)
}

func NewVerifyAction(text string, opts ...ActionOption) (*Action, error) {
	return build(&Action{Type: ActionVerify, Text: &TextParams{Text: text}, Description: "verify " + text}, opts)
}

func NewLoopAction(iterations int, actions []*Action, opts ...ActionOption) (*Action, error) {
	a := &Action{
		Type:        ActionLoop,
		Loop:        &LoopParams{Iterations: iterations, Actions: actions},
		Description: fmt.Sprintf("loop x%d", iterations),
	}
	return build(a, opts)
}

func NewConditionAction(c Condition, opts ...ActionOption) (*Action, error) {
	return build(&Action{Type: ActionCondition, Check: &ConditionParams{Condition: c}, Description: "check " + c.String()}, opts)
}

func NewCustomAction(name string, fn CustomFunc, opts ...ActionOption) (*Action, error) {
	return build(&Action{Type: ActionCustom, Custom: &CustomParams{Name: name, Func: fn}, Description: name}, opts)
}

// Validate checks that the params for Type are present and well formed.
func (a *Action) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: nil action", ErrInvalidAction)
	}
	if a.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative, got %d", ErrInvalidAction, a.MaxRetries)
	}
	if a.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative, got %s", ErrInvalidAction, a.Timeout)
	}
	if a.Condition != nil {
		if err := a.Condition.Validate(); err != nil {
			return err
		}
	}

	switch a.Type {
	case ActionTap:
		if a.Tap == nil || (a.Tap.Text == "" && a.Tap.Point == nil) {
			return fmt.Errorf("%w: tap needs a text or a point target", ErrInvalidAction)
		}
		if a.Tap.Text != "" && a.Tap.Point != nil {
			return fmt.Errorf("%w: tap takes a text or a point target, not both", ErrInvalidAction)
		}
	case ActionWait:
		if a.Wait == nil || a.Wait.Duration < 0 {
			return fmt.Errorf("%w: wait needs a non-negative duration", ErrInvalidAction)
		}
	case ActionFindText, ActionVerify:
		if a.Text == nil || a.Text.Text == "" {
			return fmt.Errorf("%w: %s needs a text", ErrInvalidAction, a.Type)
		}
	case ActionLoop:
		if a.Loop == nil || a.Loop.Iterations < 1 {
			return fmt.Errorf("%w: loop needs at least one iteration", ErrInvalidAction)
		}
		if len(a.Loop.Actions) == 0 {
			return fmt.Errorf("%w: loop needs at least one sub-action", ErrInvalidAction)
		}
		for i, sub := range a.Loop.Actions {
			if err := sub.Validate(); err != nil {
				return fmt.Errorf("loop sub-action %d: %w", i, err)
			}
		}
	case ActionCondition:
		if a.Check == nil {
			return fmt.Errorf("%w: condition action needs a condition", ErrInvalidAction)
		}
		return a.Check.Condition.Validate()
	case ActionCustom:
		if a.Custom == nil || a.Custom.Func == nil {
			return fmt.Errorf("%w: custom action needs a function", ErrInvalidAction)
		}
	default:
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidAction, a.Type)
	}
	return nil
}

func (a *Action) String() string {
	if a.Description != "" {
		return a.Description
	}
	return string(a.Type)
}
