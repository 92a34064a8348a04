package automation

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ConditionKind selects how a Condition is evaluated.
type ConditionKind string

const (
	TextExists      ConditionKind = "text_exists"
	TextNotExists   ConditionKind = "text_not_exists"
	CustomCondition ConditionKind = "custom"
)

// ConditionFunc evaluates a custom condition.
type ConditionFunc func(ctx context.Context, env Env) (bool, error)

// Condition gates an action or forms the body of a Condition action.
// Negate is applied after evaluation.
type Condition struct {
	Kind   ConditionKind
	Text   string
	Func   ConditionFunc
	Negate bool
}

func TextExistsCondition(text string) Condition {
	return Condition{Kind: TextExists, Text: text}
}

func TextNotExistsCondition(text string) Condition {
	return Condition{Kind: TextNotExists, Text: text}
}

func CustomConditionFunc(fn ConditionFunc) Condition {
	return Condition{Kind: CustomCondition, Func: fn}
}

// Not returns the condition with Negate flipped.
func (c Condition) Not() Condition {
	c.Negate = !c.Negate
	return c
}

func (c Condition) Validate() error {
	switch c.Kind {
	case TextExists, TextNotExists:
		if c.Text == "" {
			return fmt.Errorf("%w: %s condition needs a text", ErrInvalidAction, c.Kind)
		}
	case CustomCondition:
		if c.Func == nil {
			return fmt.Errorf("%w: custom condition needs a function", ErrInvalidAction)
		}
	default:
		return fmt.Errorf("%w: unknown condition kind %q", ErrInvalidAction, c.Kind)
	}
	return nil
}

func (c Condition) String() string {
	s := string(c.Kind)
	if c.Text != "" {
		s += "(" + c.Text + ")"
	}
	if c.Negate {
		s = "not " + s
	}
	return s
}

// evaluate resolves the condition against the current screen. A failed
// capture or detection counts as the text being absent.
func (s *Sequencer) evaluate(ctx context.Context, c Condition) (bool, error) {
	var met bool
	switch c.Kind {
	case TextExists, TextNotExists:
		found, err := s.textPresent(ctx, c.Text)
		if err != nil {
			s.logger.Debug("Condition treated as absent after screen read failure.",
				zap.Stringer("condition", c), zap.Error(err))
			found = false
		}
		met = found == (c.Kind == TextExists)
	case CustomCondition:
		ok, err := c.Func(ctx, s.env())
		if err != nil {
			return false, fmt.Errorf("custom condition failed: %w", err)
		}
		met = ok
	default:
		return false, fmt.Errorf("%w: unknown condition kind %q", ErrInvalidAction, c.Kind)
	}
	if c.Negate {
		met = !met
	}
	return met, nil
}
