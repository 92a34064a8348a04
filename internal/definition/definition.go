// Package definition loads automation sequences from YAML files.
package definition

import (
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/tapwise/api/schemas"
	"github.com/xkilldash9x/tapwise/internal/automation"
)

// Definition is the on-disk form of a sequence.
type Definition struct {
	Name          string        `yaml:"name"`
	AppContext    string        `yaml:"app_context,omitempty"`
	GlobalTimeout time.Duration `yaml:"global_timeout,omitempty"`
	Actions       []Step        `yaml:"actions"`

	Checksum   string `yaml:"-"`
	SourceFile string `yaml:"-"`
}

// Step holds exactly one action variant plus the shared options.
type Step struct {
	Tap       *TapStep       `yaml:"tap,omitempty"`
	Wait      *time.Duration `yaml:"wait,omitempty"`
	FindText  string         `yaml:"find_text,omitempty"`
	Verify    string         `yaml:"verify,omitempty"`
	TypeText  *string        `yaml:"type_text,omitempty"`
	PressKey  *int           `yaml:"press_key,omitempty"`
	Loop      *LoopStep      `yaml:"loop,omitempty"`
	Condition *ConditionStep `yaml:"condition,omitempty"`

	// When gates every attempt of the step.
	When        *ConditionStep `yaml:"when,omitempty"`
	Retries     int            `yaml:"retries,omitempty"`
	Timeout     time.Duration  `yaml:"timeout,omitempty"`
	Description string         `yaml:"description,omitempty"`
	Domain      string         `yaml:"domain,omitempty"`
}

// TapStep targets a text label, or a point when X and Y are set.
type TapStep struct {
	Text  string `yaml:"text,omitempty"`
	X     *int   `yaml:"x,omitempty"`
	Y     *int   `yaml:"y,omitempty"`
	Fuzzy bool   `yaml:"fuzzy,omitempty"`
}

type LoopStep struct {
	Iterations int    `yaml:"iterations"`
	Actions    []Step `yaml:"actions"`
}

type ConditionStep struct {
	TextExists    string `yaml:"text_exists,omitempty"`
	TextNotExists string `yaml:"text_not_exists,omitempty"`
	Negate        bool   `yaml:"negate,omitempty"`
}

// ErrInvalidDefinition is wrapped by every structural problem in a file.
var ErrInvalidDefinition = errors.New("invalid sequence definition")

// Build converts the definition into a runnable sequence.
func (d Definition) Build() (*automation.Sequence, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if len(d.Actions) == 0 {
		return nil, fmt.Errorf("%w: %s has no actions", ErrInvalidDefinition, d.Name)
	}
	actions, err := buildSteps(d.Actions)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Name, err)
	}
	return automation.NewSequence(d.Name, actions, d.GlobalTimeout)
}

func buildSteps(steps []Step) ([]*automation.Action, error) {
	actions := make([]*automation.Action, 0, len(steps))
	for i, st := range steps {
		a, err := st.build()
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func (st Step) variants() int {
	n := 0
	for _, set := range []bool{
		st.Tap != nil, st.Wait != nil, st.FindText != "", st.Verify != "",
		st.TypeText != nil, st.PressKey != nil, st.Loop != nil, st.Condition != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

func (st Step) options() ([]automation.ActionOption, error) {
	var opts []automation.ActionOption
	if st.Retries != 0 {
		opts = append(opts, automation.WithRetries(st.Retries))
	}
	if st.Timeout != 0 {
		opts = append(opts, automation.WithTimeout(st.Timeout))
	}
	if st.Description != "" {
		opts = append(opts, automation.WithDescription(st.Description))
	}
	if st.Domain != "" {
		opts = append(opts, automation.WithDomain(st.Domain))
	}
	if st.When != nil {
		c, err := st.When.condition()
		if err != nil {
			return nil, fmt.Errorf("when: %w", err)
		}
		opts = append(opts, automation.WithCondition(c))
	}
	return opts, nil
}

func (st Step) build() (*automation.Action, error) {
	if n := st.variants(); n != 1 {
		return nil, fmt.Errorf("%w: a step needs exactly one action, found %d", ErrInvalidDefinition, n)
	}
	opts, err := st.options()
	if err != nil {
		return nil, err
	}

	switch {
	case st.Tap != nil:
		return st.Tap.build(opts)
	case st.Wait != nil:
		return automation.NewWaitAction(*st.Wait, opts...)
	case st.FindText != "":
		return automation.NewFindTextAction(st.FindText, opts...)
	case st.Verify != "":
		return automation.NewVerifyAction(st.Verify, opts...)
	case st.TypeText != nil:
		return automation.TypeTextAction(*st.TypeText, opts...)
	case st.PressKey != nil:
		return automation.PressKeyAction(*st.PressKey, opts...)
	case st.Loop != nil:
		subs, err := buildSteps(st.Loop.Actions)
		if err != nil {
			return nil, fmt.Errorf("loop: %w", err)
		}
		return automation.NewLoopAction(st.Loop.Iterations, subs, opts...)
	default:
		c, err := st.Condition.condition()
		if err != nil {
			return nil, err
		}
		return automation.NewConditionAction(c, opts...)
	}
}

func (t TapStep) build(opts []automation.ActionOption) (*automation.Action, error) {
	hasPoint := t.X != nil || t.Y != nil
	switch {
	case hasPoint && t.Text != "":
		return nil, fmt.Errorf("%w: tap takes a text or x/y, not both", ErrInvalidDefinition)
	case hasPoint:
		if t.X == nil || t.Y == nil {
			return nil, fmt.Errorf("%w: tap point needs both x and y", ErrInvalidDefinition)
		}
		return automation.NewTapPointAction(schemas.Point{X: *t.X, Y: *t.Y}, opts...)
	}
	if t.Fuzzy {
		opts = append(opts, automation.WithFuzzy())
	}
	return automation.NewTapAction(t.Text, opts...)
}

func (c ConditionStep) condition() (automation.Condition, error) {
	var cond automation.Condition
	switch {
	case c.TextExists != "" && c.TextNotExists != "":
		return cond, fmt.Errorf("%w: condition takes text_exists or text_not_exists, not both", ErrInvalidDefinition)
	case c.TextExists != "":
		cond = automation.TextExistsCondition(c.TextExists)
	case c.TextNotExists != "":
		cond = automation.TextNotExistsCondition(c.TextNotExists)
	default:
		return cond, fmt.Errorf("%w: empty condition", ErrInvalidDefinition)
	}
	cond.Negate = c.Negate
	return cond, nil
}
