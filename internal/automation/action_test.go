package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/tapwise/api/schemas"
)

func TestActionConstructors_Validate(t *testing.T) {
	noop := func(context.Context, Env) (map[string]any, error) { return nil, nil }
	wait, err := NewWaitAction(time.Second)
	require.NoError(t, err)

	tests := []struct {
		name  string
		build func() (*Action, error)
		ok    bool
	}{
		{"tap text", func() (*Action, error) { return NewTapAction("Send") }, true},
		{"tap empty text", func() (*Action, error) { return NewTapAction("") }, false},
		{"tap point", func() (*Action, error) { return NewTapPointAction(schemas.Point{X: 1, Y: 2}) }, true},
		{"negative wait", func() (*Action, error) { return NewWaitAction(-time.Second) }, false},
		{"find text", func() (*Action, error) { return NewFindTextAction("Inbox") }, true},
		{"verify empty", func() (*Action, error) { return NewVerifyAction("") }, false},
		{"loop zero iterations", func() (*Action, error) { return NewLoopAction(0, []*Action{wait}) }, false},
		{"loop no actions", func() (*Action, error) { return NewLoopAction(2, nil) }, false},
		{"loop", func() (*Action, error) { return NewLoopAction(2, []*Action{wait}) }, true},
		{"loop with invalid child", func() (*Action, error) { return NewLoopAction(1, []*Action{{Type: ActionWait}}) }, false},
		{"condition", func() (*Action, error) { return NewConditionAction(TextExistsCondition("OK")) }, true},
		{"condition without text", func() (*Action, error) { return NewConditionAction(Condition{Kind: TextExists}) }, false},
		{"custom condition without func", func() (*Action, error) { return NewConditionAction(Condition{Kind: CustomCondition}) }, false},
		{"custom", func() (*Action, error) { return NewCustomAction("x", noop) }, true},
		{"custom nil func", func() (*Action, error) { return NewCustomAction("x", nil) }, false},
		{"negative retries", func() (*Action, error) { return NewTapAction("Send", WithRetries(-1)) }, false},
		{"negative timeout", func() (*Action, error) { return NewTapAction("Send", WithTimeout(-1)) }, false},
		{"bad gate", func() (*Action, error) { return NewTapAction("Send", WithCondition(Condition{Kind: "sometimes"})) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := tt.build()
			if tt.ok {
				require.NoError(t, err)
				assert.NotNil(t, a)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidAction)
			assert.Nil(t, a)
		})
	}
}

func TestActionOptions(t *testing.T) {
	a, err := NewTapAction("Mom", WithDomain("contact"), WithFuzzy(), WithRetries(5),
		WithTimeout(time.Second), WithDescription("call mom"))
	require.NoError(t, err)
	assert.Equal(t, "contact", a.Tap.Domain)
	assert.True(t, a.Tap.Fuzzy)
	assert.Equal(t, 5, a.MaxRetries)
	assert.Equal(t, time.Second, a.Timeout)
	assert.Equal(t, "call mom", a.String())

	f, err := NewFindTextAction("Inbox", WithDomain("contact"), WithFuzzy())
	require.NoError(t, err)
	assert.Equal(t, "contact", f.Text.Domain)
}

func TestCondition_String(t *testing.T) {
	assert.Equal(t, "text_exists(OK)", TextExistsCondition("OK").String())
	assert.Equal(t, "not text_not_exists(OK)", TextNotExistsCondition("OK").Not().String())
	assert.False(t, TextExistsCondition("OK").Not().Not().Negate)
}

func TestNewSequence(t *testing.T) {
	wait, err := NewWaitAction(time.Second)
	require.NoError(t, err)

	a, err := NewSequence("one", []*Action{wait}, time.Minute)
	require.NoError(t, err)
	b, err := NewSequence("two", []*Action{wait}, 0)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, a.ID, 36)

	_, err = NewSequence("bad", []*Action{{Type: "swipe"}}, 0)
	assert.ErrorIs(t, err, ErrInvalidAction)
	_, err = NewSequence("bad", nil, -time.Second)
	assert.ErrorIs(t, err, ErrInvalidAction)
}
