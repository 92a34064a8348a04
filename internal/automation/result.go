package automation

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of one action in a sequence.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ErrorKind classifies why an action failed.
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindCaptureFailed   ErrorKind = "capture_failed"
	KindDetectionFailed ErrorKind = "detection_failed"
	KindNoMatch         ErrorKind = "no_match"
	KindInjectionFailed ErrorKind = "injection_failed"
	KindConditionUnmet  ErrorKind = "condition_unmet"
	KindTimeout         ErrorKind = "timeout"
	KindCancelled       ErrorKind = "cancelled"
	KindInvalidAction   ErrorKind = "invalid_action"
	KindCustomFailed    ErrorKind = "custom_failed"
)

// ActionError carries a failure kind through handler return values.
type ActionError struct {
	Kind ErrorKind
	Err  error
}

func (e *ActionError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

func actionErr(kind ErrorKind, format string, args ...any) error {
	return &ActionError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// kindOf extracts the failure kind, defaulting to fallback.
func kindOf(err error, fallback ErrorKind) ErrorKind {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return fallback
}

// Result records the outcome of one action.
type Result struct {
	Action        *Action        `json:"-"`
	Index         int            `json:"index"`
	Type          ActionType     `json:"type"`
	Description   string         `json:"description"`
	Status        Status         `json:"status"`
	Success       bool           `json:"success"`
	ExecutionTime time.Duration  `json:"execution_time"`
	AttemptsUsed  int            `json:"attempts_used"`
	ErrorKind     ErrorKind      `json:"error_kind,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// StopReason says why a sequence ended before its last action.
type StopReason string

const (
	StopNone              StopReason = ""
	StopGlobalTimeout     StopReason = "global_timeout"
	StopRequested         StopReason = "stopped"
	StopCancelled         StopReason = "cancelled"
	StopCriticalCondition StopReason = "critical_condition"
)

// Sequence is one execution of an ordered action list. A Sequence can be
// run only once.
type Sequence struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Actions       []*Action     `json:"-"`
	GlobalTimeout time.Duration `json:"global_timeout"`

	Results    []*Result  `json:"results"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    time.Time  `json:"ended_at"`
	Partial    bool       `json:"partial"`
	StopReason StopReason `json:"stop_reason,omitempty"`

	used atomic.Bool
}

// NewSequence validates actions and assigns a fresh ID. A zero
// globalTimeout selects the sequencer default.
func NewSequence(name string, actions []*Action, globalTimeout time.Duration) (*Sequence, error) {
	if globalTimeout < 0 {
		return nil, fmt.Errorf("%w: global timeout must not be negative", ErrInvalidAction)
	}
	for i, a := range actions {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
	}
	return &Sequence{
		ID:            uuid.NewString(),
		Name:          name,
		Actions:       actions,
		GlobalTimeout: globalTimeout,
	}, nil
}

// Succeeded counts actions that finished successfully.
func (s *Sequence) Succeeded() int {
	n := 0
	for _, r := range s.Results {
		if r.Success {
			n++
		}
	}
	return n
}

// Duration is the wall time between start and end of the run.
func (s *Sequence) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}

// Statistics are lifetime totals for a sequencer.
type Statistics struct {
	Sequences          int           `json:"sequences"`
	TotalActions       int           `json:"total_actions"`
	Successful         int           `json:"successful"`
	Failed             int           `json:"failed"`
	TotalExecutionTime time.Duration `json:"total_execution_time"`
}

// SuccessRate is Successful/TotalActions, or zero before any action ran.
func (s Statistics) SuccessRate() float64 {
	if s.TotalActions == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.TotalActions)
}
