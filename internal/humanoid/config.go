package humanoid

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Range is an inclusive interval that delays are sampled from uniformly.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Config holds the parameters of the behavior model.
type Config struct {
	ReadingDelay Range
	// ReadingPerChar is added to the reading delay for every character read.
	ReadingPerChar time.Duration
	ThinkingDelay  Range
	ActionDelay    Range
	TapDelay       Range

	// FatigueThreshold is the action count after which delays start to grow.
	FatigueThreshold int
	// FatigueStep is the multiplier increase per action past the threshold.
	FatigueStep float64

	// Rng, when set, is used instead of a time-seeded source.
	Rng *rand.Rand
}

// DefaultConfig returns the delay ranges of an unhurried human operator.
func DefaultConfig() Config {
	return Config{
		ReadingDelay:     Range{Min: 500 * time.Millisecond, Max: 2 * time.Second},
		ReadingPerChar:   50 * time.Millisecond,
		ThinkingDelay:    Range{Min: time.Second, Max: 3 * time.Second},
		ActionDelay:      Range{Min: 300 * time.Millisecond, Max: time.Second},
		TapDelay:         Range{Min: 100 * time.Millisecond, Max: 500 * time.Millisecond},
		FatigueThreshold: 50,
		FatigueStep:      0.02,
	}
}

// Validate rejects inverted or negative ranges.
func (c Config) Validate() error {
	for name, r := range map[string]Range{
		"reading":  c.ReadingDelay,
		"thinking": c.ThinkingDelay,
		"action":   c.ActionDelay,
		"tap":      c.TapDelay,
	} {
		if r.Min < 0 || r.Max < r.Min {
			return fmt.Errorf("humanoid: %s delay range [%s, %s] is invalid", name, r.Min, r.Max)
		}
	}
	if c.ReadingPerChar < 0 {
		return errors.New("humanoid: reading per-char delay must not be negative")
	}
	if c.FatigueThreshold < 0 || c.FatigueStep < 0 {
		return errors.New("humanoid: fatigue threshold and step must not be negative")
	}
	return nil
}
