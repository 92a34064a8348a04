package humanoid

import (
	"time"

	"go.uber.org/zap"
)

// ReadingDelay is the time needed to read textLength characters.
func (h *Humanoid) ReadingDelay(textLength int) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if textLength < 0 {
		textLength = 0
	}
	base := h.sampleLocked(h.cfg.ReadingDelay) + time.Duration(textLength)*h.cfg.ReadingPerChar
	return h.scaleLocked(base)
}

// ThinkingDelay is the pause taken before retrying something that did not work.
func (h *Humanoid) ThinkingDelay() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scaleLocked(h.sampleLocked(h.cfg.ThinkingDelay))
}

// ActionDelay is the spacing between consecutive actions.
func (h *Humanoid) ActionDelay() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scaleLocked(h.sampleLocked(h.cfg.ActionDelay))
}

// TapDelay is the short hesitation before a finger reaches the screen.
func (h *Humanoid) TapDelay() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scaleLocked(h.sampleLocked(h.cfg.TapDelay))
}

// UpdateFatigue records one completed action.
func (h *Humanoid) UpdateFatigue() {
	h.mu.Lock()
	h.actionCount++
	count := h.actionCount
	mult := h.multiplierLocked()
	h.mu.Unlock()

	if count == h.cfg.FatigueThreshold+1 {
		h.logger.Debug("Fatigue threshold crossed; delays will lengthen.",
			zap.Int("actions", count), zap.Float64("multiplier", mult))
	}
}

// FatigueMultiplier is 1.0 up to the threshold and grows linearly after it.
func (h *Humanoid) FatigueMultiplier() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.multiplierLocked()
}

// ActionCount returns the number of actions recorded so far.
func (h *Humanoid) ActionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.actionCount
}

func (h *Humanoid) multiplierLocked() float64 {
	over := h.actionCount - h.cfg.FatigueThreshold
	if over <= 0 {
		return 1.0
	}
	return 1.0 + h.cfg.FatigueStep*float64(over)
}

func (h *Humanoid) sampleLocked(r Range) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(h.rng.Int63n(int64(r.Max-r.Min)+1))
}

func (h *Humanoid) scaleLocked(d time.Duration) time.Duration {
	return time.Duration(float64(d) * h.multiplierLocked())
}
