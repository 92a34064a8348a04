// File: internal/service/components.go
package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/tapwise/api/schemas"
	"github.com/xkilldash9x/tapwise/internal/automation"
	"github.com/xkilldash9x/tapwise/internal/cache"
	"github.com/xkilldash9x/tapwise/internal/humanoid"
	"github.com/xkilldash9x/tapwise/internal/matcher"
	"github.com/xkilldash9x/tapwise/internal/observability"
	"github.com/xkilldash9x/tapwise/internal/tap"
)

// Session is everything needed to drive one device. Each session owns its
// own fatigue state and tap pacing.
type Session struct {
	Name      string
	Screen    schemas.ScreenProvider
	Injector  schemas.InputInjector
	Humanoid  *humanoid.Humanoid
	Planner   *tap.Planner
	Sequencer *automation.Sequencer
}

// Components holds the initialized services for a run. The position
// cache, matcher registry and detector are shared by every session.
type Components struct {
	Cache    *cache.PositionCache
	Registry *matcher.Registry
	Detector schemas.TextDetector
	Sessions []*Session

	stopped atomic.Bool
}

// SequenceResult pairs a finished sequence with the session that ran it.
type SequenceResult struct {
	Session  string
	Sequence *automation.Sequence
	Err      error
}

// RunAll runs the sequences built by build on every session concurrently.
// Each session runs its sequences in order. Action failures stay in the
// results and never cancel other sessions.
func (c *Components) RunAll(ctx context.Context, build func() ([]*automation.Sequence, error)) ([]SequenceResult, error) {
	perSession := make([][]SequenceResult, len(c.Sessions))
	g, gctx := errgroup.WithContext(ctx)
	for i, sess := range c.Sessions {
		// Sequences are single use, so every session gets its own copies.
		seqs, err := build()
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			for _, seq := range seqs {
				if c.stopped.Load() || gctx.Err() != nil {
					return nil
				}
				done, err := sess.Sequencer.Run(gctx, seq)
				perSession[i] = append(perSession[i], SequenceResult{Session: sess.Name, Sequence: done, Err: err})
				if err != nil {
					return fmt.Errorf("session %s: %w", sess.Name, err)
				}
				if done.StopReason == automation.StopRequested || done.StopReason == automation.StopCancelled {
					return nil
				}
			}
			return nil
		})
	}
	err := g.Wait()

	var out []SequenceResult
	for _, rs := range perSession {
		out = append(out, rs...)
	}
	return out, err
}

// Stop asks every session's sequencer to stop at its next suspension
// point. Sequences not yet started are skipped.
func (c *Components) Stop() {
	c.stopped.Store(true)
	for _, s := range c.Sessions {
		s.Sequencer.Stop()
	}
}

// Shutdown releases the persistent cache tier.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			logger.Warn("Error closing position cache.", zap.Error(err))
		} else {
			logger.Debug("Position cache closed.")
		}
	}
	logger.Debug("All components shut down.")
}
