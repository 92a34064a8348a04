package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xkilldash9x/tapwise/api/schemas"
	"github.com/xkilldash9x/tapwise/internal/cache"
	"github.com/xkilldash9x/tapwise/internal/humanoid"
	"github.com/xkilldash9x/tapwise/internal/matcher"
	"github.com/xkilldash9x/tapwise/internal/tap"
	"go.uber.org/zap"
)

// Deps are the collaborators a Sequencer drives. Cache, Registry and
// Logger are optional.
type Deps struct {
	Screen   schemas.ScreenProvider
	Detector schemas.TextDetector
	Injector schemas.InputInjector
	Planner  *tap.Planner
	Humanoid *humanoid.Humanoid
	Cache    *cache.PositionCache
	Registry *matcher.Registry
	Logger   *zap.Logger
}

// Config holds sequencer-wide defaults.
type Config struct {
	AppContext           string
	MaxRetries           int
	DefaultActionTimeout time.Duration
	DefaultGlobalTimeout time.Duration
	// DomainFilter names the matcher filter used when an action does not
	// pick one.
	DomainFilter string
	// FuzzyCache lets every text tap accept near-match cache entries.
	FuzzyCache bool
}

func DefaultConfig() Config {
	return Config{
		AppContext:           "default",
		MaxRetries:           3,
		DefaultActionTimeout: 30 * time.Second,
		DefaultGlobalTimeout: 5 * time.Minute,
	}
}

// Env is handed to custom actions and custom conditions.
type Env struct {
	Screen     schemas.ScreenProvider
	Detector   schemas.TextDetector
	Injector   schemas.InputInjector
	Cache      *cache.PositionCache
	AppContext string
	Logger     *zap.Logger
}

// actionHandler runs one attempt of an action.
type actionHandler func(ctx context.Context, r *run, a *Action) (map[string]any, error)

// Sequencer executes one sequence at a time against one device session.
type Sequencer struct {
	screen   schemas.ScreenProvider
	detector schemas.TextDetector
	injector schemas.InputInjector
	planner  *tap.Planner
	human    *humanoid.Humanoid
	cache    *cache.PositionCache
	registry *matcher.Registry
	logger   *zap.Logger
	cfg      Config
	handlers map[ActionType]actionHandler

	running atomic.Bool

	mu        sync.Mutex
	stopped   bool
	cancelRun context.CancelFunc

	statsMu sync.Mutex
	stats   Statistics
}

// NewSequencer validates deps and cfg. The configured domain filter must
// be registered.
func NewSequencer(deps Deps, cfg Config) (*Sequencer, error) {
	switch {
	case deps.Screen == nil:
		return nil, errors.New("sequencer: screen provider is required")
	case deps.Detector == nil:
		return nil, errors.New("sequencer: text detector is required")
	case deps.Injector == nil:
		return nil, errors.New("sequencer: input injector is required")
	case deps.Planner == nil:
		return nil, errors.New("sequencer: tap planner is required")
	case deps.Humanoid == nil:
		return nil, errors.New("sequencer: humanoid is required")
	}
	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("sequencer: max retries must be at least 1, got %d", cfg.MaxRetries)
	}
	if cfg.DefaultActionTimeout <= 0 || cfg.DefaultGlobalTimeout <= 0 {
		return nil, errors.New("sequencer: default timeouts must be positive")
	}
	if deps.Registry == nil {
		deps.Registry = matcher.NewRegistry()
	}
	if _, err := deps.Registry.Lookup(cfg.DomainFilter); err != nil {
		return nil, fmt.Errorf("sequencer: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	s := &Sequencer{
		screen:   deps.Screen,
		detector: deps.Detector,
		injector: deps.Injector,
		planner:  deps.Planner,
		human:    deps.Humanoid,
		cache:    deps.Cache,
		registry: deps.Registry,
		logger:   deps.Logger.Named("sequencer"),
		cfg:      cfg,
		handlers: make(map[ActionType]actionHandler),
	}
	s.registerHandlers()
	return s, nil
}

// run is the state of one Run call.
type run struct {
	seq           *Sequence
	start         time.Time
	globalTimeout time.Duration
	// halted is cancelled by Stop. It only interrupts suspension points.
	halted context.Context
}

func (r *run) elapsed(now time.Time) time.Duration { return now.Sub(r.start) }

// Run executes seq to completion, global timeout, critical failure or
// Stop. The only errors returned are for a nil or reused sequence and a
// concurrent run; every action outcome is in seq.Results.
func (s *Sequencer) Run(ctx context.Context, seq *Sequence) (*Sequence, error) {
	if seq == nil {
		return nil, fmt.Errorf("%w: nil sequence", ErrInvalidAction)
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.running.Store(false)
	if !seq.used.CompareAndSwap(false, true) {
		return nil, ErrSequenceReused
	}

	halted, halt := context.WithCancel(context.Background())
	defer halt()
	s.mu.Lock()
	s.stopped = false
	s.cancelRun = halt
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancelRun = nil
		s.mu.Unlock()
	}()

	r := &run{
		seq:           seq,
		start:         s.human.Now(),
		globalTimeout: seq.GlobalTimeout,
		halted:        halted,
	}
	if r.globalTimeout <= 0 {
		r.globalTimeout = s.cfg.DefaultGlobalTimeout
	}

	seq.StartedAt = r.start
	seq.Results = make([]*Result, len(seq.Actions))
	for i, a := range seq.Actions {
		seq.Results[i] = &Result{Action: a, Index: i, Type: a.Type, Description: a.String(), Status: StatusPending}
	}

	s.logger.Info("Starting sequence.",
		zap.String("sequence_id", seq.ID),
		zap.String("name", seq.Name),
		zap.Int("actions", len(seq.Actions)),
		zap.Duration("global_timeout", r.globalTimeout))

	for i, a := range seq.Actions {
		if reason := s.interrupted(ctx, r); reason != StopNone {
			s.abort(seq, reason)
			break
		}

		res := seq.Results[i]
		s.runAction(ctx, r, a, res)
		s.record(res)
		s.human.UpdateFatigue()

		if !res.Success && a.Type == ActionCondition {
			s.logger.Warn("Critical condition failed; aborting sequence.",
				zap.String("sequence_id", seq.ID), zap.Int("index", i), zap.String("action", a.String()))
			s.abort(seq, StopCriticalCondition)
			break
		}

		if i < len(seq.Actions)-1 {
			if err := r.pause(ctx, s.human, s.human.ActionDelay()); err != nil {
				s.abort(seq, s.reasonFor(ctx))
				break
			}
		}

		if r.elapsed(s.human.Now()) > r.globalTimeout {
			s.abort(seq, StopGlobalTimeout)
			break
		}
	}

	seq.EndedAt = s.human.Now()
	s.statsMu.Lock()
	s.stats.Sequences++
	s.statsMu.Unlock()

	total := len(seq.Actions)
	succeeded := seq.Succeeded()
	rate := 0.0
	if total > 0 {
		rate = float64(succeeded) / float64(total)
	}
	s.logger.Info("Sequence finished.",
		zap.String("sequence_id", seq.ID),
		zap.String("name", seq.Name),
		zap.Duration("duration", seq.Duration()),
		zap.Int("successful", succeeded),
		zap.Int("total", total),
		zap.Float64("success_rate", rate),
		zap.Bool("partial", seq.Partial),
		zap.String("stop_reason", string(seq.StopReason)))
	return seq, nil
}

func (s *Sequencer) abort(seq *Sequence, reason StopReason) {
	seq.Partial = true
	if seq.StopReason == StopNone {
		seq.StopReason = reason
	}
	s.logger.Info("Sequence halted.", zap.String("sequence_id", seq.ID), zap.String("reason", string(reason)))
}

// Stop ends the running sequence at its next suspension point. In-flight
// device calls are not interrupted.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.cancelRun != nil {
		s.cancelRun()
	}
}

func (s *Sequencer) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Sequencer) interrupted(ctx context.Context, r *run) StopReason {
	if s.isStopped() {
		return StopRequested
	}
	if ctx.Err() != nil {
		return StopCancelled
	}
	if r.elapsed(s.human.Now()) >= r.globalTimeout {
		return StopGlobalTimeout
	}
	return StopNone
}

func (s *Sequencer) reasonFor(ctx context.Context) StopReason {
	if s.isStopped() {
		return StopRequested
	}
	return StopCancelled
}

// pause sleeps on the humanoid's executor and wakes early on ctx
// cancellation or Stop.
func (r *run) pause(ctx context.Context, h *humanoid.Humanoid, d time.Duration) error {
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unhook := context.AfterFunc(r.halted, cancel)
	defer unhook()
	if r.halted.Err() != nil {
		return r.halted.Err()
	}
	return h.Pause(pctx, d)
}

// runAction drives the attempt loop for one action.
func (s *Sequencer) runAction(ctx context.Context, r *run, a *Action, res *Result) {
	maxRetries := a.MaxRetries
	if maxRetries == 0 {
		maxRetries = s.cfg.MaxRetries
	}
	log := s.logger.With(zap.String("sequence_id", r.seq.ID), zap.Int("index", res.Index), zap.String("action", a.String()))
	start := s.human.Now()

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			if s.isStopped() || ctx.Err() != nil {
				res.ErrorKind = KindCancelled
				break
			}
			if r.elapsed(s.human.Now()) >= r.globalTimeout {
				res.ErrorKind = KindTimeout
				res.ErrorMessage = "global timeout reached between attempts"
				break
			}
			if err := r.pause(ctx, s.human, s.human.ThinkingDelay()); err != nil {
				res.ErrorKind = KindCancelled
				res.ErrorMessage = err.Error()
				break
			}
		}

		res.AttemptsUsed = attempt
		data, err := s.attempt(ctx, r, a)
		res.Data = data
		if err == nil {
			res.Success = true
			res.ErrorKind = KindNone
			res.ErrorMessage = ""
			break
		}

		res.ErrorKind = kindOf(err, KindCustomFailed)
		res.ErrorMessage = err.Error()
		log.Debug("Action attempt failed.",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.String("error_kind", string(res.ErrorKind)),
			zap.Error(err))
		if res.ErrorKind == KindCancelled || res.ErrorKind == KindInvalidAction {
			break
		}
	}

	res.ExecutionTime = s.human.Now().Sub(start)
	if res.Success {
		res.Status = StatusSucceeded
		log.Debug("Action succeeded.", zap.Int("attempts", res.AttemptsUsed), zap.Duration("elapsed", res.ExecutionTime))
		return
	}
	res.Status = StatusFailed
	log.Warn("Action failed.",
		zap.Int("attempts", res.AttemptsUsed),
		zap.String("error_kind", string(res.ErrorKind)),
		zap.String("error", res.ErrorMessage))
}

// attempt runs the condition gate and the handler once under the action
// timeout.
func (s *Sequencer) attempt(ctx context.Context, r *run, a *Action) (map[string]any, error) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultActionTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := s.attemptBody(actx, r, a)
	if err == nil {
		return data, nil
	}
	switch {
	case ctx.Err() != nil || s.isStopped() && errors.Is(err, context.Canceled):
		return data, &ActionError{Kind: KindCancelled, Err: err}
	case errors.Is(actx.Err(), context.DeadlineExceeded):
		return data, &ActionError{Kind: KindTimeout, Err: fmt.Errorf("attempt exceeded %s: %w", timeout, err)}
	}
	return data, err
}

func (s *Sequencer) attemptBody(ctx context.Context, r *run, a *Action) (map[string]any, error) {
	if a.Condition != nil {
		met, err := s.evaluate(ctx, *a.Condition)
		if err != nil {
			return nil, &ActionError{Kind: KindConditionUnmet, Err: err}
		}
		if !met {
			return nil, actionErr(KindConditionUnmet, "gate %s not met", a.Condition)
		}
	}
	h, ok := s.handlers[a.Type]
	if !ok {
		return nil, actionErr(KindInvalidAction, "no handler for action type %q", a.Type)
	}
	return h(ctx, r, a)
}

func (s *Sequencer) record(res *Result) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.TotalActions++
	if res.Success {
		s.stats.Successful++
	} else {
		s.stats.Failed++
	}
	s.stats.TotalExecutionTime += res.ExecutionTime
}

// Statistics returns lifetime totals across every sequence run.
func (s *Sequencer) Statistics() Statistics {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Sequencer) env() Env {
	return Env{
		Screen:     s.screen,
		Detector:   s.detector,
		Injector:   s.injector,
		Cache:      s.cache,
		AppContext: s.cfg.AppContext,
		Logger:     s.logger,
	}
}
