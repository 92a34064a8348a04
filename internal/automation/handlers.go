package automation

import (
	"context"
	"image"

	"github.com/xkilldash9x/tapwise/api/schemas"
	"github.com/xkilldash9x/tapwise/internal/matcher"
	"go.uber.org/zap"
)

// presenceTier is the weakest match that counts as text being on screen.
// Fuzzy rune overlap only ranks tap candidates.
const presenceTier = matcher.TierPartial

func (s *Sequencer) registerHandlers() {
	s.handlers[ActionTap] = s.handleTap
	s.handlers[ActionWait] = s.handleWait
	s.handlers[ActionFindText] = s.handleFindText
	s.handlers[ActionVerify] = s.handleVerify
	s.handlers[ActionLoop] = s.handleLoop
	s.handlers[ActionCondition] = s.handleCondition
	s.handlers[ActionCustom] = s.handleCustom
}

// capture treats a nil image as a retryable failure.
func (s *Sequencer) capture(ctx context.Context) (image.Image, error) {
	img, err := s.screen.Capture(ctx)
	if err != nil {
		return nil, &ActionError{Kind: KindCaptureFailed, Err: err}
	}
	if img == nil {
		return nil, actionErr(KindCaptureFailed, "screen provider returned no image")
	}
	return img, nil
}

func (s *Sequencer) detect(ctx context.Context, img image.Image) ([]schemas.TextDetection, error) {
	dets, err := s.detector.Detect(ctx, img)
	if err != nil {
		return nil, &ActionError{Kind: KindDetectionFailed, Err: err}
	}
	return dets, nil
}

func (s *Sequencer) domain(name string) string {
	if name != "" {
		return name
	}
	return s.cfg.DomainFilter
}

// locate captures, detects and ranks candidates for text.
func (s *Sequencer) locate(ctx context.Context, text, domain string) ([]matcher.Candidate, error) {
	img, err := s.capture(ctx)
	if err != nil {
		return nil, err
	}
	dets, err := s.detect(ctx, img)
	if err != nil {
		return nil, err
	}
	cands, err := s.registry.MatchDomain(text, dets, schemas.ScreenSizeOf(img), s.domain(domain))
	if err != nil {
		return nil, &ActionError{Kind: KindInvalidAction, Err: err}
	}
	return cands, nil
}

// textPresent reports whether text is on screen with at least
// presenceTier.
func (s *Sequencer) textPresent(ctx context.Context, text string) (bool, error) {
	img, err := s.capture(ctx)
	if err != nil {
		return false, err
	}
	dets, err := s.detect(ctx, img)
	if err != nil {
		return false, err
	}
	for _, c := range matcher.Match(text, dets, schemas.ScreenSizeOf(img), nil) {
		if c.Tier >= presenceTier {
			return true, nil
		}
	}
	return false, nil
}

func (s *Sequencer) handleTap(ctx context.Context, _ *run, a *Action) (map[string]any, error) {
	p := a.Tap
	if p.Point != nil {
		// A missing capture only disables clamping for fixed points.
		var size schemas.ScreenSize
		if img, err := s.capture(ctx); err == nil {
			size = schemas.ScreenSizeOf(img)
		}
		coord := s.planner.PlanPoint(*p.Point, size)
		return s.dispatch(ctx, coord, false)
	}

	img, err := s.capture(ctx)
	if err != nil {
		return nil, err
	}
	size := schemas.ScreenSizeOf(img)

	if s.cache != nil {
		if pos, ok := s.cache.Find(ctx, p.Text, img, s.cfg.AppContext, p.Fuzzy || s.cfg.FuzzyCache); ok {
			s.logger.Debug("Tap target served from cache.", zap.String("text", p.Text), zap.Int("hits", pos.HitCount))
			return s.dispatch(ctx, s.planner.Plan(pos.Detection(), size), true)
		}
	}

	dets, err := s.detect(ctx, img)
	if err != nil {
		return nil, err
	}
	cands, err := s.registry.MatchDomain(p.Text, dets, size, s.domain(p.Domain))
	if err != nil {
		return nil, &ActionError{Kind: KindInvalidAction, Err: err}
	}
	if len(cands) == 0 {
		return map[string]any{"detections": len(dets)}, actionErr(KindNoMatch, "no detection matched %q", p.Text)
	}

	if cands[0].Tier < presenceTier {
		s.logger.Warn("Tapping a fuzzy match; no detection contains the target.",
			zap.String("text", p.Text), zap.String("detection", cands[0].Detection.Text))
	}

	data, err := s.dispatch(ctx, s.planner.Plan(cands[0].Detection, size), false)
	if err != nil {
		return data, err
	}
	data["tier"] = cands[0].Tier.String()
	if s.cache != nil {
		s.cache.Store(ctx, dets, img, s.cfg.AppContext)
	}
	return data, nil
}

func (s *Sequencer) dispatch(ctx context.Context, coord schemas.TapCoordinate, fromCache bool) (map[string]any, error) {
	res := s.planner.Tap(ctx, coord)
	data := map[string]any{
		"x":           res.Coordinate.X,
		"y":           res.Coordinate.Y,
		"source_text": res.Coordinate.SourceText,
		"from_cache":  fromCache,
		"method":      string(res.Coordinate.Method),
	}
	if !res.Success {
		if ctx.Err() != nil {
			return data, ctx.Err()
		}
		return data, &ActionError{Kind: KindInjectionFailed, Err: res.Err}
	}
	return data, nil
}

func (s *Sequencer) handleWait(ctx context.Context, r *run, a *Action) (map[string]any, error) {
	d := a.Wait.Duration
	if err := r.pause(ctx, s.human, d); err != nil {
		return nil, err
	}
	return map[string]any{"waited": d.String()}, nil
}

func (s *Sequencer) findText(ctx context.Context, r *run, p *TextParams) (map[string]any, bool, error) {
	ranked, err := s.locate(ctx, p.Text, p.Domain)
	if err != nil {
		return nil, false, err
	}
	cands := make([]matcher.Candidate, 0, len(ranked))
	for _, c := range ranked {
		if c.Tier >= presenceTier {
			cands = append(cands, c)
		}
	}
	texts := make([]string, len(cands))
	for i, c := range cands {
		texts[i] = c.Detection.Text
	}
	data := map[string]any{
		"found":   len(cands) > 0,
		"matches": len(cands),
		"texts":   texts,
	}
	if len(cands) > 0 {
		if err := r.pause(ctx, s.human, s.human.ReadingDelay(len(cands[0].Detection.Text))); err != nil {
			return data, true, err
		}
	}
	return data, len(cands) > 0, nil
}

func (s *Sequencer) handleFindText(ctx context.Context, r *run, a *Action) (map[string]any, error) {
	data, found, err := s.findText(ctx, r, a.Text)
	if err != nil {
		return data, err
	}
	if !found {
		return data, actionErr(KindNoMatch, "text %q not found", a.Text.Text)
	}
	return data, nil
}

func (s *Sequencer) handleVerify(ctx context.Context, r *run, a *Action) (map[string]any, error) {
	data, found, err := s.findText(ctx, r, a.Text)
	if err != nil {
		return data, err
	}
	if !found {
		return data, actionErr(KindConditionUnmet, "expected %q on screen", a.Text.Text)
	}
	return data, nil
}

// handleLoop runs every iteration to the end. Sub-action failures are
// logged and recorded but never fail the loop itself.
func (s *Sequencer) handleLoop(ctx context.Context, r *run, a *Action) (map[string]any, error) {
	p := a.Loop
	iterations := make([][]map[string]any, 0, p.Iterations)
	data := map[string]any{"iterations": iterations}

	for i := 0; i < p.Iterations; i++ {
		outcomes := make([]map[string]any, 0, len(p.Actions))
		for j, sub := range p.Actions {
			if s.isStopped() || ctx.Err() != nil {
				data["iterations"] = iterations
				data["completed"] = i
				return data, actionErr(KindCancelled, "loop interrupted in iteration %d", i+1)
			}

			subData, err := s.attempt(ctx, r, sub)
			outcome := map[string]any{"action": sub.String(), "success": err == nil}
			if subData != nil {
				outcome["data"] = subData
			}
			if err != nil {
				outcome["error_kind"] = string(kindOf(err, KindCustomFailed))
				outcome["error"] = err.Error()
				s.logger.Warn("Loop sub-action failed.",
					zap.Int("iteration", i+1), zap.Int("sub_action", j), zap.String("action", sub.String()), zap.Error(err))
			}
			outcomes = append(outcomes, outcome)

			if err := r.pause(ctx, s.human, s.human.ActionDelay()); err != nil {
				iterations = append(iterations, outcomes)
				data["iterations"] = iterations
				data["completed"] = i
				return data, err
			}
		}
		iterations = append(iterations, outcomes)
	}
	data["iterations"] = iterations
	data["completed"] = p.Iterations
	return data, nil
}

func (s *Sequencer) handleCondition(ctx context.Context, _ *run, a *Action) (map[string]any, error) {
	c := a.Check.Condition
	met, err := s.evaluate(ctx, c)
	data := map[string]any{"condition": c.String(), "met": met}
	if err != nil {
		return data, &ActionError{Kind: KindConditionUnmet, Err: err}
	}
	if !met {
		return data, actionErr(KindConditionUnmet, "condition %s not met", c)
	}
	return data, nil
}

func (s *Sequencer) handleCustom(ctx context.Context, _ *run, a *Action) (map[string]any, error) {
	data, err := a.Custom.Func(ctx, s.env())
	if err != nil && kindOf(err, KindNone) == KindNone {
		return data, &ActionError{Kind: KindCustomFailed, Err: err}
	}
	if err != nil {
		return data, err
	}
	return data, nil
}
