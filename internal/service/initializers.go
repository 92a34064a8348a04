// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tapwise/api/schemas"
	"github.com/xkilldash9x/tapwise/internal/automation"
	"github.com/xkilldash9x/tapwise/internal/cache"
	"github.com/xkilldash9x/tapwise/internal/config"
	"github.com/xkilldash9x/tapwise/internal/humanoid"
	"github.com/xkilldash9x/tapwise/internal/ocr"
	"github.com/xkilldash9x/tapwise/internal/store"
	"github.com/xkilldash9x/tapwise/internal/tap"
)

// OCR engine names.
const (
	EngineTesseract = "tesseract"
	EngineFixture   = "fixture"
)

// Device driver names.
const (
	DriverADB  = "adb"
	DriverMock = "mock"
)

// HumanoidConfig translates the behavior section into the delay model config.
func HumanoidConfig(b config.BehaviorConfig) humanoid.Config {
	return humanoid.Config{
		ReadingDelay:     humanoid.Range{Min: b.ReadingDelay.Min, Max: b.ReadingDelay.Max},
		ReadingPerChar:   b.ReadingPerChar,
		ThinkingDelay:    humanoid.Range{Min: b.ThinkingDelay.Min, Max: b.ThinkingDelay.Max},
		ActionDelay:      humanoid.Range{Min: b.ActionDelay.Min, Max: b.ActionDelay.Max},
		TapDelay:         humanoid.Range{Min: b.TapDelay.Min, Max: b.TapDelay.Max},
		FatigueThreshold: b.FatigueThresholdActions,
		FatigueStep:      b.FatigueStep,
	}
}

func TapConfig(t config.TapConfig) tap.Config {
	return tap.Config{
		RandomizationEnabled: t.RandomizationEnabled,
		RandomizationRadius:  t.RandomizationRadius,
		MinTapInterval:       t.MinTapInterval,
		SafeZone: tap.SafeZone{
			Left:   t.SafeZone.Left,
			Right:  t.SafeZone.Right,
			Top:    t.SafeZone.Top,
			Bottom: t.SafeZone.Bottom,
		},
	}
}

func CacheConfig(c config.CacheConfig) cache.Config {
	return cache.Config{
		ConfidenceThreshold:   c.ConfidenceThreshold,
		VerificationThreshold: c.VerificationThreshold,
		Capacity:              c.MemoryCapacity,
	}
}

// SequencerConfig merges the sequencer section with the cache-wide fuzzy default.
func SequencerConfig(s config.SequencerConfig, c config.CacheConfig) automation.Config {
	return automation.Config{
		AppContext:           s.AppContext,
		MaxRetries:           s.MaxRetriesPerAction,
		DefaultActionTimeout: s.DefaultActionTimeout,
		DefaultGlobalTimeout: s.DefaultGlobalTimeout,
		DomainFilter:         s.DomainFilter,
		FuzzyCache:           c.Fuzzy,
	}
}

// InitializeCache opens the configured persistent tier and wraps it in a
// PositionCache. The caller owns the returned cache and must Close it.
func InitializeCache(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*cache.PositionCache, error) {
	repo, err := store.Open(ctx, cfg.Store(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open persistent cache: %w", err)
	}
	var opts []cache.Option
	if repo != nil {
		opts = append(opts, cache.WithRepository(repo))
	} else {
		logger.Info("No persistent cache configured; positions are kept in memory only.")
	}
	return cache.New(CacheConfig(cfg.Cache()), logger, opts...), nil
}

// InitializeDetector builds the configured text detector. The fixture
// engine also returns the screens its detections belong to.
func InitializeDetector(cfg config.OCRConfig, logger *zap.Logger) (schemas.TextDetector, []image.Image, error) {
	switch cfg.Engine {
	case EngineTesseract, "":
		tc := ocr.DefaultTesseractConfig()
		if cfg.TesseractPath != "" {
			tc.Path = cfg.TesseractPath
		}
		if cfg.Language != "" {
			tc.Language = cfg.Language
		}
		tc.MinConfidence = cfg.MinConfidence
		return ocr.NewTesseract(tc, logger), nil, nil
	case EngineFixture:
		if cfg.FixturePath == "" {
			return nil, nil, fmt.Errorf("%w: ocr.fixture_path is required for the fixture engine", config.ErrInvalidConfig)
		}
		fixture, err := ocr.LoadFixture(cfg.FixturePath)
		if err != nil {
			return nil, nil, err
		}
		screens, det := fixture.Render()
		logger.Info("Loaded OCR fixture.", zap.String("path", cfg.FixturePath), zap.Int("screens", len(screens)))
		return det, screens, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown ocr engine %q", config.ErrInvalidConfig, cfg.Engine)
	}
}
