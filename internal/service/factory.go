// File: internal/service/factory.go
package service

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tapwise/api/schemas"
	"github.com/xkilldash9x/tapwise/internal/automation"
	"github.com/xkilldash9x/tapwise/internal/config"
	"github.com/xkilldash9x/tapwise/internal/device"
	"github.com/xkilldash9x/tapwise/internal/humanoid"
	"github.com/xkilldash9x/tapwise/internal/matcher"
	"github.com/xkilldash9x/tapwise/internal/tap"
)

// ComponentFactory creates the set of components needed for a run.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// listDevices is replaced in tests.
var listDevices = device.Devices

type concreteFactory struct{}

// NewComponentFactory creates the production component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires cache, detector and one session per device.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{Registry: matcher.NewRegistry()}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	dev := cfg.Device()
	ocrCfg := cfg.OCR()
	switch {
	case dev.Driver == DriverMock && ocrCfg.Engine != EngineFixture:
		initializationErr = fmt.Errorf("%w: the mock device needs the fixture ocr engine", config.ErrInvalidConfig)
		return nil, initializationErr
	case dev.Driver != DriverMock && ocrCfg.Engine == EngineFixture:
		initializationErr = fmt.Errorf("%w: the fixture ocr engine only works with the mock device", config.ErrInvalidConfig)
		return nil, initializationErr
	}

	// 1. Position cache
	positions, err := InitializeCache(ctx, cfg, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Cache = positions
	logger.Debug("Position cache initialized.")

	// 2. Text detector
	detector, screens, err := InitializeDetector(ocrCfg, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Detector = detector
	logger.Debug("Text detector initialized.", zap.String("engine", ocrCfg.Engine))

	// 3. Device sessions
	devices, err := openDevices(ctx, dev, screens, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	for _, d := range devices {
		sess, err := newSession(cfg, d, components, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to create session for %s: %w", d.name, err)
			return nil, initializationErr
		}
		components.Sessions = append(components.Sessions, sess)
	}

	logger.Info("All components initialized successfully.", zap.Int("sessions", len(components.Sessions)))
	return components, nil
}

type deviceHandle struct {
	name     string
	screen   schemas.ScreenProvider
	injector schemas.InputInjector
}

func openDevices(ctx context.Context, cfg config.DeviceConfig, screens []image.Image, logger *zap.Logger) ([]deviceHandle, error) {
	switch cfg.Driver {
	case DriverMock:
		// Every mock session walks through the same scripted screens.
		n := max(len(cfg.Serials), 1)
		out := make([]deviceHandle, n)
		for i := range out {
			m := device.NewMock(screens...)
			out[i] = deviceHandle{name: fmt.Sprintf("mock-%d", i+1), screen: m, injector: m}
		}
		return out, nil
	case DriverADB, "":
		serials := cfg.Serials
		if len(serials) == 0 {
			found, err := listDevices(ctx, cfg.ADBPath)
			if err != nil {
				return nil, err
			}
			if len(found) == 0 {
				return nil, errors.New("no adb devices attached")
			}
			logger.Info("Discovered adb devices.", zap.Strings("serials", found))
			serials = found
		}
		out := make([]deviceHandle, len(serials))
		for i, serial := range serials {
			adb := device.NewADB(device.ADBConfig{
				Path:              cfg.ADBPath,
				Serial:            serial,
				CaptureRetries:    cfg.CaptureRetries,
				CaptureRetryDelay: cfg.CaptureRetryDelay,
				CommandTimeout:    cfg.CommandTimeout,
			}, logger, nil)
			out[i] = deviceHandle{name: serial, screen: adb, injector: adb}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown device driver %q", config.ErrInvalidConfig, cfg.Driver)
	}
}

func newSession(cfg config.Interface, d deviceHandle, c *Components, logger *zap.Logger) (*Session, error) {
	logger = logger.With(zap.String("device", d.name))

	human := humanoid.New(HumanoidConfig(cfg.Behavior()), logger, nil)
	planner, err := tap.NewPlanner(TapConfig(cfg.Tap()), d.injector, human, logger)
	if err != nil {
		return nil, err
	}
	seq, err := automation.NewSequencer(automation.Deps{
		Screen:   d.screen,
		Detector: c.Detector,
		Injector: d.injector,
		Planner:  planner,
		Humanoid: human,
		Cache:    c.Cache,
		Registry: c.Registry,
		Logger:   logger,
	}, SequencerConfig(cfg.Sequencer(), cfg.Cache()))
	if err != nil {
		return nil, err
	}
	return &Session{
		Name:      d.name,
		Screen:    d.screen,
		Injector:  d.injector,
		Humanoid:  human,
		Planner:   planner,
		Sequencer: seq,
	}, nil
}
