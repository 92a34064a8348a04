// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"image"

	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/tapwise/api/schemas"
	"github.com/xkilldash9x/tapwise/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Tap() config.TapConfig {
	args := m.Called()
	return args.Get(0).(config.TapConfig)
}

func (m *MockConfig) Cache() config.CacheConfig {
	args := m.Called()
	return args.Get(0).(config.CacheConfig)
}

func (m *MockConfig) Store() config.StoreConfig {
	args := m.Called()
	return args.Get(0).(config.StoreConfig)
}

func (m *MockConfig) Behavior() config.BehaviorConfig {
	args := m.Called()
	return args.Get(0).(config.BehaviorConfig)
}

func (m *MockConfig) Sequencer() config.SequencerConfig {
	args := m.Called()
	return args.Get(0).(config.SequencerConfig)
}

func (m *MockConfig) Device() config.DeviceConfig {
	args := m.Called()
	return args.Get(0).(config.DeviceConfig)
}

func (m *MockConfig) OCR() config.OCRConfig {
	args := m.Called()
	return args.Get(0).(config.OCRConfig)
}

// --- Setters ---

func (m *MockConfig) SetSequencerAppContext(s string) {
	m.Called(s)
}

func (m *MockConfig) SetDeviceSerials(s []string) {
	m.Called(s)
}

func (m *MockConfig) SetStoreDriver(d string) {
	m.Called(d)
}

// -- Device Collaborator Mocks --

// MockScreenProvider mocks schemas.ScreenProvider.
type MockScreenProvider struct {
	mock.Mock
}

func (m *MockScreenProvider) Capture(ctx context.Context) (image.Image, error) {
	args := m.Called(ctx)
	img, _ := args.Get(0).(image.Image)
	return img, args.Error(1)
}

// MockTextDetector mocks schemas.TextDetector.
type MockTextDetector struct {
	mock.Mock
}

func (m *MockTextDetector) Detect(ctx context.Context, img image.Image) ([]schemas.TextDetection, error) {
	args := m.Called(ctx, img)
	dets, _ := args.Get(0).([]schemas.TextDetection)
	return dets, args.Error(1)
}

// MockInputInjector mocks schemas.InputInjector. It also reports a backend
// name, MethodMock unless MethodName is set.
type MockInputInjector struct {
	mock.Mock
	MethodName schemas.TapMethod
}

func (m *MockInputInjector) Tap(ctx context.Context, x, y int) bool {
	args := m.Called(ctx, x, y)
	return args.Bool(0)
}

func (m *MockInputInjector) TypeText(ctx context.Context, text string) bool {
	args := m.Called(ctx, text)
	return args.Bool(0)
}

func (m *MockInputInjector) PressKey(ctx context.Context, code int) bool {
	args := m.Called(ctx, code)
	return args.Bool(0)
}

func (m *MockInputInjector) Method() schemas.TapMethod {
	if m.MethodName == "" {
		return schemas.MethodMock
	}
	return m.MethodName
}
