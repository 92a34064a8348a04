package schemas

import (
	"context"
	"image"
)

// -- Device Collaborator Interfaces --

// ScreenProvider captures the current device screen. A nil image with a nil
// error means no capture was available (device busy); callers treat it as a
// retryable failure.
type ScreenProvider interface {
	Capture(ctx context.Context) (image.Image, error)
}

// TextDetector runs text recognition over a captured image. An empty slice is
// a valid result.
type TextDetector interface {
	Detect(ctx context.Context, img image.Image) ([]TextDetection, error)
}

// InputInjector delivers physical input events. Every call reports only
// whether the backend accepted the event.
type InputInjector interface {
	Tap(ctx context.Context, x, y int) bool
	TypeText(ctx context.Context, text string) bool
	PressKey(ctx context.Context, code int) bool
}

// MethodNamer is implemented by injectors that can report their backend.
type MethodNamer interface {
	Method() TapMethod
}

// ScreenSizeOf returns the dimensions of a captured image.
func ScreenSizeOf(img image.Image) ScreenSize {
	if img == nil {
		return ScreenSize{}
	}
	b := img.Bounds()
	return ScreenSize{Width: b.Dx(), Height: b.Dy()}
}
