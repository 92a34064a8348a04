package schemas

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundingBox(t *testing.T) {
	b := BoundingBox{X: 100, Y: 200, Width: 51, Height: 21}
	assert.Equal(t, Point{X: 125, Y: 210}, b.Center())
	assert.Equal(t, 51*21, b.Area())
	assert.Zero(t, BoundingBox{Width: -3, Height: 10}.Area())

	screen := ScreenSize{Width: 151, Height: 221}
	assert.True(t, b.Within(screen))
	assert.False(t, b.Within(ScreenSize{Width: 150, Height: 221}))
	assert.False(t, BoundingBox{X: -1, Width: 5, Height: 5}.Within(screen))
}

func TestTextDetection_CenterPoint(t *testing.T) {
	d := NewTextDetection("Send", 0.9, BoundingBox{X: 0, Y: 0, Width: 10, Height: 10})
	assert.Equal(t, Point{X: 5, Y: 5}, d.CenterPoint())

	// A detection decoded without a center falls back to the box.
	d.Center = Point{}
	assert.Equal(t, Point{X: 5, Y: 5}, d.CenterPoint())
}

func TestCachedPosition_RoundTripsToDetection(t *testing.T) {
	p := CachedPosition{
		Text:              "Send",
		Box:               BoundingBox{X: 10, Y: 20, Width: 30, Height: 40},
		Center:            Point{X: 25, Y: 40},
		Confidence:        0.8,
		ScreenFingerprint: "0123456789abcdef",
		AppContext:        "messages",
	}
	assert.Equal(t, "Send:0123456789abcdef:messages", p.Key().String())
	d := p.Detection()
	assert.Equal(t, p.Box, d.Box)
	assert.Equal(t, p.Center, d.Center)
}

func TestScreenSizeOf(t *testing.T) {
	assert.True(t, ScreenSizeOf(nil).IsZero())
	size := ScreenSizeOf(image.NewGray(image.Rect(0, 0, 1080, 1920)))
	assert.Equal(t, ScreenSize{Width: 1080, Height: 1920}, size)
	assert.Equal(t, "1080x1920", size.String())
}
