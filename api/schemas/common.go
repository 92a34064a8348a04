package schemas

import "fmt"

// -- Geometry Schemas --

// Point is a screen coordinate in physical pixels.
type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

func (p Point) String() string { return fmt.Sprintf("(%d, %d)", p.X, p.Y) }

// BoundingBox is the rectangle enclosing a recognized text region.
type BoundingBox struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Area returns width*height, or zero for degenerate boxes.
func (b BoundingBox) Area() int {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Center returns the midpoint of the box using integer division.
func (b BoundingBox) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Within reports whether the box lies entirely inside the screen.
func (b BoundingBox) Within(screen ScreenSize) bool {
	if b.X < 0 || b.Y < 0 {
		return false
	}
	return b.X+b.Width <= screen.Width && b.Y+b.Height <= screen.Height
}

// ScreenSize holds the device screen dimensions in pixels.
type ScreenSize struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// IsZero reports whether the size is unknown.
func (s ScreenSize) IsZero() bool { return s.Width <= 0 || s.Height <= 0 }

func (s ScreenSize) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }
