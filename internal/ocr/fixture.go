package ocr

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"sync"

	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/xkilldash9x/tapwise/api/schemas"
)

// FixtureScreen is one recorded screen with its expected detections.
type FixtureScreen struct {
	Name       string                  `json:"name"`
	Detections []schemas.TextDetection `json:"detections"`
}

// Fixture is a scripted series of screens for dry runs.
type Fixture struct {
	Screen  schemas.ScreenSize `json:"screen"`
	Screens []FixtureScreen    `json:"screens"`
}

// LoadFixture reads a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand fixture path: %w", err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	if f.Screen.IsZero() {
		return nil, fmt.Errorf("fixture %s: screen size is required", path)
	}
	if len(f.Screens) == 0 {
		return nil, fmt.Errorf("fixture %s: no screens", path)
	}
	for i := range f.Screens {
		for j, d := range f.Screens[i].Detections {
			if d.Center == (schemas.Point{}) {
				f.Screens[i].Detections[j].Center = d.Box.Center()
			}
		}
	}
	return &f, nil
}

// Render draws every screen as a light canvas with a dark block per
// detection, so distinct layouts get distinct fingerprints. The returned
// detector answers for exactly these images.
func (f *Fixture) Render() ([]image.Image, *FixtureDetector) {
	det := &FixtureDetector{byImage: make(map[image.Image][]schemas.TextDetection)}
	imgs := make([]image.Image, len(f.Screens))
	bounds := image.Rect(0, 0, f.Screen.Width, f.Screen.Height)
	for i, s := range f.Screens {
		img := image.NewGray(bounds)
		draw.Draw(img, bounds, &image.Uniform{C: color.Gray{Y: 235}}, image.Point{}, draw.Src)
		for _, d := range s.Detections {
			r := image.Rect(d.Box.X, d.Box.Y, d.Box.X+d.Box.Width, d.Box.Y+d.Box.Height).Intersect(bounds)
			draw.Draw(img, r, &image.Uniform{C: color.Gray{Y: 30}}, image.Point{}, draw.Src)
		}
		imgs[i] = img
		det.byImage[img] = s.Detections
	}
	return imgs, det
}

// FixtureDetector returns recorded detections for rendered fixture screens.
type FixtureDetector struct {
	mu      sync.RWMutex
	byImage map[image.Image][]schemas.TextDetection
}

var _ schemas.TextDetector = (*FixtureDetector)(nil)

func (d *FixtureDetector) Detect(ctx context.Context, img image.Image) ([]schemas.TextDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	dets, ok := d.byImage[img]
	if !ok {
		return nil, fmt.Errorf("image is not a fixture screen")
	}
	return append([]schemas.TextDetection(nil), dets...), nil
}
