// Package fingerprint derives compact, content-based hashes from screen
// captures. Two captures with the same fingerprint are treated as the same
// visual screen state by the position cache.
package fingerprint

import (
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for captures read from disk
	_ "image/png"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/xkilldash9x/tapwise/api/schemas"
	"golang.org/x/image/draw"
)

const (
	// Unknown is returned when no fingerprint can be computed. The cache
	// treats it as a guaranteed miss.
	Unknown = "unknown"

	// GridSize is the side length of the grayscale grid that gets hashed.
	GridSize = 64

	// DefaultRegionPadding is the margin added around a text box when
	// fingerprinting only the neighbourhood of an element.
	DefaultRegionPadding = 10

	// quantShift drops the low bits of every gray level so that encoder
	// noise which survives downsampling does not reach the hash.
	quantShift = 4
)

// Fingerprint hashes img, or the part of it inside region when region is
// non-nil. The region is clipped to the image bounds first.
func Fingerprint(img image.Image, region *image.Rectangle) string {
	if img == nil {
		return Unknown
	}
	src := img.Bounds()
	if region != nil {
		src = region.Intersect(src)
	}
	if src.Empty() {
		return Unknown
	}

	grid := image.NewGray(image.Rect(0, 0, GridSize, GridSize))
	// BiLinear widens its support when shrinking, so every source pixel
	// contributes to the grid instead of a sparse sample.
	draw.BiLinear.Scale(grid, grid.Bounds(), img, src, draw.Src, nil)

	quantized := make([]byte, len(grid.Pix))
	for i, p := range grid.Pix {
		quantized[i] = p >> quantShift
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(quantized))
}

// RegionAround returns box grown by padding on every side and clipped to bounds.
func RegionAround(box schemas.BoundingBox, bounds image.Rectangle, padding int) image.Rectangle {
	r := image.Rect(box.X-padding, box.Y-padding, box.X+box.Width+padding, box.Y+box.Height+padding)
	return r.Intersect(bounds)
}

// Region fingerprints the padded neighbourhood of a detected text box.
func Region(img image.Image, box schemas.BoundingBox) string {
	if img == nil {
		return Unknown
	}
	r := RegionAround(box, img.Bounds(), DefaultRegionPadding)
	return Fingerprint(img, &r)
}

// Decode reads a PNG or JPEG capture.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode capture: %w", err)
	}
	return img, nil
}

// FromReader decodes a capture and fingerprints it, yielding Unknown when the
// data cannot be decoded.
func FromReader(r io.Reader) string {
	img, err := Decode(r)
	if err != nil {
		return Unknown
	}
	return Fingerprint(img, nil)
}
