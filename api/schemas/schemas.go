package schemas

import (
	"fmt"
	"time"
)

// -- Detection Schemas --

// TextDetection is a single OCR result. Detections are produced fresh on every
// capture and are never mutated afterwards.
type TextDetection struct {
	Text       string      `json:"text" yaml:"text"`
	Confidence float64     `json:"confidence" yaml:"confidence"`
	Box        BoundingBox `json:"bounding_box" yaml:"bounding_box"`
	Center     Point       `json:"center" yaml:"center"`
}

// NewTextDetection builds a detection with its center derived from the box.
func NewTextDetection(text string, confidence float64, box BoundingBox) TextDetection {
	return TextDetection{Text: text, Confidence: confidence, Box: box, Center: box.Center()}
}

// CenterPoint returns the stored center, deriving it from the box when unset.
func (d TextDetection) CenterPoint() Point {
	if d.Center == (Point{}) {
		return d.Box.Center()
	}
	return d.Center
}

// -- Cache Schemas --

// CacheKey uniquely identifies a CachedPosition.
type CacheKey struct {
	Text              string `json:"text"`
	ScreenFingerprint string `json:"screen_fingerprint"`
	AppContext        string `json:"app_context"`
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Text, k.ScreenFingerprint, k.AppContext)
}

// CachedPosition remembers where a labelled element appeared on a given screen.
type CachedPosition struct {
	Text              string      `json:"text"`
	Box               BoundingBox `json:"bounding_box"`
	Center            Point       `json:"center"`
	Confidence        float64     `json:"confidence"`
	ScreenFingerprint string      `json:"screen_fingerprint"`
	AppContext        string      `json:"app_context"`
	CreatedAt         time.Time   `json:"created_at"`
	HitCount          int         `json:"hit_count"`
	LastVerifiedAt    time.Time   `json:"last_verified_at"`
}

// Key returns the identity tuple of the position.
func (p CachedPosition) Key() CacheKey {
	return CacheKey{Text: p.Text, ScreenFingerprint: p.ScreenFingerprint, AppContext: p.AppContext}
}

// Detection converts the cached position back into a detection for tap planning.
func (p CachedPosition) Detection() TextDetection {
	return TextDetection{Text: p.Text, Confidence: p.Confidence, Box: p.Box, Center: p.Center}
}

// -- Tap Schemas --

// TapMethod names the input-injection backend that executed a tap.
type TapMethod string

const (
	MethodADB     TapMethod = "adb"
	MethodMock    TapMethod = "mock"
	MethodUnknown TapMethod = "unknown"
)

// TapCoordinate is a planned, bounded physical tap location.
type TapCoordinate struct {
	X                    int       `json:"x"`
	Y                    int       `json:"y"`
	Confidence           float64   `json:"confidence"`
	SourceText           string    `json:"source_text"`
	Method               TapMethod `json:"method"`
	Timestamp            time.Time `json:"timestamp"`
	RandomizationApplied bool      `json:"randomization_applied"`
}

// Point returns the coordinate as a Point.
func (c TapCoordinate) Point() Point { return Point{X: c.X, Y: c.Y} }
