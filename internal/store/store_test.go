package store

import (
	"regexp"
	"strings"
	"time"

	"github.com/xkilldash9x/tapwise/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

var anyTime = ArgumentMatcherFunc(func(v interface{}) bool {
	_, ok := v.(time.Time)
	return ok
})

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func samplePosition(text string) schemas.CachedPosition {
	box := schemas.BoundingBox{X: 100, Y: 200, Width: 80, Height: 40}
	return schemas.CachedPosition{
		Text:              text,
		Box:               box,
		Center:            box.Center(),
		Confidence:        0.92,
		ScreenFingerprint: "00ff00ff00ff00ff",
		AppContext:        "messages",
		CreatedAt:         baseTime,
		HitCount:          0,
		LastVerifiedAt:    baseTime,
	}
}
