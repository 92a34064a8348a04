// Package matcher ranks OCR detections against a target label.
package matcher

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xkilldash9x/tapwise/api/schemas"
)

// Tier classifies how strongly a detection's text matches the target.
type Tier int

const (
	TierNone Tier = iota
	TierFuzzy
	TierPartial
	TierContains
	TierExact
)

// Priority returns the ranking weight of the tier.
func (t Tier) Priority() int {
	switch t {
	case TierExact:
		return 100
	case TierContains:
		return 50
	case TierPartial:
		return 20
	case TierFuzzy:
		return 8
	default:
		return 0
	}
}

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierContains:
		return "contains"
	case TierPartial:
		return "partial"
	case TierFuzzy:
		return "fuzzy"
	default:
		return "none"
	}
}

// minPartialLen is the shortest detection that may match as a fragment of the target.
const minPartialLen = 3

// Candidate is a detection that matched the target, with its ranking inputs.
type Candidate struct {
	Detection schemas.TextDetection
	Tier      Tier
	Priority  int
	Area      int
	// Index is the position of the detection in the input slice.
	Index int
}

// DomainFilter is an app-specific admission policy applied to candidates
// after classification.
type DomainFilter interface {
	Name() string
	Admit(c Candidate, screen schemas.ScreenSize) bool
	// ExclusiveExact reports whether a surviving exact match suppresses all
	// lower tiers for the query.
	ExclusiveExact() bool
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Classify returns the match tier of text against target.
func Classify(target, text string) Tier {
	t, d := normalize(target), normalize(text)
	if t == "" || d == "" {
		return TierNone
	}
	switch {
	case t == d:
		return TierExact
	case strings.Contains(d, t):
		return TierContains
	case strings.Contains(t, d) && utf8.RuneCountInString(d) >= minPartialLen:
		return TierPartial
	case fuzzyOverlap(t, d):
		return TierFuzzy
	}
	return TierNone
}

// fuzzyOverlap compares distinct-character sets, which tolerates the common
// single-glyph OCR substitutions.
func fuzzyOverlap(a, b string) bool {
	setA := runeSet(a)
	setB := runeSet(b)
	common := 0
	for r := range setA {
		if _, ok := setB[r]; ok {
			common++
		}
	}
	shorter := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n < shorter {
		shorter = n
	}
	// Half the shorter length, rounded up, but never fewer than three.
	required := max(3, (shorter+1)/2)
	return common >= required
}

func runeSet(s string) map[rune]struct{} {
	set := make(map[rune]struct{}, len(s))
	for _, r := range s {
		if r == ' ' {
			continue
		}
		set[r] = struct{}{}
	}
	return set
}

// Match classifies every detection against target, applies filter when it
// is non-nil, and returns the survivors best first. No candidates is a normal
// outcome and yields an empty, non-nil slice.
func Match(target string, detections []schemas.TextDetection, screen schemas.ScreenSize, filter DomainFilter) []Candidate {
	candidates := make([]Candidate, 0, len(detections))
	hasExact := false
	for i, det := range detections {
		tier := Classify(target, det.Text)
		if tier == TierNone {
			continue
		}
		c := Candidate{
			Detection: det,
			Tier:      tier,
			Priority:  tier.Priority(),
			Area:      det.Box.Area(),
			Index:     i,
		}
		if filter != nil && !filter.Admit(c, screen) {
			continue
		}
		if tier == TierExact {
			hasExact = true
		}
		candidates = append(candidates, c)
	}

	if hasExact && filter != nil && filter.ExclusiveExact() {
		exact := candidates[:0]
		for _, c := range candidates {
			if c.Tier == TierExact {
				exact = append(exact, c)
			}
		}
		candidates = exact
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Area != b.Area {
			return a.Area > b.Area
		}
		if a.Detection.Confidence != b.Detection.Confidence {
			return a.Detection.Confidence > b.Detection.Confidence
		}
		return a.Index < b.Index
	})
	return candidates
}

// Best returns the top-ranked candidate, if any.
func Best(target string, detections []schemas.TextDetection, screen schemas.ScreenSize, filter DomainFilter) (Candidate, bool) {
	ranked := Match(target, detections, screen, filter)
	if len(ranked) == 0 {
		return Candidate{}, false
	}
	return ranked[0], true
}
