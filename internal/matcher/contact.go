package matcher

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xkilldash9x/tapwise/api/schemas"
)

// ContactFilterName is the registry name of the contact-list filter.
const ContactFilterName = "contact"

// DefaultDenylist holds UI vocabulary that never names a contact.
var DefaultDenylist = []string{
	"search", "new chat", "type a message", "settings", "menu", "back",
	"home", "file manager", "new group", "status", "calls",
}

var namePattern = regexp.MustCompile(`^[A-Z][A-Za-z\s'-]*$`)

// ContactConfig parameterizes ContactFilter. Bands are fractions of screen height
// and are compared against the detection's center.
type ContactConfig struct {
	ExcludedBandTop  float64
	ContentBandStart float64
	ContentBandEnd   float64
	MinArea          int
	// MinAreaNonExact applies to contains, partial and fuzzy candidates.
	MinAreaNonExact int
	Denylist        []string
}

// DefaultContactConfig returns the contact-list geometry of typical messaging apps.
func DefaultContactConfig() ContactConfig {
	return ContactConfig{
		ExcludedBandTop:  0.15,
		ContentBandStart: 0.25,
		ContentBandEnd:   0.85,
		MinArea:          2000,
		MinAreaNonExact:  3000,
		Denylist:         DefaultDenylist,
	}
}

// ContactFilter admits only detections that look like entries in a contact list.
type ContactFilter struct {
	cfg      ContactConfig
	denylist []string
}

// NewContactFilter creates a contact filter with the given configuration.
func NewContactFilter(cfg ContactConfig) *ContactFilter {
	deny := make([]string, 0, len(cfg.Denylist))
	for _, d := range cfg.Denylist {
		if n := normalizeWords(d); n != "" {
			deny = append(deny, n)
		}
	}
	return &ContactFilter{cfg: cfg, denylist: deny}
}

func (f *ContactFilter) Name() string        { return ContactFilterName }
func (f *ContactFilter) ExclusiveExact() bool { return true }

// Admit applies the position, size and vocabulary rules. Positional rules are
// skipped when the screen size is unknown.
func (f *ContactFilter) Admit(c Candidate, screen schemas.ScreenSize) bool {
	text := strings.TrimSpace(c.Detection.Text)

	if !screen.IsZero() {
		y := float64(c.Detection.CenterPoint().Y)
		h := float64(screen.Height)
		if y <= h*f.cfg.ExcludedBandTop {
			return false
		}
		if y < h*f.cfg.ContentBandStart || y > h*f.cfg.ContentBandEnd {
			return false
		}
	}

	minArea := f.cfg.MinArea
	if c.Tier != TierExact {
		minArea = f.cfg.MinAreaNonExact
		if utf8.RuneCountInString(text) < minPartialLen {
			return false
		}
	}
	if c.Area < minArea {
		return false
	}

	if f.denied(text) {
		return false
	}
	return namePattern.MatchString(text)
}

// denied matches denylist phrases on word boundaries so that "Thomas"
// is not rejected for containing "home".
func (f *ContactFilter) denied(text string) bool {
	padded := " " + normalizeWords(text) + " "
	for _, phrase := range f.denylist {
		if strings.Contains(padded, " "+phrase+" ") {
			return true
		}
	}
	return false
}

func normalizeWords(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
