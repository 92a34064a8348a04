package matcher

import (
	"fmt"
	"sync"

	"github.com/xkilldash9x/tapwise/api/schemas"
)

// Registry resolves domain filters by name.
type Registry struct {
	mu      sync.RWMutex
	filters map[string]DomainFilter
}

// NewRegistry returns a registry preloaded with the built-in filters.
func NewRegistry() *Registry {
	r := &Registry{filters: make(map[string]DomainFilter)}
	r.Register(NewContactFilter(DefaultContactConfig()))
	return r
}

// Register adds or replaces a filter under its own name.
func (r *Registry) Register(f DomainFilter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters[f.Name()] = f
}

// Lookup returns the filter registered under name. The empty name resolves
// to no filter.
func (r *Registry) Lookup(name string) (DomainFilter, error) {
	if name == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.filters[name]
	if !ok {
		return nil, fmt.Errorf("unknown domain filter %q", name)
	}
	return f, nil
}

// MatchDomain runs Match with the filter registered under domain.
func (r *Registry) MatchDomain(target string, detections []schemas.TextDetection, screen schemas.ScreenSize, domain string) ([]Candidate, error) {
	f, err := r.Lookup(domain)
	if err != nil {
		return nil, err
	}
	return Match(target, detections, screen, f), nil
}
