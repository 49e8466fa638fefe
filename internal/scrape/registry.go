package scrape

import (
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownKind = errors.New("unknown scraper kind")

// Constructor builds a scraper named name from its spec.
type Constructor func(name string, spec Spec, deps Deps) (Scraper, error)

// Registry maps a configured kind to its constructor.
type Registry map[string]Constructor

func DefaultRegistry() Registry {
	return Registry{
		"selector": NewSelector,
		"json":     NewJSON,
	}
}

func (r Registry) Kinds() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r Registry) Build(name string, spec Spec, deps Deps) (Scraper, error) {
	c, ok := r[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("%w %q for source %s", ErrUnknownKind, spec.Kind, name)
	}
	return c(name, spec, deps)
}
