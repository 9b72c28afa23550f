// Package router orders providers for a generation attempt.
package router

import "fmt"

// Router resolves requested provider preferences into ordered provider
// chains using the configured fallback table.
type Router struct {
	order     []string
	fallbacks map[string][]string
}

// New creates a Router from the configured provider order and the
// per-provider fallback table.
func New(order []string, fallbacks map[string][]string) *Router {
	return &Router{order: order, fallbacks: fallbacks}
}

// Resolve returns the providers to try, in order: the preferred provider,
// then its configured fallbacks, then any remaining providers in configured
// order. Unknown names are skipped and duplicates collapse. When healthy is
// non-nil, providers it reports unhealthy move to the back without changing
// their relative order. An empty preference starts from the first
// configured provider.
func (r *Router) Resolve(preferred string, healthy func(string) bool) ([]string, error) {
	if len(r.order) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	known := make(map[string]bool, len(r.order))
	for _, name := range r.order {
		known[name] = true
	}

	if preferred == "" {
		preferred = r.order[0]
	}

	chain := make([]string, 0, len(r.order))
	seen := make(map[string]bool, len(r.order))
	add := func(name string) {
		if !known[name] || seen[name] {
			return
		}
		seen[name] = true
		chain = append(chain, name)
	}

	add(preferred)
	for _, name := range r.fallbacks[preferred] {
		add(name)
	}
	for _, name := range r.order {
		add(name)
	}

	if healthy != nil {
		up := make([]string, 0, len(chain))
		var down []string
		for _, name := range chain {
			if healthy(name) {
				up = append(up, name)
			} else {
				down = append(down, name)
			}
		}
		chain = append(up, down...)
	}

	return chain, nil
}
