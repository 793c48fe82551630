package llm

import (
	"sort"
	"strings"
)

// Resolver maps a purpose to the base address of its generation endpoint.
// It is built once from configuration and never reads the environment.
type Resolver struct {
	base      string
	endpoints map[Purpose]string
}

// NewResolver creates a resolver with a default base and per-purpose
// overrides. Trailing slashes are removed.
func NewResolver(base string, endpoints map[string]string) *Resolver {
	r := &Resolver{
		base:      strings.TrimRight(strings.TrimSpace(base), "/"),
		endpoints: make(map[Purpose]string, len(endpoints)),
	}
	for purpose, url := range endpoints {
		url = strings.TrimRight(strings.TrimSpace(url), "/")
		if url != "" {
			r.endpoints[Purpose(strings.ToLower(purpose))] = url
		}
	}
	return r
}

// Endpoint returns the base address for purpose.
func (r *Resolver) Endpoint(purpose Purpose) string {
	if url, ok := r.endpoints[purpose]; ok {
		return url
	}
	return r.base
}

// Endpoints lists every distinct address, sorted.
func (r *Resolver) Endpoints() []string {
	seen := map[string]bool{r.base: true}
	out := []string{r.base}
	for _, url := range r.endpoints {
		if !seen[url] {
			seen[url] = true
			out = append(out, url)
		}
	}
	sort.Strings(out)
	return out
}
