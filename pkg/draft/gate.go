package draft

import "sync"

// Gate tracks the drafts accepted so far in one request by normalized text
// and by opening fingerprint. It is safe for concurrent use.
type Gate struct {
	mu           sync.Mutex
	normalized   map[string]struct{}
	fingerprints map[string]struct{}
}

// NewGate returns an empty gate. Create one per request.
func NewGate() *Gate {
	return &Gate{
		normalized:   make(map[string]struct{}),
		fingerprints: make(map[string]struct{}),
	}
}

// Admit registers the pair and reports true unless either value was
// already registered. Check and registration happen under one lock.
func (g *Gate) Admit(normalized, fingerprint string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seenLocked(normalized, fingerprint) {
		return false
	}
	g.registerLocked(normalized, fingerprint)
	return true
}

// Register records the pair unconditionally. Used for forced drafts.
func (g *Gate) Register(normalized, fingerprint string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.registerLocked(normalized, fingerprint)
}

// Seen reports whether either value is registered.
func (g *Gate) Seen(normalized, fingerprint string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seenLocked(normalized, fingerprint)
}

// Len returns the number of registered normalized texts.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.normalized)
}

func (g *Gate) seenLocked(normalized, fingerprint string) bool {
	if _, ok := g.normalized[normalized]; ok && normalized != "" {
		return true
	}
	if _, ok := g.fingerprints[fingerprint]; ok && fingerprint != "" {
		return true
	}
	return false
}

func (g *Gate) registerLocked(normalized, fingerprint string) {
	if normalized != "" {
		g.normalized[normalized] = struct{}{}
	}
	if fingerprint != "" {
		g.fingerprints[fingerprint] = struct{}{}
	}
}
