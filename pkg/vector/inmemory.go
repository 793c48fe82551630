package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// InMemory is a brute-force cosine Store for tests and small corpora.
type InMemory struct {
	mu          sync.RWMutex
	collections map[string]map[string]Point
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{collections: make(map[string]map[string]Point)}
}

// EnsureCollection implements Store.
func (m *InMemory) EnsureCollection(_ context.Context, name string, _ uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = make(map[string]Point)
	}
	return nil
}

// Upsert implements Store.
func (m *InMemory) Upsert(_ context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return fmt.Errorf("collection %q not found", collection)
	}
	for _, p := range points {
		c[p.ID] = p
	}
	return nil
}

// Search implements Store.
func (m *InMemory) Search(_ context.Context, collection string, vec []float32, limit int, scoreThreshold float32) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %q not found", collection)
	}
	results := make([]SearchResult, 0, len(c))
	for _, p := range c {
		score := cosine(vec, p.Vector)
		if score < scoreThreshold {
			continue
		}
		results = append(results, SearchResult{ID: p.ID, Score: score, Payload: p.Payload})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
