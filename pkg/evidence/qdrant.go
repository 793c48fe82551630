package evidence

import (
	"context"
	"fmt"

	"github.com/jllopis/ecomentor/pkg/core"
	"github.com/jllopis/ecomentor/pkg/errors"
	"github.com/jllopis/ecomentor/pkg/vector"
)

// VectorService embeds the query and searches one collection per
// namespace, named prefix+namespace.
type VectorService struct {
	store    vector.Store
	embedder vector.Embedder
	prefix   string
}

// NewVectorService creates a vector-store backed Service.
func NewVectorService(store vector.Store, embedder vector.Embedder, prefix string) *VectorService {
	return &VectorService{store: store, embedder: embedder, prefix: prefix}
}

// Collection returns the collection that backs namespace.
func (s *VectorService) Collection(namespace string) string {
	return s.prefix + namespace
}

// Search implements Service.
func (s *VectorService) Search(ctx context.Context, query, namespace string, k int) ([]core.Evidence, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.New(errors.CodeEvidenceError, "failed to embed evidence query", err)
	}
	results, err := s.store.Search(ctx, s.Collection(namespace), vec, k, 0)
	if err != nil {
		return nil, errors.New(errors.CodeEvidenceError, "vector search failed", err).
			WithContext("collection", s.Collection(namespace))
	}
	out := make([]core.Evidence, 0, len(results))
	for _, r := range results {
		id := r.String("doc_id")
		if id == "" {
			id = r.ID
		}
		out = append(out, core.Evidence{
			ID:        id,
			Text:      r.String("text"),
			Source:    sourceLabel(r.String("title"), r.String("source")),
			Date:      r.String("date"),
			Score:     float64(r.Score),
			Namespace: namespace,
		})
	}
	return out, nil
}

// Ping embeds a probe string.
func (s *VectorService) Ping(ctx context.Context) error {
	if _, err := s.embedder.Embed(ctx, "health"); err != nil {
		return fmt.Errorf("embedder unavailable: %w", err)
	}
	return nil
}
