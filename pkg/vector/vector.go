// Package vector defines the vector store and embedder contracts used by
// the qdrant evidence backend and the ingest command.
package vector

import "context"

// Store defines the interface for a vector database.
type Store interface {
	// Upsert adds or updates points in a collection.
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search returns the nearest points to vector, best first.
	Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error)
	// EnsureCollection creates the collection when it does not exist.
	EnsureCollection(ctx context.Context, name string, vectorSize uint64) error
}

// Point represents a data point in the vector store.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// SearchResult represents a result from a vector search.
type SearchResult struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// String returns a string payload field or "".
func (r SearchResult) String(key string) string {
	s, _ := r.Payload[key].(string)
	return s
}

// Embedder converts text to vectors.
type Embedder interface {
	// Embed converts a text string into a vector.
	Embed(ctx context.Context, text string) ([]float32, error)
}
