// Package history keeps a record of answered questions for the history
// endpoint.
package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jllopis/ecomentor/pkg/core"
)

// Entry is one answered question.
type Entry struct {
	RequestID     string           `json:"request_id"`
	Question      string           `json:"q"`
	Mode          string           `json:"mode"`
	Roles         []string         `json:"roles"`
	RouterSource  string           `json:"router_source"`
	Cards         []core.FinalCard `json:"cards"`
	Confidence    float64          `json:"conf"`
	LatencyMS     int64            `json:"latency_ms"`
	DegradedRoles []string         `json:"degraded_roles,omitempty"`
	FailedRoles   []string         `json:"failed_roles,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Filter limits List queries.
type Filter struct {
	// Role keeps entries whose path includes the role.
	Role  string
	Limit int
}

// Store persists entries. List returns the newest entries first.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

// MemoryStore keeps the most recent entries in memory.
type MemoryStore struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
}

// NewMemoryStore returns a store that retains up to capacity entries.
// A non-positive capacity keeps everything.
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{capacity: capacity}
}

// Record appends an entry, evicting the oldest beyond capacity.
func (s *MemoryStore) Record(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.CreatedAt = normalizeTime(entry.CreatedAt)
	s.entries = append(s.entries, entry)
	if s.capacity > 0 && len(s.entries) > s.capacity {
		s.entries = append([]Entry(nil), s.entries[len(s.entries)-s.capacity:]...)
	}
	return nil
}

// List returns filtered entries, newest first.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if filter.Role != "" && !hasRole(e.Roles, filter.Role) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Discard is a Store that keeps nothing.
type Discard struct{}

// Record implements Store.
func (Discard) Record(context.Context, Entry) error { return nil }

// List implements Store.
func (Discard) List(context.Context, Filter) ([]Entry, error) { return nil, nil }

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

// normalizeTime stamps zero times with now and stores everything in UTC.
func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
