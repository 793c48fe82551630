package evidence

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/jllopis/ecomentor/pkg/errors"
	"github.com/jllopis/ecomentor/pkg/vector"
)

// Record is one JSONL line accepted by Ingester.
type Record struct {
	ID        string   `json:"id,omitempty"`
	Namespace string   `json:"namespace,omitempty"`
	Text      string   `json:"text"`
	Title     string   `json:"title,omitempty"`
	Source    string   `json:"source,omitempty"`
	Date      string   `json:"date,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// IngestStats summarizes one ingest run.
type IngestStats struct {
	Read       int            `json:"read"`
	Skipped    int            `json:"skipped"`
	Upserted   int            `json:"upserted"`
	Namespaces map[string]int `json:"namespaces"`
}

// Ingester embeds snippet records and upserts them into the collections
// VectorService searches.
type Ingester struct {
	store     vector.Store
	embedder  vector.Embedder
	prefix    string
	namespace string
	batch     int
	ensured   map[string]bool
}

// NewIngester creates an ingester. Records without a namespace go to
// defaultNamespace.
func NewIngester(store vector.Store, embedder vector.Embedder, prefix, defaultNamespace string, batch int) *Ingester {
	if batch <= 0 {
		batch = 64
	}
	return &Ingester{
		store:     store,
		embedder:  embedder,
		prefix:    prefix,
		namespace: defaultNamespace,
		batch:     batch,
		ensured:   map[string]bool{},
	}
}

// PointID returns a stable point id for a record: the record id when it
// is already a UUID, otherwise a name-based UUID of the id or the text.
// Re-ingesting the same snippet overwrites instead of duplicating.
func PointID(r Record) string {
	if r.ID != "" {
		if id, err := uuid.Parse(r.ID); err == nil {
			return id.String()
		}
		return uuid.NewSHA1(uuid.NameSpaceURL, []byte(r.ID)).String()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(NormalizeSnippet(r.Text))).String()
}

// NormalizeSnippet collapses whitespace so formatting changes keep the id.
func NormalizeSnippet(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Ingest reads JSONL records from r. Blank lines and records without text
// are skipped; malformed lines abort with the line number.
func (in *Ingester) Ingest(ctx context.Context, r io.Reader) (IngestStats, error) {
	stats := IngestStats{Namespaces: map[string]int{}}
	pending := map[string][]vector.Point{}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return stats, errors.New(errors.CodeInvalidInput, fmt.Sprintf("line %d: invalid JSON", line), err)
		}
		stats.Read++
		if strings.TrimSpace(rec.Text) == "" {
			stats.Skipped++
			continue
		}
		ns := rec.Namespace
		if ns == "" {
			ns = in.namespace
		}

		vec, err := in.embedder.Embed(ctx, rec.Text)
		if err != nil {
			return stats, errors.New(errors.CodeEvidenceError, fmt.Sprintf("line %d: embed failed", line), err)
		}
		pending[ns] = append(pending[ns], vector.Point{
			ID:      PointID(rec),
			Vector:  vec,
			Payload: payload(rec),
		})
		if len(pending[ns]) >= in.batch {
			if err := in.flush(ctx, ns, pending[ns], &stats); err != nil {
				return stats, err
			}
			pending[ns] = nil
		}
	}
	if err := sc.Err(); err != nil {
		return stats, errors.New(errors.CodeInvalidInput, "failed to read records", err)
	}
	for ns, points := range pending {
		if err := in.flush(ctx, ns, points, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (in *Ingester) flush(ctx context.Context, ns string, points []vector.Point, stats *IngestStats) error {
	if len(points) == 0 {
		return nil
	}
	coll := in.prefix + ns
	if !in.ensured[coll] {
		if err := in.store.EnsureCollection(ctx, coll, uint64(len(points[0].Vector))); err != nil {
			return errors.New(errors.CodeEvidenceError, "failed to create collection", err).WithContext("collection", coll)
		}
		in.ensured[coll] = true
	}
	if err := in.store.Upsert(ctx, coll, points); err != nil {
		return errors.New(errors.CodeEvidenceError, "upsert failed", err).WithContext("collection", coll)
	}
	stats.Upserted += len(points)
	stats.Namespaces[ns] += len(points)
	return nil
}

func payload(r Record) map[string]any {
	p := map[string]any{"text": r.Text}
	if r.ID != "" {
		p["doc_id"] = r.ID
	}
	if r.Title != "" {
		p["title"] = r.Title
	}
	if r.Source != "" {
		p["source"] = r.Source
	}
	if r.Date != "" {
		p["date"] = r.Date
	}
	if len(r.Tags) > 0 {
		p["tags"] = r.Tags
	}
	return p
}
