// Package evidence retrieves role-scoped supporting snippets for drafts.
// Retrieval failures never fail a request: the broker degrades to an
// empty list and generation proceeds ungrounded.
package evidence

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jllopis/ecomentor/pkg/core"
	"github.com/jllopis/ecomentor/pkg/telemetry"
)

// Service is the evidence retrieval backend.
type Service interface {
	// Search returns up to k ranked snippets from namespace.
	Search(ctx context.Context, query, namespace string, k int) ([]core.Evidence, error)
}

const (
	// DefaultCap is the maximum number of snippets returned per role.
	DefaultCap = 3
	// MaxQueryRunes bounds the retrieval query built from question and
	// prior drafts.
	MaxQueryRunes = 1500
	maxKeywords   = 5
)

// CandidatesFor returns how many candidates to request for role. The macro
// role asks for more to mix in historical events.
func CandidatesFor(role core.Role) int {
	if role == core.RoleMacro {
		return 5
	}
	return 3
}

// Broker builds retrieval queries and post-processes results.
type Broker struct {
	svc     Service
	cap     int
	logger  *slog.Logger
	metrics *telemetry.AskMetrics
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger used for degradation warnings.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics records degradations.
func WithMetrics(m *telemetry.AskMetrics) Option {
	return func(b *Broker) { b.metrics = m }
}

// WithCap overrides the per-role result cap.
func WithCap(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.cap = n
		}
	}
}

// NewBroker creates a broker over svc. A nil svc behaves like the none
// backend.
func NewBroker(svc Service, opts ...Option) *Broker {
	if svc == nil {
		svc = None{}
	}
	b := &Broker{svc: svc, cap: DefaultCap, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Gather returns at most the cap of deduplicated snippets for role. The
// query includes compacted prior drafts when running chained. An empty
// result is retried with keywords from prior drafts and then with the bare
// question. Any service error yields an empty list.
func (b *Broker) Gather(ctx context.Context, role core.Role, question core.Query, prior []core.Draft) []core.Evidence {
	q := strings.TrimSpace(question.String())
	if q == "" {
		return nil
	}
	k := CandidatesFor(role)
	for _, query := range Queries(q, core.CompactDrafts(prior)) {
		hits, err := b.svc.Search(ctx, query, role.Namespace(), k)
		if err != nil {
			if ctx.Err() == nil {
				b.logger.WarnContext(ctx, "evidence search failed, continuing without evidence",
					"role", role, "error", err)
				b.metrics.RecordDegradation(ctx, "evidence", err)
			}
			return nil
		}
		if len(hits) > 0 {
			return Dedupe(hits, b.cap)
		}
	}
	return nil
}

// Queries returns the retrieval attempts in order: the full query, the
// question plus prior-draft keywords and the bare question. Duplicate
// attempts are dropped.
func Queries(question string, prior []core.ContextDraft) []string {
	candidates := []string{BuildQuery(question, prior)}
	if len(prior) > 0 {
		var text strings.Builder
		for _, p := range prior {
			text.WriteString(p.Summary)
			text.WriteString(" ")
		}
		if kw := core.HangulKeywords(text.String(), maxKeywords); len(kw) > 0 {
			candidates = append(candidates, question+" "+strings.Join(kw, " "))
		}
	}
	candidates = append(candidates, question)

	out := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// BuildQuery joins the question with one "[ROLE] title: summary" line per
// prior draft, capped at MaxQueryRunes.
func BuildQuery(question string, prior []core.ContextDraft) string {
	parts := []string{strings.TrimSpace(question)}
	if len(prior) > 0 {
		lines := make([]string, len(prior))
		for i, p := range prior {
			lines[i] = "[" + strings.ToUpper(string(p.Role)) + "] " + p.String()
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}
	joined := strings.TrimSpace(strings.Join(parts, "\n\n"))
	return core.TruncateRunes(joined, MaxQueryRunes)
}

// Dedupe drops empty snippets and repeats by normalized text, keeping rank
// order, and trims to limit.
func Dedupe(hits []core.Evidence, limit int) []core.Evidence {
	out := make([]core.Evidence, 0, limit)
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		key := core.NormalizeText(h.Text)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, h)
		if len(out) == limit {
			break
		}
	}
	return out
}

// None is the disabled backend: it never returns evidence.
type None struct{}

// Search implements Service.
func (None) Search(context.Context, string, string, int) ([]core.Evidence, error) {
	return nil, nil
}
