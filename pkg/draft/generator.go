// Package draft produces one accepted draft per role. Each role climbs a
// temperature ladder until an attempt is long enough and unique across the
// request, and falls back to a single forced attempt otherwise.
package draft

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/ecomentor/pkg/core"
	"github.com/jllopis/ecomentor/pkg/errors"
	"github.com/jllopis/ecomentor/pkg/llm"
	"github.com/jllopis/ecomentor/pkg/telemetry"
)

// Config is the acceptance policy.
type Config struct {
	Temperatures       []float64
	ForcedTemperature  float64
	MinLength          int
	FingerprintLen     int
	MaxTokens          int
	Confidence         float64
	DegradedConfidence float64
}

// DefaultConfig returns the production ladder.
func DefaultConfig() Config {
	return Config{
		Temperatures:       []float64{0.3, 0.6},
		ForcedTemperature:  0.5,
		MinLength:          80,
		FingerprintLen:     100,
		MaxTokens:          450,
		Confidence:         0.7,
		DegradedConfidence: 0.55,
	}
}

// Generator drives the ladder against a generation provider.
type Generator struct {
	provider llm.Provider
	profiles *core.Profiles
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithProfiles replaces the embedded role profiles.
func WithProfiles(p *core.Profiles) Option {
	return func(g *Generator) {
		if p != nil {
			g.profiles = p
		}
	}
}

// NewGenerator creates a generator.
func NewGenerator(provider llm.Provider, cfg Config, opts ...Option) *Generator {
	def := DefaultConfig()
	if len(cfg.Temperatures) == 0 {
		cfg.Temperatures = def.Temperatures
	}
	if cfg.FingerprintLen <= 0 {
		cfg.FingerprintLen = def.FingerprintLen
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	g := &Generator{
		provider: provider,
		profiles: core.DefaultProfiles(),
		cfg:      cfg,
		logger:   slog.Default(),
		tracer:   otel.Tracer("ecomentor/draft"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns the accepted draft for role. prior holds the drafts of
// earlier roles in a chain; it is compacted before prompting. Errors on
// ladder rungs advance the ladder; an error on the forced attempt fails
// the role. Cancellation aborts immediately.
func (g *Generator) Generate(ctx context.Context, role core.Role, question core.Query, evidence []core.Evidence, prior []core.Draft, gate *Gate) (core.Draft, error) {
	if !role.IsGenerating() {
		return core.Draft{}, errors.New(errors.CodeInvalidInput, fmt.Sprintf("role %q does not generate drafts", role), nil)
	}
	if gate == nil {
		gate = NewGate()
	}

	start := time.Now()
	msgs := Messages(g.profiles.Profile(role), question.String(), evidence, core.CompactDrafts(prior))
	attempts := 0

	for _, temp := range g.cfg.Temperatures {
		attempts++
		content, err := g.attempt(ctx, role, msgs, temp)
		if err != nil {
			if ctx.Err() != nil {
				return core.Draft{}, contextLost(ctx, role)
			}
			g.logger.WarnContext(ctx, "draft attempt failed", "role", role, "temperature", temp, "error", err)
			continue
		}
		normalized := core.NormalizeText(content)
		if len([]rune(normalized)) < g.cfg.MinLength {
			g.logger.DebugContext(ctx, "draft attempt too short", "role", role, "temperature", temp, "length", len([]rune(normalized)))
			continue
		}
		if !gate.Admit(normalized, core.Fingerprint(normalized, g.cfg.FingerprintLen)) {
			g.logger.DebugContext(ctx, "draft attempt duplicates an accepted draft", "role", role, "temperature", temp)
			continue
		}
		return g.draft(role, content, evidence, temp, attempts, false, start), nil
	}

	attempts++
	temp := g.cfg.ForcedTemperature
	content, err := g.attempt(ctx, role, msgs, temp)
	if err != nil {
		if ctx.Err() != nil {
			return core.Draft{}, contextLost(ctx, role)
		}
		return core.Draft{}, errors.New(errors.CodeLLMError, "forced draft attempt failed", err).
			WithContext("role", string(role)).
			WithContext("attempts", attempts)
	}
	if content == "" {
		return core.Draft{}, errors.New(errors.CodeLLMError, "forced draft attempt returned no content", nil).
			WithContext("role", string(role))
	}
	normalized := core.NormalizeText(content)
	gate.Register(normalized, core.Fingerprint(normalized, g.cfg.FingerprintLen))
	g.logger.WarnContext(ctx, "draft force-accepted after ladder", "role", role, "attempts", attempts)
	return g.draft(role, content, evidence, temp, attempts, true, start), nil
}

func (g *Generator) attempt(ctx context.Context, role core.Role, msgs []llm.Message, temp float64) (string, error) {
	adapter := string(core.AdapterFor(role))
	ctx, span := g.tracer.Start(ctx, "Draft.Attempt")
	defer span.End()

	resp, err := g.provider.Chat(ctx, llm.ChatRequest{
		Purpose:     llm.Purpose(role),
		Messages:    msgs,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: temp,
		Adapter:     adapter,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(telemetry.LLMCallAttributes(string(role), adapter, resp.Usage.TotalTokens)...)
	return strings.TrimSpace(resp.Content), nil
}

func (g *Generator) draft(role core.Role, content string, evidence []core.Evidence, temp float64, attempts int, degraded bool, start time.Time) core.Draft {
	conf := g.cfg.Confidence
	if degraded {
		conf = g.cfg.DegradedConfidence
	}
	return core.Draft{
		Role:        role,
		Title:       g.profiles.Title(role),
		Content:     content,
		Confidence:  conf,
		Citations:   Citations(evidence),
		Temperature: temp,
		Attempts:    attempts,
		Degraded:    degraded,
		Latency:     time.Since(start),
	}
}

// Citations converts up to three evidence items into card sources.
func Citations(evidence []core.Evidence) []core.Source {
	n := min(len(evidence), 3)
	if n == 0 {
		return nil
	}
	out := make([]core.Source, n)
	for i := range n {
		out[i] = evidence[i].Citation()
	}
	return out
}

func contextLost(ctx context.Context, role core.Role) error {
	return errors.New(errors.CodeContextLost, "draft generation cancelled", context.Cause(ctx)).
		WithContext("role", string(role))
}
