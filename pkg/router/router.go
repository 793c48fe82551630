// Package router decides which roles answer a question and how they run.
// Routing never fails: explicit roles win, then an AI classifier bounded
// by a short timeout, then the heuristic cascade.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/ecomentor/pkg/core"
	"github.com/jllopis/ecomentor/pkg/llm"
	"github.com/jllopis/ecomentor/pkg/resilience"
	"github.com/jllopis/ecomentor/pkg/telemetry"
)

// Source identifies which stage produced a decision.
type Source string

const (
	SourceExplicit  Source = "explicit"
	SourceAI        Source = "ai_router"
	SourceHeuristic Source = "heuristic_fallback"
)

const (
	explicitConfidence  = 1.0
	heuristicConfidence = 0.85
)

// Decision is the routing outcome.
type Decision struct {
	Path       core.RolePath      `json:"roles"`
	Mode       core.ExecutionMode `json:"mode"`
	Source     Source             `json:"source"`
	Confidence float64            `json:"confidence"`
	// Rule is the heuristic rule id when Source is SourceHeuristic.
	Rule string `json:"rule,omitempty"`
}

// Config controls the classifier stage.
type Config struct {
	Classifier    bool
	Timeout       time.Duration
	MinConfidence float64
	MaxTokens     int
}

// DefaultConfig returns the production classifier settings.
func DefaultConfig() Config {
	return Config{
		Classifier:    true,
		Timeout:       150 * time.Millisecond,
		MinConfidence: 0.7,
		MaxTokens:     60,
	}
}

// Router selects role paths.
type Router struct {
	provider llm.Provider
	cfg      Config
	rules    []Rule
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRules replaces the heuristic cascade.
func WithRules(rules []Rule) Option {
	return func(r *Router) { r.rules = rules }
}

// New creates a router. A nil provider disables the classifier.
func New(provider llm.Provider, cfg Config, opts ...Option) *Router {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	r := &Router{
		provider: provider,
		cfg:      cfg,
		rules:    Rules,
		logger:   slog.Default(),
		tracer:   otel.Tracer("ecomentor/router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route decides the path and mode for question. explicitMode accepts the
// wire names; anything else, including "auto", selects the default mode.
func (r *Router) Route(ctx context.Context, question core.Query, explicit []core.Role, explicitMode string, prefer []core.Role) Decision {
	ctx, span := r.tracer.Start(ctx, "Router.Route")
	defer span.End()

	d := r.selectPath(ctx, question, explicit, prefer)
	if mode, ok := core.ParseMode(explicitMode); ok {
		d.Mode = mode
	} else {
		d.Mode = core.DefaultMode(d.Path)
	}

	span.SetAttributes(telemetry.RouteAttributes(string(d.Mode), d.Path.Strings(), string(d.Source), d.Confidence)...)
	r.logger.DebugContext(ctx, "route selected",
		"roles", d.Path.String(), "mode", d.Mode, "source", d.Source, "confidence", d.Confidence, "rule", d.Rule)
	return d
}

func (r *Router) selectPath(ctx context.Context, question core.Query, explicit, prefer []core.Role) Decision {
	if roles := generating(explicit); len(roles) > 0 {
		return Decision{Path: core.NormalizePath(roles), Source: SourceExplicit, Confidence: explicitConfidence}
	}

	if r.cfg.Classifier && r.provider != nil {
		c, err := resilience.WithTimeout(ctx, r.cfg.Timeout, func(ctx context.Context) (Classification, error) {
			return r.classify(ctx, question)
		})
		switch {
		case err != nil:
			r.logger.WarnContext(ctx, "router classifier failed, using heuristic", "error", err)
		case c.Confidence < r.cfg.MinConfidence:
			r.logger.WarnContext(ctx, "router classifier confidence too low, using heuristic",
				"confidence", c.Confidence, "min", r.cfg.MinConfidence)
		default:
			return Decision{Path: c.Path, Source: SourceAI, Confidence: c.Confidence}
		}
	}

	path, rule := Heuristic(r.rules, question.String(), prefer)
	return Decision{Path: path, Source: SourceHeuristic, Confidence: heuristicConfidence, Rule: rule}
}

func (r *Router) classify(ctx context.Context, question core.Query) (Classification, error) {
	resp, err := r.provider.Chat(ctx, llm.ChatRequest{
		Purpose:     llm.PurposeRouter,
		Messages:    ClassifierPrompt(question.String()),
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: 0,
	})
	if err != nil {
		return Classification{}, err
	}
	return ParseClassification(resp.Content)
}

// Classification is a decoded classifier reply.
type Classification struct {
	Path       core.RolePath
	Confidence float64
}

const classifierSystemPrompt = `질문을 읽고 필요한 전문가를 선택하라.

전문가:
- macro: 금리·환율·경기·물가·정책
- firm: 기업·주가·실적·재무
- household: 가계·대출·포트폴리오·저축

출력: {"roles":["macro"],"confidence":0.9} (JSON만)`

// ClassifierPrompt builds the compact classification prompt.
func ClassifierPrompt(question string) []llm.Message {
	return []llm.Message{
		llm.System(classifierSystemPrompt),
		llm.User(question + "\n\nJSON:"),
	}
}

var (
	codeFence  = regexp.MustCompile("^```(?:json)?\\s*|```$")
	jsonObject = regexp.MustCompile(`\{[^}]+\}`)
)

// ParseClassification decodes a classifier reply. Role aliases are
// accepted; an empty or unknown role set is an error. A missing confidence
// is estimated from the reply length, short replies being more reliable.
func ParseClassification(raw string) (Classification, error) {
	text := codeFence.ReplaceAllString(strings.TrimSpace(raw), "")
	match := jsonObject.FindString(text)
	if match == "" {
		return Classification{}, fmt.Errorf("classifier reply has no JSON object: %q", core.TruncateRunes(raw, 80))
	}

	var payload struct {
		Roles      []string `json:"roles"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(match), &payload); err != nil {
		return Classification{}, fmt.Errorf("decode classifier reply: %w", err)
	}
	roles := core.ParseRoles(payload.Roles)
	if len(roles) == 0 {
		return Classification{}, fmt.Errorf("classifier returned no known roles: %v", payload.Roles)
	}

	conf := 0.7
	if len([]rune(raw)) < 50 {
		conf = 0.9
	}
	if payload.Confidence != nil {
		conf = *payload.Confidence
	}
	return Classification{Path: core.NormalizePath(roles), Confidence: conf}, nil
}
