// Package orchestrator runs an ask request end to end: routing, per-role
// drafting on the chosen schedule and editorial synthesis.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/ecomentor/pkg/core"
	"github.com/jllopis/ecomentor/pkg/errors"
	"github.com/jllopis/ecomentor/pkg/history"
	"github.com/jllopis/ecomentor/pkg/llm"
	"github.com/jllopis/ecomentor/pkg/router"
	"github.com/jllopis/ecomentor/pkg/telemetry"
)

// AskRequest is the body of an ask call.
type AskRequest struct {
	Question string   `json:"q"`
	Mode     string   `json:"mode,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Prefer   []string `json:"prefer,omitempty"`
}

// Metrics summarizes a finished request.
type Metrics struct {
	TTFTMs    int64   `json:"ttft_ms"`
	Tokens    int     `json:"tokens,omitempty"`
	TPS       float64 `json:"tps,omitempty"`
	Conf      float64 `json:"conf"`
	LatencyMs int64   `json:"latency_ms"`
}

// Meta describes how a request was answered.
type Meta struct {
	RequestID        string      `json:"request_id"`
	Mode             string      `json:"mode"`
	Roles            []core.Role `json:"roles"`
	RouterSource     string      `json:"router_source"`
	RouterConfidence float64     `json:"router_confidence"`
	Synthesized      bool        `json:"synthesized"`
	DegradedRoles    []core.Role `json:"degraded_roles,omitempty"`
	FailedRoles      []core.Role `json:"failed_roles,omitempty"`
}

// AskResponse is the answer to an ask call.
type AskResponse struct {
	Cards   []core.FinalCard `json:"cards"`
	Metrics Metrics          `json:"metrics"`
	Meta    Meta             `json:"meta"`
}

// Router selects the path for a question.
type Router interface {
	Route(ctx context.Context, question core.Query, explicit []core.Role, explicitMode string, prefer []core.Role) router.Decision
}

// Engine wires router, scheduler and synthesizer.
type Engine struct {
	router    Router
	scheduler *Scheduler
	synth     *Synthesizer
	history   history.Store
	logger    *slog.Logger
	metrics   *telemetry.AskMetrics
	tracer    trace.Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithHistory records every answered request in store.
func WithHistory(store history.Store) EngineOption {
	return func(e *Engine) {
		if store != nil {
			e.history = store
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records request metrics.
func WithMetrics(m *telemetry.AskMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine.
func NewEngine(r Router, scheduler *Scheduler, synth *Synthesizer, opts ...EngineOption) *Engine {
	e := &Engine{
		router:    r,
		scheduler: scheduler,
		synth:     synth,
		history:   history.Discard{},
		logger:    slog.Default(),
		tracer:    otel.Tracer("ecomentor/orchestrator"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Route exposes the routing decision without generating anything.
func (e *Engine) Route(ctx context.Context, req AskRequest) (router.Decision, error) {
	q, err := core.NewQuery(req.Question)
	if err != nil {
		return router.Decision{}, err
	}
	return e.router.Route(ctx, q, core.ParseRoles(req.Roles), req.Mode, core.ParseRoles(req.Prefer)), nil
}

// Ask answers req. Progress events go to sink in the order start, draft
// per accepted role, metrics, complete. An invalid question fails before
// any event. When no role produces a draft the error has CodeNoDrafts;
// when ctx is cancelled the error has CodeContextLost and complete is
// never emitted.
func (e *Engine) Ask(ctx context.Context, req AskRequest, sink core.EventSink) (*AskResponse, error) {
	q, err := core.NewQuery(req.Question)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = core.NoopEventSink{}
	}

	start := time.Now()
	requestID := telemetry.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
		ctx = telemetry.ContextWithRequestID(ctx, requestID)
	}
	ctx, meter := llm.WithUsageMeter(ctx)
	ctx, span := e.tracer.Start(ctx, "Engine.Ask", trace.WithAttributes(
		attribute.String(telemetry.AttrRequestID, requestID),
		attribute.Int(telemetry.AttrQueryLength, len([]rune(q.String()))),
	))
	defer span.End()

	sink.Emit(ctx, core.NewStartEvent(requestID))

	decision := e.router.Route(ctx, q, core.ParseRoles(req.Roles), req.Mode, core.ParseRoles(req.Prefer))
	span.SetAttributes(telemetry.RouteAttributes(string(decision.Mode), decision.Path.Strings(), string(decision.Source), decision.Confidence)...)
	e.logger.InfoContext(ctx, "ask routed",
		"roles", decision.Path.String(), "mode", decision.Mode, "router", decision.Source, "confidence", decision.Confidence)

	run, err := e.scheduler.Run(ctx, decision.Path, decision.Mode, q, func(d core.Draft) {
		sink.Emit(ctx, core.NewDraftEvent(d))
	})
	if err != nil {
		return nil, e.fail(ctx, span, decision, start, err)
	}
	if len(run.Drafts) == 0 {
		err := errors.New(errors.CodeNoDrafts, "no role produced a draft", nil).
			WithContext("roles", decision.Path.String())
		return nil, e.fail(ctx, span, decision, start, err)
	}

	cards, synthesized := e.synth.Synthesize(ctx, q, run.Drafts, decision.Mode, decision.Path)
	if ctx.Err() != nil {
		return nil, e.fail(ctx, span, decision, start,
			errors.New(errors.CodeContextLost, "request cancelled during synthesis", context.Cause(ctx)))
	}

	elapsed := time.Since(start)
	usage, _ := meter.Snapshot()
	resp := &AskResponse{
		Cards:   cards,
		Metrics: buildMetrics(run, usage, elapsed),
		Meta: Meta{
			RequestID:        requestID,
			Mode:             string(decision.Mode),
			Roles:            decision.Path,
			RouterSource:     string(decision.Source),
			RouterConfidence: decision.Confidence,
			Synthesized:      synthesized,
			DegradedRoles:    run.Degraded(),
			FailedRoles:      run.Failed,
		},
	}

	sink.Emit(ctx, core.Event{Type: core.EventMetrics, Data: resp.Metrics})
	e.record(ctx, q, resp, start)

	outcome := telemetry.OutcomeAccepted
	if len(resp.Meta.DegradedRoles) > 0 || len(resp.Meta.FailedRoles) > 0 {
		outcome = telemetry.OutcomeDegraded
	}
	e.metrics.RecordAsk(ctx, resp.Meta.Mode, outcome, float64(elapsed.Milliseconds()))
	e.logger.InfoContext(ctx, "ask completed",
		"cards", len(cards), "synthesized", synthesized, "latency_ms", elapsed.Milliseconds(),
		"degraded_roles", len(resp.Meta.DegradedRoles), "failed_roles", len(resp.Meta.FailedRoles))

	if ctx.Err() != nil {
		return nil, errors.New(errors.CodeContextLost, "request cancelled", context.Cause(ctx))
	}
	sink.Emit(ctx, core.Event{Type: core.EventComplete, Data: resp})
	return resp, nil
}

func (e *Engine) fail(ctx context.Context, span trace.Span, d router.Decision, start time.Time, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.metrics.RecordAsk(ctx, string(d.Mode), telemetry.OutcomeFailed, float64(time.Since(start).Milliseconds()))
	if errors.CodeOf(err) == errors.CodeContextLost {
		e.logger.InfoContext(ctx, "ask cancelled", "roles", d.Path.String())
	} else {
		e.logger.ErrorContext(ctx, "ask failed", "roles", d.Path.String(), "error", err)
	}
	return err
}

func (e *Engine) record(ctx context.Context, q core.Query, resp *AskResponse, start time.Time) {
	entry := history.Entry{
		RequestID:     resp.Meta.RequestID,
		Question:      q.String(),
		Mode:          resp.Meta.Mode,
		Roles:         roleStrings(resp.Meta.Roles),
		RouterSource:  resp.Meta.RouterSource,
		Cards:         resp.Cards,
		Confidence:    resp.Metrics.Conf,
		LatencyMS:     resp.Metrics.LatencyMs,
		DegradedRoles: roleStrings(resp.Meta.DegradedRoles),
		FailedRoles:   roleStrings(resp.Meta.FailedRoles),
		CreatedAt:     start,
	}
	if err := e.history.Record(ctx, entry); err != nil {
		e.logger.WarnContext(ctx, "failed to record history", "error", err)
		e.metrics.RecordDegradation(ctx, "history", err)
	}
}

func buildMetrics(run RunResult, usage llm.Usage, elapsed time.Duration) Metrics {
	m := Metrics{
		TTFTMs:    run.FirstDraft.Milliseconds(),
		Conf:      meanConfidence(run.Drafts),
		LatencyMs: elapsed.Milliseconds(),
	}
	if usage.TotalTokens > 0 {
		m.Tokens = usage.TotalTokens
		if secs := elapsed.Seconds(); secs > 0 {
			m.TPS = float64(usage.CompletionTokens) / secs
		}
	}
	return m
}

func roleStrings(roles []core.Role) []string {
	if len(roles) == 0 {
		return nil
	}
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
