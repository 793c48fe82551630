package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jllopis/ecomentor/pkg/core"
	"github.com/jllopis/ecomentor/pkg/draft"
	"github.com/jllopis/ecomentor/pkg/errors"
	"github.com/jllopis/ecomentor/pkg/telemetry"
)

// EvidenceGatherer retrieves evidence for one role. It never fails.
type EvidenceGatherer interface {
	Gather(ctx context.Context, role core.Role, question core.Query, prior []core.Draft) []core.Evidence
}

// DraftGenerator produces one role's draft.
type DraftGenerator interface {
	Generate(ctx context.Context, role core.Role, question core.Query, evidence []core.Evidence, prior []core.Draft, gate *draft.Gate) (core.Draft, error)
}

// RunResult is the outcome of running a path.
type RunResult struct {
	// Drafts holds the accepted drafts in path order.
	Drafts []core.Draft
	// Failed lists roles that produced no draft.
	Failed []core.Role
	// FirstDraft is the time from start to the first accepted draft.
	FirstDraft time.Duration
}

// Degraded lists roles whose draft was force-accepted.
func (r RunResult) Degraded() []core.Role {
	var out []core.Role
	for _, d := range r.Drafts {
		if d.Degraded {
			out = append(out, d.Role)
		}
	}
	return out
}

// Scheduler runs the roles of a path concurrently or as a chain.
type Scheduler struct {
	evidence  EvidenceGatherer
	generator DraftGenerator
	logger    *slog.Logger
	metrics   *telemetry.AskMetrics
	tracer    trace.Tracer
}

// NewScheduler creates a scheduler.
func NewScheduler(evidence EvidenceGatherer, generator DraftGenerator, logger *slog.Logger, metrics *telemetry.AskMetrics) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		evidence:  evidence,
		generator: generator,
		logger:    logger,
		metrics:   metrics,
		tracer:    otel.Tracer("ecomentor/orchestrator"),
	}
}

// Run executes path. onAccepted is called once per accepted draft; calls
// never overlap. A failed role is omitted and never stops the others.
// When ctx is cancelled no further callbacks happen, no further roles
// start, and Run returns a CodeContextLost error with the drafts accepted
// so far.
func (s *Scheduler) Run(ctx context.Context, path core.RolePath, mode core.ExecutionMode, question core.Query, onAccepted func(core.Draft)) (RunResult, error) {
	start := time.Now()
	gate := draft.NewGate()
	c := &collector{start: start, onAccepted: onAccepted, slots: make([]*core.Draft, len(path))}

	if mode == core.ModeChained {
		for i, role := range path {
			if ctx.Err() != nil {
				break
			}
			d, err := s.runRole(ctx, role, question, c.accepted(), gate)
			c.record(ctx, i, role, d, err)
		}
	} else {
		var g errgroup.Group
		for i, role := range path {
			g.Go(func() error {
				d, err := s.runRole(ctx, role, question, nil, gate)
				c.record(ctx, i, role, d, err)
				return nil
			})
		}
		_ = g.Wait()
	}

	res := c.result(path)
	if ctx.Err() != nil {
		return res, errors.New(errors.CodeContextLost, "request cancelled while generating drafts", context.Cause(ctx))
	}
	return res, nil
}

func (s *Scheduler) runRole(ctx context.Context, role core.Role, question core.Query, prior []core.Draft, gate *draft.Gate) (core.Draft, error) {
	ctx, span := s.tracer.Start(ctx, "Scheduler.Role")
	defer span.End()

	evidence := s.evidence.Gather(ctx, role, question, prior)
	d, err := s.generator.Generate(ctx, role, question, evidence, prior, gate)

	outcome := telemetry.OutcomeAccepted
	switch {
	case err != nil:
		outcome = telemetry.OutcomeFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() == nil {
			s.logger.WarnContext(ctx, "role failed, continuing without it", "role", role, "error", err)
		}
	case d.Degraded:
		outcome = telemetry.OutcomeDegraded
	}
	span.SetAttributes(telemetry.RoleAttributes(string(role), outcome, d.Attempts, len(evidence), d.Degraded)...)
	s.metrics.RecordRole(ctx, string(role), outcome, d.Attempts)
	return d, err
}

// collector gathers role outcomes and serializes the accepted callback.
type collector struct {
	mu         sync.Mutex
	start      time.Time
	firstDraft time.Duration
	onAccepted func(core.Draft)
	slots      []*core.Draft
	failed     []core.Role
}

func (c *collector) record(ctx context.Context, i int, role core.Role, d core.Draft, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failed = append(c.failed, role)
		return
	}
	c.slots[i] = &d
	if c.firstDraft == 0 {
		c.firstDraft = time.Since(c.start)
	}
	if c.onAccepted != nil && ctx.Err() == nil {
		c.onAccepted(d)
	}
}

// accepted returns the drafts accepted so far in path order.
func (c *collector) accepted() []core.Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Draft, 0, len(c.slots))
	for _, d := range c.slots {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out
}

func (c *collector) result(path core.RolePath) RunResult {
	drafts := c.accepted()
	c.mu.Lock()
	defer c.mu.Unlock()
	failed := make([]core.Role, 0, len(c.failed))
	for _, role := range path {
		for _, f := range c.failed {
			if f == role {
				failed = append(failed, role)
			}
		}
	}
	return RunResult{Drafts: drafts, Failed: failed, FirstDraft: c.firstDraft}
}
