// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/ecomentor/pkg/errors"
)

// Role outcomes recorded by AskMetrics.
const (
	OutcomeAccepted = "accepted"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
)

// AskMetrics records request and per-role outcomes. A nil *AskMetrics is
// valid and records nothing.
type AskMetrics struct {
	askCounter     metric.Int64Counter
	roleCounter    metric.Int64Counter
	attemptCounter metric.Int64Counter
	degradeCounter metric.Int64Counter
	askDuration    metric.Float64Histogram
	breakerGauge   metric.Int64Gauge
}

// NewAskMetrics creates instruments on the global meter provider.
func NewAskMetrics() (*AskMetrics, error) {
	return NewAskMetricsWithMeter(otel.Meter("ecomentor/ask"))
}

// NewAskMetricsWithMeter creates instruments on meter.
func NewAskMetricsWithMeter(meter metric.Meter) (*AskMetrics, error) {
	askCounter, err := meter.Int64Counter(
		"ecomentor.ask.total",
		metric.WithDescription("Ask requests by outcome and mode"),
	)
	if err != nil {
		return nil, err
	}
	roleCounter, err := meter.Int64Counter(
		"ecomentor.role.outcome",
		metric.WithDescription("Role executions by role and outcome"),
	)
	if err != nil {
		return nil, err
	}
	attemptCounter, err := meter.Int64Counter(
		"ecomentor.draft.attempts",
		metric.WithDescription("Generation attempts issued by the draft ladder"),
	)
	if err != nil {
		return nil, err
	}
	degradeCounter, err := meter.Int64Counter(
		"ecomentor.degradations",
		metric.WithDescription("Locally recovered failures by component and error code"),
	)
	if err != nil {
		return nil, err
	}
	askDuration, err := meter.Float64Histogram(
		"ecomentor.ask.duration_ms",
		metric.WithDescription("End-to-end ask latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	breakerGauge, err := meter.Int64Gauge(
		"ecomentor.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per endpoint (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}
	return &AskMetrics{
		askCounter:     askCounter,
		roleCounter:    roleCounter,
		attemptCounter: attemptCounter,
		degradeCounter: degradeCounter,
		askDuration:    askDuration,
		breakerGauge:   breakerGauge,
	}, nil
}

// RecordAsk records a finished request.
func (m *AskMetrics) RecordAsk(ctx context.Context, mode, outcome string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrMode, mode),
		attribute.String(AttrAskOutcome, outcome),
	)
	m.askCounter.Add(ctx, 1, attrs)
	m.askDuration.Record(ctx, durationMs, attrs)
}

// RecordRole records the outcome of one role and how many attempts it took.
func (m *AskMetrics) RecordRole(ctx context.Context, role, outcome string, attempts int) {
	if m == nil {
		return
	}
	m.roleCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrRole, role),
		attribute.String(AttrRoleOutcome, outcome),
	))
	if attempts > 0 {
		m.attemptCounter.Add(ctx, int64(attempts), metric.WithAttributes(attribute.String(AttrRole, role)))
	}
}

// RecordDegradation counts a failure that was recovered locally.
func (m *AskMetrics) RecordDegradation(ctx context.Context, component string, err error) {
	if m == nil || err == nil {
		return
	}
	code := string(errors.CodeOf(err))
	if code == "" {
		code = "UNKNOWN"
	}
	m.degradeCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", component),
		attribute.String(AttrErrorCode, code),
	))
}

// RecordCircuitBreakerState records a breaker state (0=open, 1=half-open, 2=closed).
func (m *AskMetrics) RecordCircuitBreakerState(ctx context.Context, endpoint string, state int64) {
	if m == nil {
		return
	}
	m.breakerGauge.Record(ctx, state, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}
