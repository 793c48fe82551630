// SPDX-License-Identifier: Apache-2.0
package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health state of a collaborator.
type HealthStatus string

const (
	// HealthOK indicates the collaborator answered as expected.
	HealthOK HealthStatus = "ok"

	// HealthDegraded indicates the collaborator is unreachable or failing,
	// but the engine still answers with reduced quality.
	HealthDegraded HealthStatus = "degraded"
)

// HealthResult is the outcome of one health probe.
type HealthResult struct {
	Component string        `json:"-"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"-"`
	LatencyMS int64         `json:"latency_ms"`
	CheckedAt time.Time     `json:"checked_at"`
}

// HealthChecker probes one collaborator.
type HealthChecker interface {
	// Check returns the current status. The context bounds the probe.
	Check(ctx context.Context) HealthResult
}

// HealthCheckFunc adapts a probe function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// Check runs the probe and converts its error to a status.
func (f HealthCheckFunc) Check(ctx context.Context) HealthResult {
	start := time.Now()
	err := f(ctx)
	res := HealthResult{Status: HealthOK, Latency: time.Since(start), CheckedAt: time.Now().UTC()}
	if err != nil {
		res.Status = HealthDegraded
		res.Message = err.Error()
	}
	res.LatencyMS = res.Latency.Milliseconds()
	return res
}

// StaticHealthChecker always reports the same status. Used for
// collaborators that are disabled by configuration.
type StaticHealthChecker struct {
	Status  HealthStatus
	Message string
}

// Check returns the constant status.
func (s StaticHealthChecker) Check(context.Context) HealthResult {
	return HealthResult{Status: s.Status, Message: s.Message, CheckedAt: time.Now().UTC()}
}

// HealthRegistry aggregates named checkers.
type HealthRegistry struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	timeout  time.Duration
}

// NewHealthRegistry creates a registry that bounds each probe by timeout.
func NewHealthRegistry(timeout time.Duration) *HealthRegistry {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthRegistry{checkers: make(map[string]HealthChecker), timeout: timeout}
}

// Register adds or replaces the checker for name.
func (r *HealthRegistry) Register(name string, checker HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
}

// Check probes a single component.
func (r *HealthRegistry) Check(ctx context.Context, name string) (HealthResult, error) {
	r.mu.RLock()
	checker, ok := r.checkers[name]
	r.mu.RUnlock()
	if !ok {
		return HealthResult{}, fmt.Errorf("checker not registered: %s", name)
	}
	return r.run(ctx, name, checker), nil
}

// CheckAll probes every component concurrently. The overall status is ok
// only when every component is ok.
func (r *HealthRegistry) CheckAll(ctx context.Context) (map[string]HealthResult, HealthStatus) {
	r.mu.RLock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	checkers := make(map[string]HealthChecker, len(r.checkers))
	for name, c := range r.checkers {
		checkers[name] = c
	}
	r.mu.RUnlock()
	sort.Strings(names)

	results := make([]HealthResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i] = r.run(ctx, name, checkers[name])
		}(i, name)
	}
	wg.Wait()

	overall := HealthOK
	out := make(map[string]HealthResult, len(names))
	for _, res := range results {
		out[res.Component] = res
		if res.Status != HealthOK {
			overall = HealthDegraded
		}
	}
	return out, overall
}

func (r *HealthRegistry) run(ctx context.Context, name string, checker HealthChecker) HealthResult {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	res := checker.Check(ctx)
	res.Component = name
	if res.CheckedAt.IsZero() {
		res.CheckedAt = time.Now().UTC()
	}
	return res
}
