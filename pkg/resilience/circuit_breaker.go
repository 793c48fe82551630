// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/jllopis/ecomentor/pkg/errors"
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	// StateClosed means calls flow normally.
	StateClosed CircuitBreakerState = "closed"

	// StateOpen means calls are rejected without reaching the endpoint.
	StateOpen CircuitBreakerState = "open"

	// StateHalfOpen means a single probe call is allowed through.
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int

	// SuccessThreshold is the number of half-open successes before closing.
	SuccessThreshold int

	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration

	// Name identifies the protected endpoint in errors and logs.
	Name string
}

// CircuitBreaker fails fast against an endpoint that keeps failing.
// The lock is never held while the protected call runs, so concurrent
// role generations against the same endpoint are not serialized.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu           sync.Mutex
	state        CircuitBreakerState
	failures     int
	successes    int
	probing      bool
	lastFailTime time.Time
	now          func() time.Time
}

// NewCircuitBreaker creates a circuit breaker, filling zero fields with
// defaults.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Name == "" {
		config.Name = "circuit_breaker"
	}
	return &CircuitBreaker{config: config, state: StateClosed, now: time.Now}
}

// Call runs fn when the circuit allows it. Failures caused by the caller
// cancelling ctx are not counted against the endpoint.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := cb.acquire()
	if err != nil {
		return err
	}
	callErr := fn(ctx)
	cb.record(probe, callErr, ctx.Err() != nil)
	return callErr
}

func (cb *CircuitBreaker) acquire() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailTime) >= cb.config.Timeout {
		cb.state = StateHalfOpen
		cb.successes = 0
	}
	switch cb.state {
	case StateOpen:
		return false, cb.openError()
	case StateHalfOpen:
		if cb.probing {
			return false, cb.openError()
		}
		cb.probing = true
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) record(probe bool, err error, cancelled bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}
	if err != nil && cancelled {
		return
	}
	if err != nil {
		cb.lastFailTime = cb.now()
		if cb.state == StateHalfOpen {
			cb.state = StateOpen
			cb.successes = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
			cb.failures = 0
		}
		return
	}
	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
		}
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) openError() error {
	return errors.New(errors.CodeCircuitOpen, "circuit breaker open", nil).
		WithContext("breaker", cb.config.Name).
		WithRecoverable(false)
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
