// SPDX-License-Identifier: Apache-2.0
// Package resilience provides retry, timeout, circuit breaker and fallback
// helpers used around calls to the generation and evidence services.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/jllopis/ecomentor/pkg/errors"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (must be >= 1).
	MaxAttempts int

	// InitialDelay is the backoff before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// Multiplier for exponential backoff (default 2.0).
	Multiplier float64

	// IsRecoverable determines if an error should be retried.
	// If nil, typed errors are retried only when marked recoverable.
	IsRecoverable func(error) bool

	// Jitter is the fraction of randomness applied to each delay.
	Jitter float64
}

// DefaultRetryConfig returns the retry policy used for evidence lookups.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   2,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      time.Second,
		Multiplier:    2.0,
		Jitter:        0.1,
		IsRecoverable: IsRecoverable,
	}
}

// WithMaxAttempts returns a copy with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(n int) RetryConfig {
	rc.MaxAttempts = n
	return rc
}

// WithInitialDelay returns a copy with InitialDelay set.
func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

// Do runs fn until it succeeds, returns a non-recoverable error, or the
// attempts are exhausted. Cancellation between attempts is reported as
// CodeContextLost.
func (rc RetryConfig) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	if rc.IsRecoverable == nil {
		rc.IsRecoverable = IsRecoverable
	}

	var lastErr error
	for attempt := 0; attempt < rc.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(rc.backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.New(errors.CodeContextLost, "context canceled during retry", ctx.Err()).
					WithContext("attempt", attempt).
					WithContext("last_error", errString(lastErr))
			case <-timer.C:
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !rc.IsRecoverable(err) {
			return err
		}
	}
	return lastErr
}

// DoValue is Do for functions that return a value.
func DoValue[T any](ctx context.Context, rc RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := rc.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (rc RetryConfig) backoff(attempt int) time.Duration {
	mult := rc.Multiplier
	if mult == 0 {
		mult = 2.0
	}
	delay := time.Duration(float64(rc.InitialDelay) * math.Pow(mult, float64(attempt-1)))
	if rc.MaxDelay > 0 && delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}
	if rc.Jitter > 0 {
		spread := float64(delay) * rc.Jitter
		delay += time.Duration(spread * (2*rand.Float64() - 1))
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}

// IsRecoverable is the default retry predicate. Typed errors carry their
// own flag; untyped transport errors are retried.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.CodeOf(err) == "" {
		return true
	}
	return errors.As(err).Recoverable
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
