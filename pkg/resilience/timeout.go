// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"time"

	"github.com/jllopis/ecomentor/pkg/errors"
)

// WithTimeout runs fn with a derived context bounded by d. fn receives the
// derived context so the underlying call is cancelled, not just abandoned.
// A zero duration runs fn with ctx unchanged.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(tctx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case <-tctx.Done():
		if ctx.Err() != nil {
			return zero, errors.New(errors.CodeContextLost, "request canceled", ctx.Err())
		}
		return zero, errors.New(errors.CodeTimeout, "operation exceeded timeout", tctx.Err()).
			WithContext("timeout", d.String()).
			WithRecoverable(true)
	case res := <-done:
		return res.value, res.err
	}
}
