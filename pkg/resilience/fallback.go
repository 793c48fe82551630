// SPDX-License-Identifier: Apache-2.0
package resilience

import "context"

// Fallback runs primary and, when it fails, returns fallback(cause)
// instead. cause reports the primary failure so the caller can log the
// degradation. err is non-nil only when ctx was cancelled, in which case
// no fallback is computed.
func Fallback[T any](ctx context.Context, primary func(ctx context.Context) (T, error), fallback func(cause error) T) (value T, cause error, err error) {
	v, cause := primary(ctx)
	if cause == nil {
		return v, nil, nil
	}
	if ctx.Err() != nil {
		var zero T
		return zero, cause, ctx.Err()
	}
	return fallback(cause), cause, nil
}
