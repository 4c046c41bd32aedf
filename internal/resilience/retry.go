// Package resilience provides the failure-handling primitives of the
// orchestration layer.
//
// Model backends fail transiently often enough that a single immediate retry
// recovers most calls; anything beyond that only delays the turn. Capability
// channel failures are never retried — a subprocess that cannot speak the
// protocol will not start speaking it on a second attempt.
package resilience

import (
	"context"
	"log/slog"
)

// RetryOnce runs fn and, if it fails and ctx is still live, runs it exactly
// one more time. There is no backoff; the second attempt is immediate. The
// error of the final attempt is returned.
func RetryOnce[R any](ctx context.Context, name string, fn func(context.Context) (R, error)) (R, error) {
	result, err := fn(ctx)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return result, err
	}

	slog.Warn("retrying after failure", "op", name, "error", err)
	return fn(ctx)
}
