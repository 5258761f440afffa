// File: internal/engine/bounded.go
// Brief: Deadline-bounded calls for factories, rehydration and actions.

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultAbandonGrace is how long a call that overran its deadline may take to
// unwind before the run moves on without it.
const DefaultAbandonGrace = 15 * time.Second

type callOutcome[T any] struct {
	v   T
	err error
}

// callBounded runs fn with a context that expires after timeout. Callers must
// pass ctx through to every chain request so an expired call stops
// submitting; a call that ignores it is given grace to return and is then
// abandoned. A call that returns within grace keeps its result, even past the
// deadline, so a confirmed deployment is never discarded. Overruns wrap
// ErrTimeout; a cancelled parent returns the parent's error.
func callBounded[T any](ctx context.Context, timeout, grace time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callOutcome[T], 1)
	go func() {
		var out callOutcome[T]
		defer func() {
			if r := recover(); r != nil {
				out = callOutcome[T]{err: fmt.Errorf("panic: %v", r)}
			}
			done <- out
		}()
		out.v, out.err = fn(callCtx)
	}()

	finish := func(out callOutcome[T]) (T, error) {
		if out.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			out.err = fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, out.err)
		}
		return out.v, out.err
	}

	select {
	case out := <-done:
		return finish(out)
	case <-callCtx.Done():
	}

	if grace > 0 {
		wait := time.NewTimer(grace)
		defer wait.Stop()
		select {
		case out := <-done:
			return finish(out)
		case <-wait.C:
		}
	} else {
		select {
		case out := <-done:
			return finish(out)
		default:
		}
	}
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
}
