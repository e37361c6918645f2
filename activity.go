package durable

import (
	"context"
	"fmt"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/andrewwormald/durable/internal/metrics"
)

// ActivityFunc runs a single named unit of external work. Activities have no
// orchestration knowledge: typed input in, typed output or failure out. They
// execute at least once, so they must be retry safe or their side effects
// idempotent.
type ActivityFunc func(ctx context.Context, input []byte) ([]byte, error)

// Activity adapts a typed function to the engine's wire-level signature using
// the package encoding.
func Activity[Input any, Output any](fn func(ctx context.Context, input Input) (Output, error)) ActivityFunc {
	return func(ctx context.Context, input []byte) ([]byte, error) {
		var in Input
		err := Unmarshal(input, &in)
		if err != nil {
			return nil, errors.Wrap(err, "unmarshal activity input")
		}

		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}

		return Marshal(&out)
	}
}

func (e *Engine) executeActivity(ctx context.Context, name string, input []byte, co callOptions) (out []byte, err error) {
	fn, ok := e.activities[name]
	if !ok {
		return nil, errors.Wrap(ErrActivityNotRegistered, "", j.KV("activity", name))
	}

	if co.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, co.timeout)
		defer cancel()
	}

	t0 := e.clock.Now()
	defer func() {
		metrics.ActivityLatency.WithLabelValues(e.name, name).Observe(e.clock.Since(t0).Seconds())
		if err != nil {
			metrics.ActivityErrors.WithLabelValues(e.name, name).Inc()
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &TaskError{
				Task:    name,
				Kind:    FailureKindPanic,
				Message: fmt.Sprintf("activity panic: %v", r),
			}
		}
	}()

	out, err = fn(ctx, input)
	if err != nil {
		if co.timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Wrap(ErrActivityTimeout, "", j.KV("activity", name))
		}
		if errors.Is(err, context.Canceled) {
			return nil, errors.Wrap(ErrCancelled, "", j.KV("activity", name))
		}

		return nil, err
	}

	return out, nil
}
