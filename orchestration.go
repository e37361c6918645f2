package durable

import (
	"github.com/luno/jettison/errors"
)

// OrchestrationFunc is the deterministic decision function of a workflow. It
// must not read the clock, generate randomness, or perform I/O except through
// the Context; anything else diverges between replays and halts the instance.
type OrchestrationFunc func(c *Context, input []byte) ([]byte, error)

// Orchestration adapts a typed orchestration function to the engine's
// wire-level signature using the package encoding.
func Orchestration[Input any, Output any](fn func(c *Context, input Input) (Output, error)) OrchestrationFunc {
	return func(c *Context, input []byte) ([]byte, error) {
		var in Input
		err := Unmarshal(input, &in)
		if err != nil {
			return nil, errors.Wrap(err, "unmarshal orchestration input")
		}

		out, err := fn(c, in)
		if err != nil {
			return nil, err
		}

		return Marshal(&out)
	}
}
