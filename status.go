package durable

import (
	"fmt"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// Status is the lifecycle state of an orchestration instance. The instance
// record is the only place status lives; orchestration in-memory state is a
// disposable projection rebuilt from history on every activation.
type Status int

const (
	StatusUnknown   Status = 0
	StatusPending   Status = 1
	StatusRunning   Status = 2
	StatusCompleted Status = 3
	StatusFailed    Status = 4
	statusSentinel  Status = 5
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusRunning:
		return "Running"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Status(%d)", s)
	}
}

func (s Status) Valid() bool {
	return s > StatusUnknown && s < statusSentinel
}

// Finished reports whether the status is terminal. A finished instance is never
// activated again and its record is immutable from then on.
func (s Status) Finished() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

var statusTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning: true,
		// Cancellation can fail an instance before any activation marked it
		// running.
		StatusFailed: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		// Re-activation after a restart replays onto an instance that was
		// recorded as running when the process died.
		StatusRunning: true,
	},
}

func validateStatusTransition(from, to Status) error {
	valid, ok := statusTransitions[from]
	if !ok {
		return errors.Wrap(ErrInvalidTransition, "current status is terminal", j.MKV{
			"from": from.String(),
			"to":   to.String(),
		})
	}

	if !valid[to] {
		msg := fmt.Sprintf("cannot transition from %v to %v", from.String(), to.String())
		return errors.Wrap(ErrInvalidTransition, msg, j.MKV{
			"from": from.String(),
			"to":   to.String(),
		})
	}

	return nil
}
