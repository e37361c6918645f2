package durable

import (
	"fmt"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var (
	ErrInstanceNotFound           = errors.New("instance not found", j.C("ERR_8a41c9f2d07be311"))
	ErrInstanceInProgress         = errors.New("instance still in progress - await completion before restarting", j.C("ERR_1f6027aa84c0de95"))
	ErrEngineNotRunning           = errors.New("start failed - engine is not running", j.C("ERR_3c58b7014de2fa66"))
	ErrActivityNotRegistered      = errors.New("activity is not registered with the engine", j.C("ERR_b2f90d11873ca4e0"))
	ErrOrchestrationNotRegistered = errors.New("orchestration is not registered with the engine", j.C("ERR_64a8cf20e19b5d37"))
	ErrNonDeterministicReplay     = errors.New("history diverged from orchestration logic - instance halted", j.C("ERR_90de12b6f43a78c1"))
	ErrCancelled                  = errors.New("orchestration cancelled", j.C("ERR_5f7380cab1264e9d"))
	ErrActivityTimeout            = errors.New("activity deadline exceeded", j.C("ERR_ec1b4590a3d7f622"))
	ErrInvalidTransition          = errors.New("invalid instance status transition", j.C("ERR_27c3e8f1509bda44"))
	ErrSequenceGap                = errors.New("history sequence is not contiguous", j.C("ERR_77b0a2341fcd8e59"))
)

// TaskError is the typed, data-carried failure of a single activity or
// sub-orchestration. Item-scoped failures recovered at the sub-orchestration
// boundary surface as TaskError values inside aggregate results rather than as
// instance failures.
type TaskError struct {
	Task    string
	Kind    FailureKind
	Message string
}

func (e *TaskError) Error() string {
	return e.Message
}

// Is maps the failure kind back onto the package sentinels so that callers can
// use errors.Is against ErrCancelled and ErrActivityTimeout.
func (e *TaskError) Is(target error) bool {
	switch e.Kind {
	case FailureKindTimeout:
		return target == ErrActivityTimeout
	case FailureKindCancelled:
		return target == ErrCancelled
	default:
		return false
	}
}

func (e *TaskError) Failure() Failure {
	return Failure{Kind: e.Kind, Message: e.Message}
}

// failureOf classifies an error from activity or sub-orchestration execution
// into the closed failure taxonomy that history events carry.
func failureOf(err error) Failure {
	switch {
	case errors.Is(err, ErrActivityTimeout):
		return Failure{Kind: FailureKindTimeout, Message: err.Error()}
	case errors.Is(err, ErrCancelled):
		return Failure{Kind: FailureKindCancelled, Message: err.Error()}
	default:
		var te *TaskError
		if errors.As(err, &te) {
			return te.Failure()
		}

		return Failure{Kind: FailureKindActivity, Message: err.Error()}
	}
}

// nonDeterminismError halts an instance when replay requests a decision that
// differs from the one recorded in history.
func nonDeterminismError(instanceID string, taskID int, recorded, requested string) error {
	msg := fmt.Sprintf("recorded %v but orchestration requested %v", recorded, requested)
	return errors.Wrap(ErrNonDeterministicReplay, msg, j.MKV{
		"instance_id": instanceID,
		"task_id":     fmt.Sprintf("%d", taskID),
	})
}
