package durable

import (
	"fmt"

	"github.com/andrewwormald/durable/internal/metrics"
)

type LifecycleState int

const (
	LifecycleStateUnknown  LifecycleState = 0
	LifecycleStateShutdown LifecycleState = 1
	LifecycleStateRunning  LifecycleState = 2
	LifecycleStateIdle     LifecycleState = 3
)

func (s LifecycleState) String() string {
	switch s {
	case LifecycleStateUnknown:
		return "Unknown"
	case LifecycleStateShutdown:
		return "Shutdown"
	case LifecycleStateRunning:
		return "Running"
	case LifecycleStateIdle:
		return "Idle"
	default:
		return fmt.Sprintf("LifecycleState(%d)", s)
	}
}

func (e *Engine) updateLifecycle(processName string, s LifecycleState) {
	e.processLifecycleMu.Lock()
	defer e.processLifecycleMu.Unlock()

	metrics.ProcessStates.WithLabelValues(e.name, processName).Set(float64(s))

	e.processLifecycles[processName] = s
}

func (e *Engine) Lifecycles() map[string]LifecycleState {
	e.processLifecycleMu.Lock()
	defer e.processLifecycleMu.Unlock()

	states := make(map[string]LifecycleState)
	for k, v := range e.processLifecycles {
		states[k] = v
	}

	return states
}
