package durable

import (
	"fmt"
	"time"
)

// EventType enumerates the kinds of history events that can be appended to an
// instance's history. The history is the durability substrate: every decision an
// orchestration makes, and every outcome of external work, is recorded as one of
// these before it is acted upon again.
type EventType int

const (
	EventUnknown                   EventType = 0
	EventActivityScheduled         EventType = 1
	EventActivityCompleted         EventType = 2
	EventActivityFailed            EventType = 3
	EventSubOrchestrationScheduled EventType = 4
	EventSubOrchestrationCompleted EventType = 5
	EventSubOrchestrationFailed    EventType = 6
	EventTimeRecorded              EventType = 7
	eventTypeSentinel              EventType = 8
)

func (et EventType) String() string {
	switch et {
	case EventActivityScheduled:
		return "ActivityScheduled"
	case EventActivityCompleted:
		return "ActivityCompleted"
	case EventActivityFailed:
		return "ActivityFailed"
	case EventSubOrchestrationScheduled:
		return "SubOrchestrationScheduled"
	case EventSubOrchestrationCompleted:
		return "SubOrchestrationCompleted"
	case EventSubOrchestrationFailed:
		return "SubOrchestrationFailed"
	case EventTimeRecorded:
		return "TimeRecorded"
	default:
		return fmt.Sprintf("EventType(%d)", et)
	}
}

func (et EventType) Valid() bool {
	return et > EventUnknown && et < eventTypeSentinel
}

// Scheduled reports whether the event records a decision rather than an outcome.
func (et EventType) Scheduled() bool {
	switch et {
	case EventActivityScheduled, EventSubOrchestrationScheduled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the event records the outcome of a previously
// scheduled task.
func (et EventType) Terminal() bool {
	switch et {
	case EventActivityCompleted, EventActivityFailed,
		EventSubOrchestrationCompleted, EventSubOrchestrationFailed:
		return true
	default:
		return false
	}
}

// Event is a single entry in an instance's history. Events are append only and
// strictly ordered by ID within an instance. TaskID ties outcomes back to the
// decision they resolve: an orchestration assigns task IDs deterministically in
// code order, so a replay of the same logic requests the same task IDs and finds
// its previously recorded outcomes without re-invoking the work.
type Event struct {
	// ID is the sequence number within the instance, assigned by the history
	// store on append.
	ID         int64
	InstanceID string
	TaskID     int
	Type       EventType

	// Name is the activity or orchestration name for scheduled events.
	Name string
	// ChildID is the deterministic instance id of the child for
	// sub-orchestration events.
	ChildID string

	Input  []byte
	Output []byte

	// FailureKind and FailureMessage are set on ActivityFailed and
	// SubOrchestrationFailed events.
	FailureKind    FailureKind
	FailureMessage string

	// Timestamp carries the recorded wall-clock value for TimeRecorded events
	// and the append time otherwise.
	Timestamp time.Time
}

// Failure is the typed representation of a recorded task failure. Failures are
// data, not panics: they travel through history events and are rehydrated into
// typed errors on replay.
type Failure struct {
	Kind    FailureKind
	Message string
}

func (f Failure) Err(taskName string) error {
	return &TaskError{Task: taskName, Kind: f.Kind, Message: f.Message}
}

// FailureKind is the closed classification of task failures.
type FailureKind int

const (
	FailureKindUnknown   FailureKind = 0
	FailureKindActivity  FailureKind = 1
	FailureKindTimeout   FailureKind = 2
	FailureKindCancelled FailureKind = 3
	FailureKindPanic     FailureKind = 4
)

func (fk FailureKind) String() string {
	switch fk {
	case FailureKindActivity:
		return "Activity"
	case FailureKindTimeout:
		return "Timeout"
	case FailureKindCancelled:
		return "Cancelled"
	case FailureKindPanic:
		return "Panic"
	default:
		return fmt.Sprintf("FailureKind(%d)", fk)
	}
}
