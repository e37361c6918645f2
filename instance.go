package durable

import (
	"fmt"
	"time"
)

// Kind separates top-level instances, started by callers, from per-item
// instances spawned by a parent orchestration to isolate one item's failure.
type Kind int

const (
	KindUnknown  Kind = 0
	KindTopLevel Kind = 1
	KindPerItem  Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindTopLevel:
		return "TopLevel"
	case KindPerItem:
		return "PerItem"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Instance is the stored record of one durable orchestration run. It is created
// on Start, has its status advanced only by the engine applying outcomes, and is
// immutable once Finished.
type Instance struct {
	ID            string
	Kind          Kind
	Orchestration string
	// ParentID is set for per-item instances and links back to the top-level
	// instance that spawned them.
	ParentID string

	Input  []byte
	Status Status

	// Output is populated when the instance reaches Completed.
	Output []byte
	// ErrMessage is populated when the instance reaches Failed and is the single
	// top-level error a caller polling status receives. ErrKind classifies it so
	// a parent re-attaching to a finished child can rebuild the typed failure.
	ErrMessage string
	ErrKind    FailureKind

	CreatedAt time.Time
	UpdatedAt time.Time
}
