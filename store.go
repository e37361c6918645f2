package durable

import (
	"context"
)

// HistoryStore is the append-only, per-instance durability log. Implementations
// should all be tested with adaptertest.RunHistoryStoreTest. Append must be
// durable before it acknowledges: a crash between executing an activity and
// appending its completion leaves the activity re-executed on the next replay,
// which is why activities are required to be retry safe.
type HistoryStore interface {
	// Append stores the event and returns its sequence number within the
	// instance. Events are never deleted or reordered.
	Append(ctx context.Context, e *Event) (int64, error)

	// Read returns the full history of the instance in strict sequence order.
	// An instance with no history returns an empty slice, not an error.
	Read(ctx context.Context, instanceID string) ([]Event, error)
}

// InstanceStore persists instance records. Implementations should all be tested
// with adaptertest.RunInstanceStoreTest.
type InstanceStore interface {
	// Store creates the record if its ID is unknown and updates it otherwise.
	Store(ctx context.Context, in *Instance) error

	// Lookup returns ErrInstanceNotFound when no record exists for the id.
	Lookup(ctx context.Context, id string) (*Instance, error)

	// List returns instances filtered by kind, or all instances when kind is
	// KindUnknown, ordered by creation.
	List(ctx context.Context, kind Kind) ([]Instance, error)
}
