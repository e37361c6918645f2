// Package adaptertest provides reusable acceptance tests for store adapter
// implementations. Every HistoryStore and InstanceStore adapter should pass
// these suites so that the engine's replay semantics hold regardless of the
// storage backing it.
package adaptertest

import (
	"context"
	"testing"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/andrewwormald/durable"
)

func RunHistoryStoreTest(t *testing.T, factory func() durable.HistoryStore) {
	tests := []func(t *testing.T, store durable.HistoryStore){
		testAppendSequencing,
		testReadOrdering,
		testEmptyHistory,
	}

	for _, test := range tests {
		storeForTesting := factory()
		test(t, storeForTesting)
	}
}

func testAppendSequencing(t *testing.T, store durable.HistoryStore) {
	t.Run("AppendSequencing", func(t *testing.T) {
		ctx := context.Background()

		seq, err := store.Append(ctx, &durable.Event{
			InstanceID: "instance-a",
			TaskID:     0,
			Type:       durable.EventActivityScheduled,
			Name:       "work",
			Input:      []byte(`"in"`),
			Timestamp:  time.Now(),
		})
		jtest.RequireNil(t, err)
		require.Equal(t, int64(1), seq)

		seq, err = store.Append(ctx, &durable.Event{
			InstanceID: "instance-a",
			TaskID:     0,
			Type:       durable.EventActivityCompleted,
			Name:       "work",
			Output:     []byte(`"out"`),
			Timestamp:  time.Now(),
		})
		jtest.RequireNil(t, err)
		require.Equal(t, int64(2), seq)

		// Sequences are scoped per instance.
		seq, err = store.Append(ctx, &durable.Event{
			InstanceID: "instance-b",
			TaskID:     0,
			Type:       durable.EventActivityScheduled,
			Name:       "work",
			Timestamp:  time.Now(),
		})
		jtest.RequireNil(t, err)
		require.Equal(t, int64(1), seq)
	})
}

func testReadOrdering(t *testing.T, store durable.HistoryStore) {
	t.Run("ReadOrdering", func(t *testing.T) {
		ctx := context.Background()

		types := []durable.EventType{
			durable.EventActivityScheduled,
			durable.EventActivityCompleted,
			durable.EventTimeRecorded,
			durable.EventSubOrchestrationScheduled,
			durable.EventSubOrchestrationFailed,
		}

		for i, typ := range types {
			_, err := store.Append(ctx, &durable.Event{
				InstanceID: "instance-a",
				TaskID:     i,
				Type:       typ,
				Timestamp:  time.Now(),
			})
			jtest.RequireNil(t, err)
		}

		events, err := store.Read(ctx, "instance-a")
		jtest.RequireNil(t, err)
		require.Len(t, events, len(types))

		for i, e := range events {
			require.Equal(t, int64(i+1), e.ID)
			require.Equal(t, types[i], e.Type)
			require.Equal(t, i, e.TaskID)
		}
	})
}

func testEmptyHistory(t *testing.T, store durable.HistoryStore) {
	t.Run("EmptyHistory", func(t *testing.T) {
		events, err := store.Read(context.Background(), "never-seen")
		jtest.RequireNil(t, err)
		require.Empty(t, events)
	})
}

func RunInstanceStoreTest(t *testing.T, factory func() durable.InstanceStore) {
	tests := []func(t *testing.T, store durable.InstanceStore){
		testLookupNotFound,
		testStoreAndUpdate,
		testListByKind,
	}

	for _, test := range tests {
		storeForTesting := factory()
		test(t, storeForTesting)
	}
}

func testLookupNotFound(t *testing.T, store durable.InstanceStore) {
	t.Run("LookupNotFound", func(t *testing.T) {
		_, err := store.Lookup(context.Background(), "missing")
		require.True(t, errors.Is(err, durable.ErrInstanceNotFound))
	})
}

func testStoreAndUpdate(t *testing.T, store durable.InstanceStore) {
	t.Run("StoreAndUpdate", func(t *testing.T) {
		ctx := context.Background()
		now := time.Now().Truncate(time.Second)

		in := &durable.Instance{
			ID:            "instance-a",
			Kind:          durable.KindTopLevel,
			Orchestration: "run",
			Input:         []byte(`"in"`),
			Status:        durable.StatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		jtest.RequireNil(t, store.Store(ctx, in))

		got, err := store.Lookup(ctx, "instance-a")
		jtest.RequireNil(t, err)
		require.Equal(t, durable.StatusPending, got.Status)
		require.Equal(t, "run", got.Orchestration)

		in.Status = durable.StatusFailed
		in.ErrMessage = "boom"
		in.ErrKind = durable.FailureKindActivity
		jtest.RequireNil(t, store.Store(ctx, in))

		got, err = store.Lookup(ctx, "instance-a")
		jtest.RequireNil(t, err)
		require.Equal(t, durable.StatusFailed, got.Status)
		require.Equal(t, "boom", got.ErrMessage)
		require.Equal(t, durable.FailureKindActivity, got.ErrKind)
	})
}

func testListByKind(t *testing.T, store durable.InstanceStore) {
	t.Run("ListByKind", func(t *testing.T) {
		ctx := context.Background()

		for _, in := range []durable.Instance{
			{ID: "top-1", Kind: durable.KindTopLevel, Status: durable.StatusPending},
			{ID: "item-1", Kind: durable.KindPerItem, ParentID: "top-1", Status: durable.StatusPending},
			{ID: "top-2", Kind: durable.KindTopLevel, Status: durable.StatusPending},
		} {
			in := in
			jtest.RequireNil(t, store.Store(ctx, &in))
		}

		tops, err := store.List(ctx, durable.KindTopLevel)
		jtest.RequireNil(t, err)
		require.Len(t, tops, 2)
		require.Equal(t, "top-1", tops[0].ID)
		require.Equal(t, "top-2", tops[1].ID)

		items, err := store.List(ctx, durable.KindPerItem)
		jtest.RequireNil(t, err)
		require.Len(t, items, 1)
		require.Equal(t, "top-1", items[0].ParentID)

		all, err := store.List(ctx, durable.KindUnknown)
		jtest.RequireNil(t, err)
		require.Len(t, all, 3)
	})
}
