package durable

import (
	"context"
	"fmt"
	"sync"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// history is the in-memory projection of one instance's recorded events that an
// activation replays against. Decisions and outcomes are indexed by task ID so
// that a deterministic re-execution of the orchestration logic finds its
// recorded results regardless of the order outcomes were appended in.
type history struct {
	mu     sync.Mutex
	store  HistoryStore
	events []Event
	tasks  map[int]*taskRecord
}

type taskRecord struct {
	scheduled *Event
	outcome   *Event
}

func newHistory(store HistoryStore, events []Event) (*history, error) {
	h := &history{
		store: store,
		tasks: make(map[int]*taskRecord),
	}

	var lastID int64
	for i := range events {
		e := events[i]
		if e.ID != lastID+1 {
			return nil, errors.Wrap(ErrSequenceGap, "", j.MKV{
				"instance_id": e.InstanceID,
				"event_id":    fmt.Sprintf("%d", e.ID),
				"last_id":     fmt.Sprintf("%d", lastID),
			})
		}
		lastID = e.ID

		h.index(&e)
		h.events = append(h.events, e)
	}

	return h, nil
}

func (h *history) index(e *Event) {
	rec, ok := h.tasks[e.TaskID]
	if !ok {
		rec = &taskRecord{}
		h.tasks[e.TaskID] = rec
	}

	if e.Type.Terminal() {
		rec.outcome = e
	} else {
		rec.scheduled = e
	}
}

// task returns a copy of the recorded decision and outcome for the task ID.
func (h *history) task(taskID int) (scheduled *Event, outcome *Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, ok := h.tasks[taskID]
	if !ok {
		return nil, nil
	}

	return rec.scheduled, rec.outcome
}

// append durably stores the event before exposing it to replay. The sequence
// number assigned by the store is recorded on the event so the projection stays
// consistent with what a restart would read back.
func (h *history) append(ctx context.Context, e *Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	seq, err := h.store.Append(ctx, e)
	if err != nil {
		return errors.Wrap(err, "append history event", j.MKV{
			"instance_id": e.InstanceID,
			"event_type":  e.Type.String(),
			"task_id":     fmt.Sprintf("%d", e.TaskID),
		})
	}

	e.ID = seq
	h.index(e)
	h.events = append(h.events, *e)

	return nil
}
