package durable

import (
	"encoding/json"
	"sync"

	"golang.org/x/sync/semaphore"
)

// FanOutItem is one independent unit of a fan-out. ID keys the result so that
// aggregation never depends on completion order.
type FanOutItem struct {
	ID    string
	Input any
}

// FanOutResult is the terminal outcome of one fan-out item. Exactly one of
// Output and Err is meaningful. Err is a *TaskError carrying the item's failure
// as a value; failures never propagate past the fan-out boundary.
type FanOutResult struct {
	ID     string
	Output []byte
	Err    error
}

type fanOutOptions struct {
	concurrency int
}

type FanOutOption func(*fanOutOptions)

// WithConcurrency overrides the engine's default concurrency bound for one
// fan-out call.
func WithConcurrency(n int) FanOutOption {
	return func(fo *fanOutOptions) {
		fo.concurrency = n
	}
}

// FanOut dispatches one sub-orchestration per item with at most the configured
// number outstanding at a time, admitting new items as earlier ones resolve. It
// returns only once every item has a terminal outcome: a failed item never
// cancels or blocks its siblings. Results are returned in item order.
//
// Task ids for all items are reserved up front, in item order, before any
// dispatch, so the decision sequence is identical no matter how completions
// interleave. A concurrency bound of one degenerates to strictly sequential
// processing and a bound of len(items) or more to unbounded parallel dispatch;
// both produce the same outcomes.
func (c *Context) FanOut(name string, items []FanOutItem, opts ...FanOutOption) ([]FanOutResult, error) {
	if err := c.checkLive(); err != nil {
		return nil, err
	}

	fo := fanOutOptions{
		concurrency: c.engine.defaultConcurrency,
	}
	for _, opt := range opts {
		opt(&fo)
	}
	if fo.concurrency < 1 {
		fo.concurrency = 1
	}

	taskIDs := make([]int, len(items))
	for i := range items {
		taskIDs[i] = c.nextTask()
	}

	results := make([]FanOutResult, len(items))
	sem := semaphore.NewWeighted(int64(fo.concurrency))

	var wg sync.WaitGroup
	for i := range items {
		item := items[i]
		taskID := taskIDs[i]

		if err := sem.Acquire(c.ctx, 1); err != nil {
			// Engine shutdown or cancellation while awaiting admission. Stop
			// dispatching; outcomes for the remainder are resolved on the next
			// activation's replay.
			results[i] = FanOutResult{ID: item.ID, Err: c.checkLive()}
			for j := i + 1; j < len(items); j++ {
				results[j] = FanOutResult{ID: items[j].ID, Err: c.haltedErr()}
			}
			break
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)

			var out json.RawMessage
			err := c.callSubOrchestrationAt(taskID, name, item.Input, &out)
			results[i] = FanOutResult{ID: item.ID, Output: out, Err: err}
		}(i)
	}

	wg.Wait()

	if err := c.haltedErr(); err != nil {
		return nil, err
	}

	return results, nil
}
