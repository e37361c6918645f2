package durable

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/luno/jettison/errors"
)

// errSuspend unwinds an orchestration when the engine is shutting down part way
// through an activation. The instance is left in Running and resumes, by
// replay, on the next activation.
var errSuspend = errors.New("activation suspended")

// Context is the orchestration's only window onto the outside world. All
// external effects go through CallActivity and CallSubOrchestration, and all
// clock reads go through Now, so that the orchestration function remains
// deterministic and can be replayed against recorded history after a restart.
//
// Context is not safe for use after the orchestration function returns.
type Context struct {
	ctx    context.Context
	engine *Engine

	// writeCtx is detached from the activation's cancellation. History appends
	// and terminal status writes use it so that cancelling an instance cancels
	// its work, not the record of the outcome.
	writeCtx context.Context

	instanceID string

	hist *history

	// cancelled reports whether the instance, not the engine, was cancelled.
	cancelled func() bool

	taskMu sync.Mutex
	// taskCounter assigns decision ids in code order. Deterministic logic
	// requests the same ids on every replay.
	taskCounter int
	// maxRecordedTask is the highest task id with any recorded event at the
	// time the activation loaded history. Task ids at or below it are replays.
	maxRecordedTask int

	// halted is set when the activation must stop making decisions: engine
	// shutdown, instance cancellation, or non-deterministic replay. Once set,
	// every Context method returns it without recording anything further.
	haltedMu sync.Mutex
	halted   error
}

func newContext(ctx, writeCtx context.Context, e *Engine, in *Instance, hist *history, cancelled func() bool) *Context {
	maxRecorded := -1
	for taskID := range hist.tasks {
		if taskID > maxRecorded {
			maxRecorded = taskID
		}
	}

	return &Context{
		ctx:             ctx,
		writeCtx:        writeCtx,
		engine:          e,
		instanceID:      in.ID,
		hist:            hist,
		cancelled:       cancelled,
		maxRecordedTask: maxRecorded,
	}
}

func (c *Context) InstanceID() string {
	return c.instanceID
}

// Context returns the activation's context. It is cancelled on engine shutdown
// and on instance cancellation; do not branch orchestration decisions on it.
func (c *Context) Context() context.Context {
	return c.ctx
}

// Replaying reports whether the activation is still walking through recorded
// history rather than making new decisions.
func (c *Context) Replaying() bool {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()

	return c.taskCounter <= c.maxRecordedTask
}

// Logger returns a replay-safe logger: calls made while the orchestration is
// replaying recorded decisions are dropped so that restarts do not duplicate
// log lines, and logging never becomes a source of non-determinism.
func (c *Context) Logger() Logger {
	return &replaySafeLogger{c: c}
}

type replaySafeLogger struct {
	c *Context
}

func (l *replaySafeLogger) Debug(ctx context.Context, msg string, meta MKV) {
	if l.c.Replaying() {
		return
	}

	l.c.engine.logger.Debug(ctx, msg, meta)
}

func (l *replaySafeLogger) Error(ctx context.Context, err error) {
	if l.c.Replaying() {
		return
	}

	l.c.engine.logger.Error(ctx, err)
}

func (c *Context) nextTask() int {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()

	id := c.taskCounter
	c.taskCounter++
	return id
}

func (c *Context) haltedErr() error {
	c.haltedMu.Lock()
	defer c.haltedMu.Unlock()

	return c.halted
}

func (c *Context) halt(err error) error {
	c.haltedMu.Lock()
	defer c.haltedMu.Unlock()

	if c.halted == nil {
		c.halted = err
	}

	return c.halted
}

// checkLive returns a non-nil error when the activation must stop making new
// decisions. Instance cancellation is terminal and recorded; engine shutdown
// only suspends the activation.
func (c *Context) checkLive() error {
	if err := c.haltedErr(); err != nil {
		return err
	}

	if c.cancelled() {
		return c.halt(errors.Wrap(ErrCancelled, ""))
	}

	if c.ctx.Err() != nil {
		return c.halt(errors.Wrap(errSuspend, ""))
	}

	return nil
}

// Now is the replay-safe clock. The first execution records the engine clock's
// value in history; every replay returns the recorded value so that durations
// computed inside the orchestration are stable across restarts.
func (c *Context) Now() (time.Time, error) {
	if err := c.checkLive(); err != nil {
		return time.Time{}, err
	}

	taskID := c.nextTask()

	scheduled, _ := c.hist.task(taskID)
	if scheduled != nil {
		if scheduled.Type != EventTimeRecorded {
			return time.Time{}, c.halt(nonDeterminismError(
				c.instanceID, taskID, scheduled.Type.String(), EventTimeRecorded.String(),
			))
		}

		return scheduled.Timestamp, nil
	}

	now := c.engine.clock.Now()
	err := c.hist.append(c.writeCtx, &Event{
		InstanceID: c.instanceID,
		TaskID:     taskID,
		Type:       EventTimeRecorded,
		Timestamp:  now,
	})
	if err != nil {
		return time.Time{}, c.halt(err)
	}

	return now, nil
}

// CallActivity invokes the named activity with the marshalled input and
// unmarshals its output into output, which must be a pointer. A completed or
// failed outcome already in history is returned without re-invoking the
// activity. A scheduled-but-unresolved entry means a previous activation
// crashed between executing and recording, and the activity is executed again:
// at-least-once semantics, which is why activities must be retry safe.
func (c *Context) CallActivity(name string, input any, output any, opts ...CallOption) error {
	if err := c.checkLive(); err != nil {
		return err
	}

	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	in, err := Marshal(&input)
	if err != nil {
		return errors.Wrap(err, "marshal activity input")
	}

	taskID := c.nextTask()

	scheduled, outcome := c.hist.task(taskID)
	if scheduled != nil {
		if scheduled.Type != EventActivityScheduled || scheduled.Name != name {
			return c.halt(nonDeterminismError(
				c.instanceID, taskID,
				scheduled.Type.String()+" "+scheduled.Name,
				EventActivityScheduled.String()+" "+name,
			))
		}
	} else {
		err := c.hist.append(c.writeCtx, &Event{
			InstanceID: c.instanceID,
			TaskID:     taskID,
			Type:       EventActivityScheduled,
			Name:       name,
			Input:      in,
			Timestamp:  c.engine.clock.Now(),
		})
		if err != nil {
			return c.halt(err)
		}
	}

	if outcome != nil {
		return resolveOutcome(outcome, name, output)
	}

	out, execErr := c.engine.executeActivity(c.ctx, name, in, co)
	if execErr != nil {
		if errors.Is(execErr, ErrOrchestrationNotRegistered) || errors.Is(execErr, ErrActivityNotRegistered) {
			return c.halt(execErr)
		}

		// Engine shutdown mid-activity is a suspension, not a failure.
		if c.ctx.Err() != nil && !c.cancelled() && !errors.Is(execErr, ErrActivityTimeout) {
			return c.halt(errors.Wrap(errSuspend, ""))
		}

		f := failureOf(execErr)
		err := c.hist.append(c.writeCtx, &Event{
			InstanceID:     c.instanceID,
			TaskID:         taskID,
			Type:           EventActivityFailed,
			Name:           name,
			FailureKind:    f.Kind,
			FailureMessage: f.Message,
			Timestamp:      c.engine.clock.Now(),
		})
		if err != nil {
			return c.halt(err)
		}

		return f.Err(name)
	}

	err = c.hist.append(c.writeCtx, &Event{
		InstanceID: c.instanceID,
		TaskID:     taskID,
		Type:       EventActivityCompleted,
		Name:       name,
		Output:     out,
		Timestamp:  c.engine.clock.Now(),
	})
	if err != nil {
		return c.halt(err)
	}

	return unmarshalOutput(out, output)
}

// CallSubOrchestration starts, or re-attaches to, a child orchestration
// instance and blocks until it reaches a terminal state. The child's instance
// id is derived deterministically from the parent id and the decision's task id
// so that a crashed parent re-attaches to the same child on replay instead of
// spawning a duplicate.
func (c *Context) CallSubOrchestration(name string, input any, output any) error {
	if err := c.checkLive(); err != nil {
		return err
	}

	taskID := c.nextTask()
	return c.callSubOrchestrationAt(taskID, name, input, output)
}

func (c *Context) callSubOrchestrationAt(taskID int, name string, input any, output any) error {
	in, err := Marshal(&input)
	if err != nil {
		return errors.Wrap(err, "marshal sub-orchestration input")
	}

	childID := c.instanceID + ":" + strconv.Itoa(taskID)

	scheduled, outcome := c.hist.task(taskID)
	if scheduled != nil {
		if scheduled.Type != EventSubOrchestrationScheduled || scheduled.Name != name {
			return c.halt(nonDeterminismError(
				c.instanceID, taskID,
				scheduled.Type.String()+" "+scheduled.Name,
				EventSubOrchestrationScheduled.String()+" "+name,
			))
		}

		childID = scheduled.ChildID
	} else {
		err := c.hist.append(c.writeCtx, &Event{
			InstanceID: c.instanceID,
			TaskID:     taskID,
			Type:       EventSubOrchestrationScheduled,
			Name:       name,
			ChildID:    childID,
			Input:      in,
			Timestamp:  c.engine.clock.Now(),
		})
		if err != nil {
			return c.halt(err)
		}
	}

	if outcome != nil {
		return resolveOutcome(outcome, name, output)
	}

	out, execErr := c.engine.runChild(c.ctx, c, name, childID, in)
	if execErr != nil {
		if errors.Is(execErr, errSuspend) {
			return c.halt(errors.Wrap(errSuspend, ""))
		}

		f := failureOf(execErr)
		err := c.hist.append(c.writeCtx, &Event{
			InstanceID:     c.instanceID,
			TaskID:         taskID,
			Type:           EventSubOrchestrationFailed,
			Name:           name,
			ChildID:        childID,
			FailureKind:    f.Kind,
			FailureMessage: f.Message,
			Timestamp:      c.engine.clock.Now(),
		})
		if err != nil {
			return c.halt(err)
		}

		return f.Err(name)
	}

	err = c.hist.append(c.writeCtx, &Event{
		InstanceID: c.instanceID,
		TaskID:     taskID,
		Type:       EventSubOrchestrationCompleted,
		Name:       name,
		ChildID:    childID,
		Output:     out,
		Timestamp:  c.engine.clock.Now(),
	})
	if err != nil {
		return c.halt(err)
	}

	return unmarshalOutput(out, output)
}

func resolveOutcome(outcome *Event, name string, output any) error {
	switch outcome.Type {
	case EventActivityCompleted, EventSubOrchestrationCompleted:
		return unmarshalOutput(outcome.Output, output)
	default:
		f := Failure{Kind: outcome.FailureKind, Message: outcome.FailureMessage}
		return f.Err(name)
	}
}

func unmarshalOutput(out []byte, output any) error {
	if output == nil || len(out) == 0 {
		return nil
	}

	// output is the caller's pointer, not a value to replace, so decode into it
	// directly rather than through the generic helper.
	err := json.Unmarshal(out, output)
	if err != nil {
		return errors.Wrap(err, "unmarshal task output")
	}

	return nil
}

type callOptions struct {
	timeout time.Duration
}

type CallOption func(*callOptions)

// WithCallTimeout bounds a single activity invocation. On expiry the activity
// is recorded as failed with a timeout failure and sibling work is unaffected.
func WithCallTimeout(d time.Duration) CallOption {
	return func(co *callOptions) {
		co.timeout = d
	}
}
