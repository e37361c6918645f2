package durable

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"k8s.io/utils/clock"

	"github.com/andrewwormald/durable/internal/metrics"
)

// Engine hosts durable orchestration instances: it persists every decision and
// outcome in the history store, reconstructs in-flight instances by replay, and
// drives activations across a worker pool. Build one with NewBuilder.
type Engine struct {
	name      string
	ctx       context.Context
	cancel    context.CancelFunc
	clock     clock.Clock
	calledRun bool
	once      sync.Once
	logger    *logger

	historyStore  HistoryStore
	instanceStore InstanceStore

	activities     map[string]ActivityFunc
	orchestrations map[string]OrchestrationFunc

	pollingFrequency   time.Duration
	defaultConcurrency int
	workerCount        int

	queue chan string

	activationMu sync.Mutex
	activations  map[string]*activation

	processLifecycleMu sync.Mutex
	processLifecycles  map[string]LifecycleState
	// launching tracks goroutines initiated but not yet recorded in the
	// lifecycle state so that Run returns only once all processes are tracked.
	launching sync.WaitGroup
}

// activation is the in-flight execution of one top-level instance. cancelled
// distinguishes instance cancellation, which is terminal and recorded, from
// engine shutdown, which merely suspends the activation.
type activation struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

func (e *Engine) Name() string {
	return e.name
}

// Run starts the activation workers. Run only needs to be called once and
// subsequent calls are safe noops.
func (e *Engine) Run(ctx context.Context) {
	e.once.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		e.ctx = ctx
		e.cancel = cancel
		e.calledRun = true
		e.queue = make(chan string, defaultQueueSize)

		for i := 1; i <= e.workerCount; i++ {
			i := i
			e.launching.Add(1)
			go e.worker(i)
		}
	})

	e.launching.Wait()
}

func (e *Engine) worker(n int) {
	processName := fmt.Sprintf("activation-worker-%v-of-%v", n, e.workerCount)
	e.updateLifecycle(processName, LifecycleStateIdle)
	defer e.updateLifecycle(processName, LifecycleStateShutdown)
	e.launching.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case id := <-e.queue:
			e.updateLifecycle(processName, LifecycleStateRunning)

			err := e.activate(id)
			if err != nil {
				e.logger.Error(e.ctx, errors.Wrap(err, "activation error", j.MKV{
					"instance_id":  id,
					"process_name": processName,
				}))
			}

			e.updateLifecycle(processName, LifecycleStateIdle)
		}
	}
}

// Stop cancels the context provided to all background processes and waits for
// them to shut down gracefully. In-flight activations suspend and their
// instances remain resumable.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}

	e.cancel()

	for {
		var runningProcesses int
		for _, state := range e.Lifecycles() {
			switch state {
			case LifecycleStateUnknown, LifecycleStateShutdown:
				continue
			default:
				runningProcesses++
			}
		}

		if runningProcesses == 0 {
			return
		}
	}
}

type startOpts struct {
	instanceID string
	input      any
}

type StartOption func(*startOpts)

// WithInstanceID fixes the instance id instead of generating one. Ids should be
// deterministic for the thing the orchestration runs for when idempotent
// starts matter.
func WithInstanceID(id string) StartOption {
	return func(o *startOpts) {
		o.instanceID = id
	}
}

// WithInput provides the orchestration's input payload.
func WithInput(input any) StartOption {
	return func(o *startOpts) {
		o.input = input
	}
}

// Start creates a new top-level instance of the named orchestration and queues
// its first activation. It returns the instance id which callers use to Await
// or poll Status.
func (e *Engine) Start(ctx context.Context, orchestration string, opts ...StartOption) (string, error) {
	if !e.calledRun {
		return "", errors.Wrap(ErrEngineNotRunning, "ensure Run() is called before attempting to start an instance")
	}

	if _, ok := e.orchestrations[orchestration]; !ok {
		return "", errors.Wrap(ErrOrchestrationNotRegistered, "", j.KV("orchestration", orchestration))
	}

	var o startOpts
	for _, opt := range opts {
		opt(&o)
	}

	id := o.instanceID
	if id == "" {
		uid, err := uuid.NewUUID()
		if err != nil {
			return "", err
		}

		id = uid.String()
	}

	existing, err := e.instanceStore.Lookup(ctx, id)
	if errors.Is(err, ErrInstanceNotFound) {
		// NoReturnErr: A fresh id is the common path.
	} else if err != nil {
		return "", err
	} else {
		return "", errors.Wrap(ErrInstanceInProgress, "", j.MKV{
			"instance_id": id,
			"status":      existing.Status.String(),
		})
	}

	input, err := Marshal(&o.input)
	if err != nil {
		return "", errors.Wrap(err, "marshal orchestration input")
	}

	in := &Instance{
		ID:            id,
		Kind:          KindTopLevel,
		Orchestration: orchestration,
		Input:         input,
		Status:        StatusPending,
		CreatedAt:     e.clock.Now(),
		UpdatedAt:     e.clock.Now(),
	}

	err = e.instanceStore.Store(ctx, in)
	if err != nil {
		return "", err
	}

	metrics.InstancesStarted.WithLabelValues(e.name).Inc()

	e.enqueue(id)
	return id, nil
}

// Resume queues an activation for an existing instance, typically after a
// process restart. The activation replays recorded history so completed work is
// not repeated. Resuming a finished instance is a noop.
func (e *Engine) Resume(ctx context.Context, instanceID string) error {
	if !e.calledRun {
		return errors.Wrap(ErrEngineNotRunning, "ensure Run() is called before attempting to resume an instance")
	}

	in, err := e.instanceStore.Lookup(ctx, instanceID)
	if err != nil {
		return err
	}

	if in.Status.Finished() {
		return nil
	}

	e.enqueue(in.ID)
	return nil
}

// ResumeAll queues activations for every unfinished top-level instance. Call it
// once after Run when recovering from a restart.
func (e *Engine) ResumeAll(ctx context.Context) error {
	if !e.calledRun {
		return errors.Wrap(ErrEngineNotRunning, "ensure Run() is called before attempting to resume instances")
	}

	ls, err := e.instanceStore.List(ctx, KindTopLevel)
	if err != nil {
		return err
	}

	for _, in := range ls {
		if in.Status.Finished() {
			continue
		}

		e.enqueue(in.ID)
	}

	return nil
}

func (e *Engine) enqueue(id string) {
	select {
	case e.queue <- id:
	default:
		// Queue full. Hand off without blocking the caller.
		go func() {
			select {
			case e.queue <- id:
			case <-e.ctx.Done():
			}
		}()
	}
}

// Status returns the instance record for the id.
func (e *Engine) Status(ctx context.Context, instanceID string) (*Instance, error) {
	return e.instanceStore.Lookup(ctx, instanceID)
}

type awaitOpts struct {
	pollFrequency time.Duration
}

type AwaitOption func(*awaitOpts)

func WithPollingFrequency(d time.Duration) AwaitOption {
	return func(o *awaitOpts) {
		o.pollFrequency = d
	}
}

// Await blocks until the instance reaches a terminal status and returns its
// record. Callers must distinguish StatusFailed, a batch level failure with a
// single error message, from StatusCompleted whose output may itself report
// partial per-item failures.
func (e *Engine) Await(ctx context.Context, instanceID string, opts ...AwaitOption) (*Instance, error) {
	var o awaitOpts
	for _, opt := range opts {
		opt(&o)
	}

	pollFrequency := e.pollingFrequency
	if o.pollFrequency.Nanoseconds() != 0 {
		pollFrequency = o.pollFrequency
	}

	for {
		in, err := e.instanceStore.Lookup(ctx, instanceID)
		if err != nil {
			return nil, err
		}

		if in.Status.Finished() {
			return in, nil
		}

		err = wait(ctx, pollFrequency)
		if err != nil {
			return nil, err
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d == 0 {
		return nil
	}

	t := time.NewTimer(d)
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Cancel stops an in-flight instance. The cancellation propagates to its
// activities and sub-orchestrations which fail with a cancelled failure, and
// the instance transitions to Failed. Cancelling a finished instance is a noop.
func (e *Engine) Cancel(ctx context.Context, instanceID string) error {
	e.activationMu.Lock()
	act, active := e.activations[instanceID]
	e.activationMu.Unlock()

	if active {
		act.cancelled.Store(true)
		act.cancel()
		return nil
	}

	in, err := e.instanceStore.Lookup(ctx, instanceID)
	if err != nil {
		return err
	}

	if in.Status.Finished() {
		return nil
	}

	return e.finish(ctx, in, nil, errors.Wrap(ErrCancelled, ""))
}

// activate loads an instance, rebuilds its state by replaying history, and
// resumes execution from the first undecided point.
func (e *Engine) activate(instanceID string) error {
	actx, cancel := context.WithCancel(e.ctx)
	defer cancel()

	act := &activation{cancel: cancel}

	e.activationMu.Lock()
	if _, ok := e.activations[instanceID]; ok {
		// Already being activated by another worker.
		e.activationMu.Unlock()
		return nil
	}
	e.activations[instanceID] = act
	e.activationMu.Unlock()

	defer func() {
		e.activationMu.Lock()
		delete(e.activations, instanceID)
		e.activationMu.Unlock()
	}()

	in, err := e.instanceStore.Lookup(actx, instanceID)
	if err != nil {
		return err
	}

	if in.Status.Finished() {
		return nil
	}

	_, err = e.execute(actx, in, act.cancelled.Load)
	if errors.Is(err, errSuspend) {
		// Engine is shutting down. The instance stays Running and resumes, by
		// replay, on the next activation.
		e.logger.Debug(actx, "activation suspended", MKV{
			"instance_id": instanceID,
		})
		return nil
	} else if err != nil && !in.Status.Finished() {
		// The instance did not reach a recorded terminal status, so this is a
		// store or engine fault rather than an orchestration outcome. Surface
		// it so the worker logs it instead of wedging the instance silently.
		return err
	}

	return nil
}

// execute runs one orchestration instance, top-level or per-item, to a terminal
// status unless suspended. It returns the orchestration output so that parents
// can record child outcomes.
func (e *Engine) execute(ctx context.Context, in *Instance, cancelled func() bool) ([]byte, error) {
	// Store writes survive the activation's cancellation so that a cancelled
	// instance can still record its terminal Failed status.
	wctx := context.WithoutCancel(ctx)

	fn, ok := e.orchestrations[in.Orchestration]
	if !ok {
		err := errors.Wrap(ErrOrchestrationNotRegistered, "", j.KV("orchestration", in.Orchestration))
		ferr := e.finish(wctx, in, nil, err)
		if ferr != nil {
			return nil, ferr
		}

		return nil, err
	}

	events, err := e.historyStore.Read(wctx, in.ID)
	if err != nil {
		return nil, err
	}

	hist, err := newHistory(e.historyStore, events)
	if err != nil {
		return nil, err
	}

	err = e.markRunning(wctx, in)
	if err != nil {
		return nil, err
	}

	c := newContext(ctx, wctx, e, in, hist, cancelled)

	e.logger.Debug(ctx, "activating instance", MKV{
		"instance_id":   in.ID,
		"orchestration": in.Orchestration,
		"kind":          in.Kind.String(),
		"events":        fmt.Sprintf("%d", len(events)),
	})

	out, fnErr := fn(c, in.Input)

	// A halted context overrides whatever the orchestration function returned:
	// the function may have swallowed the sentinel or carried on with partial
	// state, neither of which may be recorded as an outcome.
	if halted := c.haltedErr(); halted != nil {
		if errors.Is(halted, errSuspend) {
			return nil, errors.Wrap(errSuspend, "")
		}

		ferr := e.finish(wctx, in, nil, halted)
		if ferr != nil {
			return nil, ferr
		}

		return nil, halted
	}

	if fnErr != nil {
		ferr := e.finish(wctx, in, nil, fnErr)
		if ferr != nil {
			return nil, ferr
		}

		return nil, fnErr
	}

	err = e.finish(wctx, in, out, nil)
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (e *Engine) markRunning(ctx context.Context, in *Instance) error {
	err := validateStatusTransition(in.Status, StatusRunning)
	if err != nil {
		return err
	}

	in.Status = StatusRunning
	in.UpdatedAt = e.clock.Now()
	return e.instanceStore.Store(ctx, in)
}

// finish moves the instance to its terminal status and records the outcome on
// the record.
func (e *Engine) finish(ctx context.Context, in *Instance, output []byte, cause error) error {
	to := StatusCompleted
	if cause != nil {
		to = StatusFailed
	}

	err := validateStatusTransition(in.Status, to)
	if err != nil {
		return err
	}

	// Mutate in only once the write lands, so that callers can trust in.Status
	// to reflect persisted state when finish fails.
	up := *in
	up.Status = to
	up.UpdatedAt = e.clock.Now()

	if cause != nil {
		f := failureOf(cause)
		up.ErrMessage = f.Message
		up.ErrKind = f.Kind
	} else {
		up.Output = output
	}

	err = e.instanceStore.Store(ctx, &up)
	if err != nil {
		return err
	}

	*in = up

	metrics.InstancesFinished.WithLabelValues(e.name, to.String()).Inc()

	e.logger.Debug(ctx, "instance finished", MKV{
		"instance_id": in.ID,
		"status":      to.String(),
		"error":       in.ErrMessage,
	})

	return nil
}

// runChild executes a sub-orchestration on behalf of a parent decision. If the
// child already finished, the recorded outcome is returned so that a parent
// crash between child completion and parent append does not re-run the child.
func (e *Engine) runChild(ctx context.Context, parent *Context, name, childID string, input []byte) ([]byte, error) {
	if _, ok := e.orchestrations[name]; !ok {
		return nil, errors.Wrap(ErrOrchestrationNotRegistered, "", j.KV("orchestration", name))
	}

	in, err := e.instanceStore.Lookup(ctx, childID)
	if errors.Is(err, ErrInstanceNotFound) {
		in = &Instance{
			ID:            childID,
			Kind:          KindPerItem,
			Orchestration: name,
			ParentID:      parent.instanceID,
			Input:         input,
			Status:        StatusPending,
			CreatedAt:     e.clock.Now(),
			UpdatedAt:     e.clock.Now(),
		}

		err := e.instanceStore.Store(ctx, in)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if in.Status.Finished() {
		if in.Status == StatusFailed {
			return nil, &TaskError{Task: name, Kind: in.ErrKind, Message: in.ErrMessage}
		}

		return in.Output, nil
	}

	return e.execute(ctx, in, parent.cancelled)
}
