package durable

import (
	"context"
	"strings"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/robfig/cron/v3"
	"k8s.io/utils/clock"
)

type scheduleOpts struct {
	input any
}

type ScheduleOption func(*scheduleOpts)

// WithScheduleInput provides the input passed to every scheduled start.
func WithScheduleInput(input any) ScheduleOption {
	return func(o *scheduleOpts) {
		o.input = input
	}
}

// Schedule starts a new instance of the orchestration at the intervals
// described by the cron spec. Instance ids are derived from the foreignID and
// the scheduled time, so a restart does not double-start the same slot: a start
// that collides with an existing instance is skipped. Schedule returns after
// launching the background process; scheduling stops when the engine stops.
func (e *Engine) Schedule(orchestration string, foreignID string, spec string, opts ...ScheduleOption) error {
	if !e.calledRun {
		return errors.Wrap(ErrEngineNotRunning, "ensure Run() is called before attempting to schedule")
	}

	if _, ok := e.orchestrations[orchestration]; !ok {
		return errors.Wrap(ErrOrchestrationNotRegistered, "")
	}

	var o scheduleOpts
	for _, opt := range opts {
		opt(&o)
	}

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return errors.Wrap(err, "parse cron spec")
	}

	processName := makeProcessName(orchestration, foreignID, "scheduler", spec)

	e.launching.Add(1)
	go func() {
		e.updateLifecycle(processName, LifecycleStateIdle)
		defer e.updateLifecycle(processName, LifecycleStateShutdown)
		e.launching.Done()

		for e.ctx.Err() == nil {
			next := schedule.Next(e.clock.Now())

			err := waitUntil(e.ctx, e.clock, next)
			if errors.Is(err, context.Canceled) {
				return
			}

			e.updateLifecycle(processName, LifecycleStateRunning)

			id := foreignID + "-" + next.Format(time.RFC3339)
			_, err = e.Start(e.ctx, orchestration, WithInstanceID(id), WithInput(o.input))
			if errors.Is(err, ErrInstanceInProgress) {
				// NoReturnErr: Slot already started before a restart.
				e.logger.Debug(e.ctx, "skipping scheduled start", MKV{
					"instance_id": id,
				})
			} else if err != nil {
				e.logger.Error(e.ctx, errors.Wrap(err, "scheduled start", j.MKV{
					"instance_id": id,
				}))
			}

			e.updateLifecycle(processName, LifecycleStateIdle)
		}
	}()

	e.launching.Wait()
	return nil
}

func makeProcessName(parts ...string) string {
	return strings.Join(parts, "-")
}

func waitUntil(ctx context.Context, c clock.Clock, t time.Time) error {
	d := t.Sub(c.Now())
	if d <= 0 {
		return ctx.Err()
	}

	timer := c.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}
