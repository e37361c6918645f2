package durable

import (
	"os"
	"time"

	"k8s.io/utils/clock"

	internal_logger "github.com/andrewwormald/durable/internal/logger"
)

const (
	defaultPollingFrequency = 100 * time.Millisecond
	defaultConcurrency      = 50
	defaultWorkerCount      = 4
	defaultQueueSize        = 1024
)

func NewBuilder(name string) *Builder {
	return &Builder{
		engine: &Engine{
			name:               name,
			clock:              clock.RealClock{},
			pollingFrequency:   defaultPollingFrequency,
			defaultConcurrency: defaultConcurrency,
			workerCount:        defaultWorkerCount,
			activities:         make(map[string]ActivityFunc),
			orchestrations:     make(map[string]OrchestrationFunc),
			activations:        make(map[string]*activation),
			processLifecycles:  make(map[string]LifecycleState),
		},
	}
}

type Builder struct {
	engine *Engine
}

// RegisterActivity makes the named activity callable from orchestrations.
// Names must be unique; registering the same name twice panics as it is always
// a programming error.
func (b *Builder) RegisterActivity(name string, fn ActivityFunc) *Builder {
	if _, ok := b.engine.activities[name]; ok {
		panic("activity names need to be unique: " + name)
	}

	b.engine.activities[name] = fn
	return b
}

// RegisterOrchestration makes the named orchestration startable as a top-level
// instance or callable as a sub-orchestration.
func (b *Builder) RegisterOrchestration(name string, fn OrchestrationFunc) *Builder {
	if _, ok := b.engine.orchestrations[name]; ok {
		panic("orchestration names need to be unique: " + name)
	}

	b.engine.orchestrations[name] = fn
	return b
}

func (b *Builder) Build(historyStore HistoryStore, instanceStore InstanceStore, opts ...BuildOption) *Engine {
	b.engine.historyStore = historyStore
	b.engine.instanceStore = instanceStore

	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	if bo.clock != nil {
		b.engine.clock = bo.clock
	}

	if bo.logger == nil {
		bo.logger = internal_logger.New(os.Stderr)
	}
	b.engine.logger = &logger{inner: bo.logger, debugMode: bo.debugMode}

	if bo.defaultConcurrency > 0 {
		b.engine.defaultConcurrency = bo.defaultConcurrency
	}

	if bo.workerCount > 0 {
		b.engine.workerCount = bo.workerCount
	}

	if bo.pollingFrequency > 0 {
		b.engine.pollingFrequency = bo.pollingFrequency
	}

	return b.engine
}

type buildOptions struct {
	clock              clock.Clock
	logger             Logger
	debugMode          bool
	defaultConcurrency int
	workerCount        int
	pollingFrequency   time.Duration
}

type BuildOption func(*buildOptions)

// WithClock replaces the real clock, primarily so tests can drive time with a
// fake.
func WithClock(c clock.Clock) BuildOption {
	return func(bo *buildOptions) {
		bo.clock = c
	}
}

func WithLogger(l Logger) BuildOption {
	return func(bo *buildOptions) {
		bo.logger = l
	}
}

// WithDebugMode enables debug logging for the engine and all replay-safe
// orchestration loggers.
func WithDebugMode() BuildOption {
	return func(bo *buildOptions) {
		bo.debugMode = true
	}
}

// WithDefaultConcurrency sets the fan-out admission bound used when a FanOut
// call does not override it.
func WithDefaultConcurrency(n int) BuildOption {
	return func(bo *buildOptions) {
		bo.defaultConcurrency = n
	}
}

// WithWorkerCount sets the number of workers draining the activation queue,
// which bounds concurrently executing top-level instances.
func WithWorkerCount(n int) BuildOption {
	return func(bo *buildOptions) {
		bo.workerCount = n
	}
}

// WithDefaultPollingFrequency sets the default poll interval used by Await.
func WithDefaultPollingFrequency(d time.Duration) BuildOption {
	return func(bo *buildOptions) {
		bo.pollingFrequency = d
	}
}
