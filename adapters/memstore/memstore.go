// Package memstore provides in-memory implementations of durable.HistoryStore
// and durable.InstanceStore. They are intended for tests and examples and keep
// the same semantics as the durable adapters: strictly ordered per-instance
// history and instance records keyed by id.
package memstore

import (
	"context"
	"sync"

	"k8s.io/utils/clock"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/andrewwormald/durable"
)

type options struct {
	clock clock.Clock
}

type Option func(o *options)

func WithClock(clock clock.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func New(opts ...Option) *Store {
	// Set option defaults
	opt := options{
		clock: clock.RealClock{},
	}

	// Set option overrides
	for _, o := range opts {
		o(&opt)
	}

	return &Store{
		clock:     opt.clock,
		histories: make(map[string][]durable.Event),
		instances: make(map[string]*durable.Instance),
	}
}

var (
	_ durable.HistoryStore  = (*Store)(nil)
	_ durable.InstanceStore = (*Store)(nil)
)

type Store struct {
	mu    sync.Mutex
	clock clock.Clock

	histories map[string][]durable.Event

	instances map[string]*durable.Instance
	order     []string
}

func (s *Store) Append(ctx context.Context, e *durable.Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := int64(len(s.histories[e.InstanceID])) + 1

	clone := *e
	clone.ID = seq
	if clone.Timestamp.IsZero() {
		clone.Timestamp = s.clock.Now()
	}

	s.histories[e.InstanceID] = append(s.histories[e.InstanceID], clone)
	return seq, nil
}

func (s *Store) Read(ctx context.Context, instanceID string) ([]durable.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.histories[instanceID]
	ls := make([]durable.Event, len(events))
	copy(ls, events)

	return ls, nil
}

func (s *Store) Store(ctx context.Context, in *durable.Instance) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[in.ID]; !ok {
		s.order = append(s.order, in.ID)
	}

	clone := *in
	s.instances[in.ID] = &clone

	return nil
}

func (s *Store) Lookup(ctx context.Context, id string) (*durable.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.instances[id]
	if !ok {
		return nil, errors.Wrap(durable.ErrInstanceNotFound, "", j.KV("instance_id", id))
	}

	clone := *in
	return &clone, nil
}

func (s *Store) List(ctx context.Context, kind durable.Kind) ([]durable.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var ls []durable.Instance
	for _, id := range s.order {
		in := s.instances[id]
		if kind != durable.KindUnknown && in.Kind != kind {
			continue
		}

		ls = append(ls, *in)
	}

	return ls, nil
}
