// Package memarchive provides an in-memory archive store. It is intended for
// local development and tests and keeps every artifact in process memory.
package memarchive

import (
	"context"
	"sync"

	"github.com/andrewwormald/durable/reportgen"
)

// Store implements reportgen.ArchiveStore. Writing the same filename twice
// overwrites the previous artifact and bumps its version, so retried archive
// activities converge on a single object per item.
type Store struct {
	mu      sync.Mutex
	objects map[string]*object
}

type object struct {
	data    []byte
	version int
}

var _ reportgen.ArchiveStore = (*Store)(nil)

func New() *Store {
	return &Store{
		objects: make(map[string]*object),
	}
}

func (s *Store) Put(ctx context.Context, cmd reportgen.ArchiveCommand) (reportgen.ArchiveReceipt, error) {
	if err := ctx.Err(); err != nil {
		return reportgen.ArchiveReceipt{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[cmd.Filename]
	if !ok {
		obj = &object{}
		s.objects[cmd.Filename] = obj
	}

	obj.data = append([]byte(nil), cmd.Data...)
	obj.version++

	return reportgen.ArchiveReceipt{
		Filename: cmd.Filename,
		Size:     len(obj.data),
		Version:  obj.version,
	}, nil
}

// Get returns the stored artifact bytes for filename, or false when nothing
// has been archived under it.
func (s *Store) Get(filename string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[filename]
	if !ok {
		return nil, false
	}

	return append([]byte(nil), obj.data...), true
}

// Len returns the number of distinct archived filenames.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.objects)
}
