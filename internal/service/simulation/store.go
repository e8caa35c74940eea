package simulation

import (
	"sync"

	"github.com/zhouzirui/doorbell-lab/backend/internal/model/simulation"
)

// Store holds the single live simulation snapshot and fans every change out
// to subscribed renderers.
type Store struct {
	mu        sync.RWMutex
	state     simulation.State
	observers map[int]func(simulation.State)
	nextID    int
}

// NewStore creates a store holding the initial snapshot.
func NewStore() *Store {
	return &Store{
		state:     simulation.Initial(),
		observers: make(map[int]func(simulation.State)),
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() simulation.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Update shallow-merges p into the current state. It performs no validation
// and cannot fail.
func (s *Store) Update(p simulation.Patch) {
	s.mu.Lock()
	s.state = p.Apply(s.state)
	snap := s.state.Clone()
	s.mu.Unlock()

	s.notify(snap)
}

// Reset replaces the state with the initial snapshot.
func (s *Store) Reset() {
	s.mu.Lock()
	s.state = simulation.Initial()
	snap := s.state.Clone()
	s.mu.Unlock()

	s.notify(snap)
}

// Subscribe registers fn to receive the snapshot after every change. The
// returned function removes the subscription.
func (s *Store) Subscribe(fn func(simulation.State)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(snap simulation.State) {
	s.mu.RLock()
	fns := make([]func(simulation.State), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(snap.Clone())
	}
}
