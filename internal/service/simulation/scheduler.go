package simulation

import (
	"fmt"
	"sync"
	"time"
)

// Scheduler runs callbacks after a delay. Delays are relative to Now().
type Scheduler interface {
	// Schedule registers f to run once delay has elapsed and returns an id
	// usable with Cancel.
	Schedule(delay time.Duration, f func()) (id string)

	// Cancel drops a pending callback. Unknown or already-run ids are ignored.
	Cancel(id string)

	// Now returns the scheduler's current time.
	Now() time.Time
}

// timerScheduler backs Scheduler with wall-clock timers.
type timerScheduler struct {
	mu      sync.Mutex
	counter uint64
	timers  map[string]*time.Timer
}

// NewTimerScheduler returns a Scheduler driven by time.AfterFunc.
func NewTimerScheduler() Scheduler {
	return &timerScheduler{timers: make(map[string]*time.Timer)}
}

func (s *timerScheduler) Schedule(delay time.Duration, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("ev-%d", s.counter)

	// The callback blocks on s.mu until the timer is recorded below.
	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()

		f()
	})
	return id
}

func (s *timerScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *timerScheduler) Now() time.Time {
	return time.Now()
}

// FakeScheduler is a Scheduler with a virtual clock that only moves when a
// test calls Advance.
type FakeScheduler struct {
	mu      sync.Mutex
	now     time.Time
	counter uint64

	// Ordered by 'when', earliest first; ties keep insertion order.
	events []*fakeEvent
	index  map[string]*fakeEvent
}

type fakeEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

// NewFakeScheduler creates a fake scheduler whose clock starts at start.
func NewFakeScheduler(start time.Time) *FakeScheduler {
	return &FakeScheduler{
		now:   start,
		index: make(map[string]*fakeEvent),
	}
}

// Now returns the virtual time.
func (s *FakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Schedule registers f to run at Now()+delay.
func (s *FakeScheduler) Schedule(delay time.Duration, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("fake-ev-%d", s.counter)
	ev := &fakeEvent{id: id, when: s.now.Add(delay), f: f}

	idx := len(s.events)
	for i, existing := range s.events {
		if ev.when.Before(existing.when) {
			idx = i
			break
		}
	}
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev

	s.index[id] = ev
	return id
}

// Cancel marks a pending event so Advance skips it.
func (s *FakeScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev, ok := s.index[id]; ok {
		ev.cancelled = true
		delete(s.index, id)
	}
}

// Pending reports how many callbacks are still waiting to run.
func (s *FakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Advance moves the clock forward by d, running every callback that falls due
// on the way in time order. Callbacks scheduled by callbacks run too if they
// fall inside the window.
func (s *FakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if len(s.events) == 0 || s.events[0].when.After(target) {
			s.now = target
			s.mu.Unlock()
			return
		}

		ev := s.events[0]
		s.events = s.events[1:]
		if ev.cancelled {
			s.mu.Unlock()
			continue
		}
		delete(s.index, ev.id)
		s.now = ev.when
		s.mu.Unlock()

		// Run outside the lock so the callback may schedule more work.
		if ev.f != nil {
			ev.f()
		}
	}
}
