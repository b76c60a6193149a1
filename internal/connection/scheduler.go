package connection

import (
	"sync"
	"time"
)

// scheduler owns every timer the manager creates. Timers are tagged with the
// epoch current at creation; CancelAll bumps the epoch and stops them, so a
// callback that already fired off the runtime timer still refuses to run
// against state from a superseded connection attempt.
type scheduler struct {
	mu     sync.Mutex
	epoch  uint64
	nextID uint64
	timers map[uint64]*time.Timer
}

func newScheduler() *scheduler {
	return &scheduler{
		timers: make(map[uint64]*time.Timer),
	}
}

// After schedules fn to run once after d. The callback is skipped if
// CancelAll ran in between.
func (s *scheduler) After(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	epoch := s.epoch
	id := s.nextID
	s.nextID++

	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.epoch != epoch {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		s.mu.Unlock()

		fn()
	})
}

// CancelAll synchronously invalidates all pending timers. Any callback that
// has not started yet will never run.
func (s *scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Pending returns the number of timers not yet fired or cancelled.
func (s *scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
