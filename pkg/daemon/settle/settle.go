// Package settle delays per-file processing until write activity stops.
// A producer writing an image is typically not atomic; requiring a quiet
// period avoids uploading a truncated file.
package settle

import (
	"sync"
	"time"
)

// Scheduler arms one timer per path. Re-arming a path cancels the previous
// timer rather than accumulating them, so a file written in bursts fires
// its callback exactly once, after the last burst.
type Scheduler struct {
	delay    time.Duration
	callback func(path string, settledAt time.Time)

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
}

// NewScheduler creates a scheduler that invokes callback once a path has
// gone delay without being re-armed. The settledAt argument carries the
// time the winning timer was armed, for stale-timer detection upstream.
func NewScheduler(delay time.Duration, callback func(path string, settledAt time.Time)) *Scheduler {
	return &Scheduler{
		delay:    delay,
		callback: callback,
		pending:  make(map[string]*time.Timer),
	}
}

// Arm schedules (or reschedules) the settle timer for a path.
func (s *Scheduler) Arm(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if timer, ok := s.pending[path]; ok {
		timer.Stop()
	}

	armedAt := time.Now()
	s.pending[path] = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		delete(s.pending, path)
		s.mu.Unlock()

		// Invoke outside the lock so the callback may re-arm.
		s.callback(path, armedAt)
	})
}

// Cancel drops the pending timer for a path, if any. Used when the file
// disappears mid-settle.
func (s *Scheduler) Cancel(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.pending[path]; ok {
		timer.Stop()
		delete(s.pending, path)
	}
}

// Close cancels all pending timers and rejects further arming. In-flight
// settle state is deliberately not persisted; a restart re-discovers files
// via the startup scan.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for path, timer := range s.pending {
		timer.Stop()
		delete(s.pending, path)
	}
}

// PendingCount returns the number of paths currently waiting to settle.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// IsPending reports whether a path currently has a settle timer armed.
func (s *Scheduler) IsPending(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[path]
	return ok
}
