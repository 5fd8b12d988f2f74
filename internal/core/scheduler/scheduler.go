// Package scheduler implements the TX Scheduler (component C6): it
// decides when each transmit backend (BLE legacy, BLE long-range,
// Wi-Fi NAN) is next due to send a frame, given its own configured
// rate. Adapted from the teacher's throttler, which rate-limited
// per-device publishes; here the key is the backend name instead of a
// device ID, since a single process drives a fixed, known set of
// backends at independently configurable rates.
package scheduler

import (
	"sync"
	"time"
)

// Scheduler tracks the next-due time for each named backend.
type Scheduler struct {
	mu       sync.Mutex
	interval map[string]time.Duration
	last     map[string]time.Time
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{
		interval: make(map[string]time.Duration),
		last:     make(map[string]time.Time),
	}
}

// SetRate configures the transmit rate for a backend in Hz. A rate of
// zero or less disables the backend (ShouldSend always returns false).
func (s *Scheduler) SetRate(backend string, rateHz float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rateHz <= 0 {
		delete(s.interval, backend)
		return
	}
	s.interval[backend] = time.Duration(float64(time.Second) / rateHz)
}

// ShouldSend reports whether enough time has elapsed since the
// backend's last transmission. If true, it also marks the backend as
// having just sent.
func (s *Scheduler) ShouldSend(backend string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	interval, enabled := s.interval[backend]
	if !enabled {
		return false
	}

	now := time.Now()
	last, seen := s.last[backend]
	if !seen || now.Sub(last) >= interval {
		s.last[backend] = now
		return true
	}
	return false
}

// Reset clears the last-send time for a backend, making it
// immediately due again.
func (s *Scheduler) Reset(backend string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, backend)
}
