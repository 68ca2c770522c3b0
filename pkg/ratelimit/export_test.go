package ratelimit

import "time"

// Test hooks for injecting clocks and driving the sweep deterministically.

func (l *Local) SetClock(now func() time.Time) { l.now = now }

func (l *Local) RunSweep() { l.sweep() }

func (l *Local) WindowCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (s *Store) SetClock(now func() time.Time) { s.now = now }
