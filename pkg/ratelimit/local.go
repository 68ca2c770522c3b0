package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = time.Minute

type window struct {
	count   int
	resetAt time.Time
}

// Local is an in-process fixed-window limiter. A window admits at most
// MaxRequests calls; counting restarts when the window expires. The scheme
// is approximate: up to 2x MaxRequests can pass across a window boundary,
// the accepted cost of O(1) bookkeeping. Safe for concurrent use, but
// windows are not shared across processes; use Store when several
// instances must agree on one budget.
type Local struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window

	stop     chan struct{}
	stopOnce sync.Once
}

// NewLocal returns a running limiter. A background sweep evicts expired
// windows every minute to bound memory; call Stop to halt it.
func NewLocal(cfg Config) *Local {
	l := &Local{
		cfg:     cfg,
		now:     time.Now,
		windows: make(map[string]*window),
		stop:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Check admits one call for key or rejects it with *LimitError carrying
// the time until the window resets.
func (l *Local) Check(_ context.Context, key string) error {
	full := l.cfg.fullKey(key)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[full]
	if !ok || !now.Before(w.resetAt) {
		l.windows[full] = &window{count: 1, resetAt: now.Add(l.cfg.Window)}
		return nil
	}
	if w.count >= l.cfg.MaxRequests {
		return &LimitError{
			Key:     key,
			Limit:   l.cfg.MaxRequests,
			Window:  l.cfg.Window,
			ResetAt: w.resetAt,
			Wait:    ceilSeconds(w.resetAt.Sub(now)),
		}
	}
	w.count++
	return nil
}

// Usage reports the current window for key without mutating it. An
// expired window is reported as if it had just reset; the stored entry is
// only replaced on the next Check.
func (l *Local) Usage(key string) Usage {
	full := l.cfg.fullKey(key)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[full]
	if !ok || !now.Before(w.resetAt) {
		return Usage{Used: 0, Remaining: l.cfg.MaxRequests, ResetAt: now.Add(l.cfg.Window)}
	}
	remaining := l.cfg.MaxRequests - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Usage{Used: w.count, Remaining: remaining, ResetAt: w.resetAt}
}

// Reset clears the window for key.
func (l *Local) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, l.cfg.fullKey(key))
	return nil
}

// ResetAll clears every window.
func (l *Local) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.windows)
}

// Stop halts the background sweep. The limiter remains usable.
func (l *Local) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Local) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

func (l *Local) sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
		}
	}
}
