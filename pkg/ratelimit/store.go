package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// resetSuffix names the companion key holding a window's reset time in
// unix milliseconds. It is written when a window starts and shares the
// window's TTL, so rejections can report an accurate retry-after.
const resetSuffix = ":reset"

// CounterStore is the minimal capability the shared limiter needs from an
// external store. Incr must be atomic across processes. Get returns an
// empty string for a missing key.
type CounterStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Store enforces one fixed-window budget across every process sharing the
// backing counter store. Admit/reject decisions match Local for any
// single-process call sequence; only the retry-after on rejections is
// best-effort, falling back to the full window length when the companion
// reset key cannot be read.
type Store struct {
	cfg   Config
	store CounterStore
	now   func() time.Time
}

// NewStore returns a limiter backed by store.
func NewStore(store CounterStore, cfg Config) *Store {
	return &Store{cfg: cfg, store: store, now: time.Now}
}

// Check admits one call for key or rejects it with *LimitError. Store
// errors propagate to the caller.
func (s *Store) Check(ctx context.Context, key string) error {
	full := s.cfg.fullKey(key)

	count, err := s.store.Incr(ctx, full)
	if err != nil {
		return fmt.Errorf("rate limit incr %s: %w", full, err)
	}
	if count == 1 {
		// First call of a fresh window: this process owns setting the
		// expiry and the reset marker.
		ttl := ceilSeconds(s.cfg.Window)
		if err := s.store.Expire(ctx, full, ttl); err != nil {
			return fmt.Errorf("rate limit expire %s: %w", full, err)
		}
		resetAt := s.now().Add(s.cfg.Window)
		marker := strconv.FormatInt(resetAt.UnixMilli(), 10)
		if err := s.store.Set(ctx, full+resetSuffix, marker, ttl); err != nil {
			return fmt.Errorf("rate limit reset marker %s: %w", full, err)
		}
		return nil
	}
	if count > int64(s.cfg.MaxRequests) {
		return s.reject(ctx, key, full)
	}
	return nil
}

// Reset restarts the window for key at zero.
func (s *Store) Reset(ctx context.Context, key string) error {
	full := s.cfg.fullKey(key)
	if err := s.store.Set(ctx, full, "0", ceilSeconds(s.cfg.Window)); err != nil {
		return fmt.Errorf("rate limit reset %s: %w", full, err)
	}
	return nil
}

func (s *Store) reject(ctx context.Context, key, full string) error {
	now := s.now()
	resetAt := now.Add(s.cfg.Window)
	wait := ceilSeconds(s.cfg.Window)
	if v, err := s.store.Get(ctx, full+resetSuffix); err == nil && v != "" {
		if ms, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			if at := time.UnixMilli(ms); at.After(now) {
				resetAt = at
				wait = ceilSeconds(at.Sub(now))
			}
		}
	}
	return &LimitError{
		Key:     key,
		Limit:   s.cfg.MaxRequests,
		Window:  s.cfg.Window,
		ResetAt: resetAt,
		Wait:    wait,
	}
}
