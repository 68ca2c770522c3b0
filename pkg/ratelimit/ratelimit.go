// Package ratelimit provides fixed-window rate limiting for gateway calls,
// either in-process or backed by a shared counter store.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DefaultKeyPrefix namespaces limiter keys when Config.KeyPrefix is empty.
const DefaultKeyPrefix = "mpesa"

// Config holds rate limiter configuration. Read-only after construction.
type Config struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
}

func (c Config) fullKey(key string) string {
	prefix := c.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return prefix + ":" + key
}

// Limiter admits or rejects calls against a per-key budget. Implementations
// reject with *LimitError and are selected by configuration, never by type
// checks at call sites.
type Limiter interface {
	Check(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

// Usage is a point-in-time view of one key's window.
type Usage struct {
	Used      int
	Remaining int
	ResetAt   time.Time
}

// LimitError is returned when a key's budget for the current window is
// exhausted. It reads as HTTP 429 to error classification but reports
// itself non-retryable: a limiter rejection is a policy stop and the Wait
// hint is for the caller to act on.
type LimitError struct {
	Key     string
	Limit   int
	Window  time.Duration
	ResetAt time.Time
	Wait    time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: retry after %s", e.Key, e.Wait)
}

// StatusCode reports the rejection as HTTP 429.
func (e *LimitError) StatusCode() int { return http.StatusTooManyRequests }

// RetryVerdict marks the rejection as terminal for retry classification.
func (e *LimitError) RetryVerdict() (retryable, ok bool) { return false, true }

// RetryAfter returns the wait until the window resets.
func (e *LimitError) RetryAfter() (time.Duration, bool) { return e.Wait, true }

// ceilSeconds rounds d up to whole seconds.
func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	secs := int64((d + time.Second - 1) / time.Second)
	return time.Duration(secs) * time.Second
}
