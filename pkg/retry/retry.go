// Package retry provides exponential backoff with jitter for gateway calls.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/avast/retry-go/v4"
)

// StatusCoder is implemented by errors that carry an HTTP status code.
// Errors without an explicit retry verdict are classified by checking the
// status against Policy.RetryableStatusCodes.
type StatusCoder interface {
	StatusCode() int
}

// Verdict is implemented by errors that decide their own retryability.
// ok reports whether the error has a verdict; when false, status-code
// classification applies instead.
type Verdict interface {
	RetryVerdict() (retryable, ok bool)
}

// Hinter is implemented by errors that carry a server-provided wait hint,
// such as rate-limit rejections. A present hint replaces the computed
// backoff delay for the next attempt.
type Hinter interface {
	RetryAfter() (time.Duration, bool)
}

// Policy holds retry configuration
type Policy struct {
	MaxRetries           uint
	InitialDelay         time.Duration
	MaxDelay             time.Duration
	Multiplier           float64
	RetryableStatusCodes []int

	// OnRetry is invoked after a failed attempt and before the backoff
	// sleep. attempt is 1-based. It never fires after the final attempt.
	OnRetry func(err error, attempt int)
}

// DefaultPolicy returns the default retry configuration. Callers adjust
// individual fields on the returned value.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:           3,
		InitialDelay:         1 * time.Second,
		MaxDelay:             10 * time.Second,
		Multiplier:           2.0,
		RetryableStatusCodes: []int{408, 429, 500, 502, 503, 504},
	}
}

// jitterFraction bounds the random spread applied to each computed delay.
const jitterFraction = 0.2

// Do executes fn up to MaxRetries+1 times, sleeping between attempts
// according to the policy. Non-retryable errors and context cancellation
// stop the loop immediately; the last attempt's error is returned as-is.
func Do(ctx context.Context, p Policy, fn func() error) error {
	attempts := p.MaxRetries + 1
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.RetryIf(p.Retryable),
		retry.DelayType(func(n uint, err error, _ *retry.Config) time.Duration {
			return p.Delay(n, err)
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			if p.OnRetry != nil && n+1 < attempts {
				p.OnRetry(err, int(n)+1)
			}
		}),
	)
}

// DoWithResult executes a function with retry and returns its result
func DoWithResult[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}

// Retryable classifies err under the policy. Errors with an explicit
// verdict win; otherwise a carried HTTP status is checked against the
// retryable set, and plain transport failures are treated as transient.
func (p Policy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	var v Verdict
	if errors.As(err, &v) {
		if retryable, ok := v.RetryVerdict(); ok {
			return retryable
		}
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		for _, c := range p.RetryableStatusCodes {
			if c == code {
				return true
			}
		}
		return false
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// Delay computes the sleep before the attempt that follows failed attempt
// n (0-based): min(InitialDelay*Multiplier^n, MaxDelay) with a uniform
// jitter of ±20%, floored to whole milliseconds. Jitter is applied after
// capping, so the result may slightly exceed MaxDelay. A retry-after hint
// on err replaces the computation entirely.
func (p Policy) Delay(n uint, err error) time.Duration {
	var h Hinter
	if errors.As(err, &h) {
		if d, ok := h.RetryAfter(); ok && d > 0 {
			return d
		}
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(n))
	if ceiling := float64(p.MaxDelay); delay > ceiling {
		delay = ceiling
	}
	jitter := delay * jitterFraction * (rand.Float64()*2 - 1)
	d := time.Duration(delay + jitter)
	if d < 0 {
		d = 0
	}
	return d.Truncate(time.Millisecond)
}
