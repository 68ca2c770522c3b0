package errors

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// Transaction errors
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrDuplicateTransaction   = errors.New("duplicate transaction")

	// Auth errors
	ErrTokenMissing = errors.New("access token missing from response")
)

// Kind classifies gateway failures.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindNetwork    Kind = "network"
	KindTimeout    Kind = "timeout"
	KindRateLimit  Kind = "rate_limit"
	KindAPI        Kind = "api"
)

// Error is the typed failure returned by gateway calls. Transient is
// meaningful for KindNetwork, RetryIn for KindRateLimit.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Status    int
	Transient bool
	RetryIn   time.Duration
	Details   any
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status associated with the error.
func (e *Error) StatusCode() int {
	return e.Status
}

// RetryVerdict reports retryability for kinds that decide it themselves:
// network failures carry an explicit flag and rate-limit responses always
// retry. Other kinds defer to status-code classification.
func (e *Error) RetryVerdict() (retryable, ok bool) {
	switch e.Kind {
	case KindNetwork:
		return e.Transient, true
	case KindRateLimit:
		return true, true
	default:
		return false, false
	}
}

// RetryAfter returns the server-provided wait hint on rate-limit errors.
func (e *Error) RetryAfter() (time.Duration, bool) {
	if e.Kind == KindRateLimit && e.RetryIn > 0 {
		return e.RetryIn, true
	}
	return 0, false
}

// NewValidation creates a caller-input error
func NewValidation(message string) *Error {
	return &Error{Kind: KindValidation, Code: "VALIDATION_ERROR", Message: message, Status: 400}
}

// NewAuth creates a credential/authorization error
func NewAuth(message string) *Error {
	return &Error{Kind: KindAuth, Code: "AUTH_ERROR", Message: message, Status: 401}
}

// NewNetwork creates a transport failure error
func NewNetwork(message string, retryable bool, cause error) *Error {
	return &Error{Kind: KindNetwork, Code: "NETWORK_ERROR", Message: message, Status: 503, Transient: retryable, Err: cause}
}

// NewTimeout creates an attempt-deadline error
func NewTimeout(message string) *Error {
	return &Error{Kind: KindTimeout, Code: "TIMEOUT_ERROR", Message: message, Status: 408}
}

// NewRateLimit creates a quota-exceeded error carrying a wait hint
func NewRateLimit(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Code: "RATE_LIMIT_ERROR", Message: message, Status: 429, RetryIn: retryAfter}
}

// NewAPI creates a generic gateway error carrying the raw code and body
func NewAPI(message, code string, status int, details any) *Error {
	return &Error{Kind: KindAPI, Code: code, Message: message, Status: status, Details: details}
}

// ParseAPIError maps a non-2xx gateway response to a typed error. The
// message is taken from errorMessage, ResponseDescription or message; the
// code from errorCode or ResponseCode.
func ParseAPIError(status int, body map[string]any) *Error {
	message := stringField(body, "errorMessage", "ResponseDescription", "message")
	if message == "" {
		message = "Unknown API error"
	}
	code := stringField(body, "errorCode", "ResponseCode")
	if code == "" {
		code = "UNKNOWN_ERROR"
	}

	switch {
	case status == 401 || status == 403:
		e := NewAuth(message)
		e.Status = status
		e.Details = body
		return e
	case status == 400:
		e := NewValidation(message)
		e.Details = body
		return e
	case status == 429:
		e := NewRateLimit(message, retryAfterField(body))
		e.Details = body
		return e
	case status >= 500:
		e := NewNetwork(message, true, nil)
		e.Status = status
		e.Details = body
		return e
	default:
		return NewAPI(message, code, status, body)
	}
}

func stringField(body map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := body[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func retryAfterField(body map[string]any) time.Duration {
	switch v := body["retryAfter"].(type) {
	case float64:
		return time.Duration(v * float64(time.Second))
	case string:
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
