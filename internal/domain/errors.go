package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind categorizes failures surfaced by the generation pipeline and
// the conversation engine.
type ErrorKind string

const (
	KindAuth            ErrorKind = "auth"
	KindCredits         ErrorKind = "credits"
	KindRateLimit       ErrorKind = "rate_limit"
	KindContentPolicy   ErrorKind = "content_policy"
	KindInvalidRequest  ErrorKind = "invalid_request"
	KindPayloadTooLarge ErrorKind = "payload_too_large"
	KindServer          ErrorKind = "server"
	KindNetwork         ErrorKind = "network"
	KindTimeout         ErrorKind = "timeout"
	KindCancelled       ErrorKind = "cancelled"
	KindInvalidArgument ErrorKind = "invalid_argument"
	KindNotFound        ErrorKind = "not_found"
	KindInvalidState    ErrorKind = "invalid_state"
)

// Error is the typed failure every layer returns for classified problems.
type Error struct {
	Kind       ErrorKind
	Message    string
	Status     int
	Transient  bool
	RetryAfter time.Duration
	wrapped    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.wrapped)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.wrapped }

// ErrorOption mutates an Error during construction.
type ErrorOption func(*Error)

// WithStatus records the provider HTTP status that produced the error.
func WithStatus(status int) ErrorOption {
	return func(e *Error) { e.Status = status }
}

// WithTransient marks the error as worth another attempt.
func WithTransient(transient bool) ErrorOption {
	return func(e *Error) { e.Transient = transient }
}

// WithRetryAfter sets the wait hint carried by rate_limit errors.
func WithRetryAfter(d time.Duration) ErrorOption {
	return func(e *Error) { e.RetryAfter = d }
}

// WithWrapped attaches an underlying error. It is kept out of the
// user-facing Message.
func WithWrapped(err error) ErrorOption {
	return func(e *Error) { e.wrapped = err }
}

// NewError builds an Error explicitly.
func NewError(kind ErrorKind, message string, opts ...ErrorOption) *Error {
	e := &Error{Kind: kind, Message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Errorf builds an Error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError returns err unchanged when it already is an *Error, otherwise
// wraps it under kind with a generic message.
func WrapError(err error, kind ErrorKind, message string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: kind, Message: message, wrapped: err}
}

// AsError extracts the typed error from a chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if err == nil || !errors.As(err, &e) {
		return nil, false
	}
	return e, true
}

// KindOf returns the kind of err, or "" when it carries none.
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// RetryAfterOf extracts the retry-after hint, zero when absent.
func RetryAfterOf(err error) time.Duration {
	if e, ok := AsError(err); ok {
		return e.RetryAfter
	}
	return 0
}

// IsGenerationKind reports whether kind belongs to the provider failure
// family that callers show to the user as-is.
func IsGenerationKind(kind ErrorKind) bool {
	switch kind {
	case KindAuth, KindCredits, KindRateLimit, KindContentPolicy, KindInvalidRequest,
		KindPayloadTooLarge, KindServer, KindNetwork, KindTimeout, KindCancelled:
		return true
	}
	return false
}

func classify(kind ErrorKind) func(error) bool {
	return func(err error) bool { return IsKind(err, kind) }
}

var (
	IsNotFound        = classify(KindNotFound)
	IsInvalidArgument = classify(KindInvalidArgument)
	IsCancelled       = classify(KindCancelled)
	IsRateLimited     = classify(KindRateLimit)
)
