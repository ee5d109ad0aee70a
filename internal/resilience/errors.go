// Package resilience provides the per-dependency circuit breaker and the bounded retry
// policy that wrap downstream calls, plus the typed errors both surface.
package resilience

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the stable error category reported to callers and log aggregation.
type Kind string

const (
	KindTerminal         Kind = "terminal_downstream"
	KindRetryable        Kind = "retryable_downstream"
	KindBreakerOpen      Kind = "breaker_open"
	KindRetriesExhausted Kind = "retries_exhausted"
	KindValidation       Kind = "validation"
	KindTimeout          Kind = "timeout"
)

// Stable error codes used when the underlying error carries none.
const (
	CodeBreakerOpen      = "BREAKER_OPEN"
	CodeRetriesExhausted = "RETRIES_EXHAUSTED"
	CodeDeadline         = "DEADLINE_EXCEEDED"
	CodeCanceled         = "CANCELED"
	CodeTerminal         = "TERMINAL"
	CodeTimeout          = "TIMEOUT"
	CodeEmptyInput       = "EMPTY_INPUT"
	CodeInputTooLarge    = "INPUT_TOO_LARGE"
)

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrTerminal         = &Error{Kind: KindTerminal}
	ErrRetryable        = &Error{Kind: KindRetryable}
	ErrBreakerOpen      = &Error{Kind: KindBreakerOpen}
	ErrRetriesExhausted = &Error{Kind: KindRetriesExhausted}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrTimeout          = &Error{Kind: KindTimeout}
)

// Error is the single typed error surfaced by the breaker, the retry policy and the facade.
type Error struct {
	Kind       Kind
	Code       string
	Dependency string
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Code != "" {
		b.WriteString(" [" + e.Code + "]")
	}
	if e.Dependency != "" {
		b.WriteString(" dependency=" + e.Dependency)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " attempts=%d", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind, and by code when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// NewValidationError reports rejected input.
func NewValidationError(code, msg string) error {
	return &Error{Kind: KindValidation, Code: code, Err: errors.New(msg)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the most specific code in err's chain, falling back to def.
func CodeOf(err error, def string) string {
	var de *DownstreamError
	if errors.As(err, &de) && de.Code != "" {
		return de.Code
	}
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return def
}

// DownstreamError is returned by downstream adapters to tag a failure with its classification.
type DownstreamError struct {
	Class Classification
	Code  string
	Err   error
}

func (e *DownstreamError) Error() string {
	msg := fmt.Sprintf("downstream %s", e.Class)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DownstreamError) Unwrap() error { return e.Err }

// Terminal tags err as not worth retrying.
func Terminal(code string, err error) error {
	return &DownstreamError{Class: ClassTerminal, Code: code, Err: err}
}

// Retryable tags err as transient.
func Retryable(code string, err error) error {
	return &DownstreamError{Class: ClassRetryable, Code: code, Err: err}
}

// RateLimited tags err as a throttling response.
func RateLimited(code string, err error) error {
	return &DownstreamError{Class: ClassRateLimited, Code: code, Err: err}
}
