package resilience

import (
	"context"
	"errors"
)

// Classification decides whether a failed attempt is retried and with which backoff.
type Classification int

const (
	ClassRetryable Classification = iota
	ClassRateLimited
	ClassTerminal
)

func (c Classification) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassRateLimited:
		return "rate_limited"
	case ClassTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Classifier maps an attempt error to a Classification.
type Classifier func(error) Classification

// DefaultClassifier honours DownstreamError tags. Cancellation and validation are terminal;
// anything else is retried.
func DefaultClassifier(err error) Classification {
	var de *DownstreamError
	if errors.As(err, &de) {
		return de.Class
	}

	switch KindOf(err) {
	case KindValidation, KindTerminal, KindBreakerOpen:
		return ClassTerminal
	case KindRetryable, KindTimeout:
		return ClassRetryable
	}

	if errors.Is(err, context.Canceled) {
		return ClassTerminal
	}
	// Deadline, network and unrecognised errors are all transient.
	return ClassRetryable
}

// countsAsFailure reports whether err should move the breaker toward Open. Validation errors,
// breaker rejections and caller cancellation are not counted.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindValidation, KindBreakerOpen:
		return false
	}
	return true
}
