package repo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/miradorstack/mirador-phiguard/internal/resilience"
)

// Stable downstream error codes.
const (
	CodeAuth           = "AUTH"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeRateLimited    = "RATE_LIMITED"
	CodeUnavailable    = "UNAVAILABLE"
	CodeNetwork        = "NETWORK"
	CodeEmptyResponse  = "EMPTY_RESPONSE"
	CodeDecode         = "DECODE"
)

// classifyStatus tags a non-success HTTP status for the retry policy.
func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return resilience.Terminal(CodeAuth, err)
	case status == http.StatusTooManyRequests:
		return resilience.RateLimited(CodeRateLimited, err)
	case status == http.StatusRequestTimeout:
		return resilience.Retryable(resilience.CodeTimeout, err)
	case status >= 500:
		return resilience.Retryable(CodeUnavailable, err)
	case status >= 400:
		return resilience.Terminal(CodeInvalidRequest, err)
	default:
		return resilience.Retryable(CodeUnavailable, err)
	}
}

// classifyTransport tags errors raised before any status was received. Caller cancellation is
// returned untouched so the retry loop stops.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return resilience.Retryable(resilience.CodeTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return resilience.Retryable(resilience.CodeTimeout, err)
	}
	return resilience.Retryable(CodeNetwork, err)
}

func statusError(service string, status int, text string) error {
	return fmt.Errorf("%s returned %d %s", service, status, text)
}
