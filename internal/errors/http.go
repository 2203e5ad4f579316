package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
)

// FromTransport classifies an error returned by http.Client.Do.
func FromTransport(op string, err error) *DocError {
	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
		return New(ErrCodeNetworkTimeout, op+" timed out", err).WithDetail("op", op)
	}
	if stderrors.Is(err, context.Canceled) {
		return New(ErrCodeCollaboratorFailed, op+" canceled", err).WithDetail("op", op)
	}
	return New(ErrCodeNetworkUnavailable, op+" request failed", err).WithDetail("op", op)
}

// FromHTTPStatus classifies a non-200 response. Rate limiting and server
// errors are retryable; other client errors are not.
func FromHTTPStatus(op string, status int, body string) *DocError {
	if len(body) > 200 {
		body = body[:200]
	}
	cause := fmt.Errorf("status %d: %s", status, body)

	var e *DocError
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		e = New(ErrCodeNetworkUnavailable, op+" service unavailable", cause)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = New(ErrCodeMissingCredentials, op+" rejected the API key", cause).
			WithSuggestion("Check the API key environment variable")
	default:
		e = New(ErrCodeCollaboratorFailed, op+" failed", cause)
	}
	return e.WithDetail("op", op).WithDetail("status", fmt.Sprint(status))
}
