// Package stream provides the streaming client for the completion backend.
// This file contains error classification and handling.

package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// ErrAborted is the terminal state of a generation the user cancelled.
// It is not a failure and never surfaces as an error notice.
var ErrAborted = errors.New("stream: aborted")

// FailureKind names the class of a failed generation.
type FailureKind string

const (
	TransportFailure FailureKind = "transport" // connect, reset, timeout
	ServerFailure    FailureKind = "server"    // non-success HTTP status
	DecodeFailure    FailureKind = "decode"    // malformed or absent body
)

// RetryClass indicates whether an error should be retried.
type RetryClass string

const (
	RetryClassRetryable    RetryClass = "retryable"     // Definitely retry
	RetryClassMaybe        RetryClass = "maybe"         // Retry with caution (limited attempts)
	RetryClassNonRetryable RetryClass = "non_retryable" // Never retry
)

// Error wraps a failed generation with classification metadata.
type Error struct {
	Kind   FailureKind
	Status int    // HTTP status code if applicable
	Code   string // short machine-readable reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failure (%s): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s failure (%s)", e.Kind, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Reason is the value reported in a failed Outcome: the status or error code.
func (e *Error) Reason() string {
	if e.Status != 0 {
		return fmt.Sprintf("status %d", e.Status)
	}
	return e.Code
}

// statusError builds a ServerFailure for a non-success response.
func statusError(status int) *Error {
	return &Error{
		Kind:   ServerFailure,
		Status: status,
		Code:   strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_")),
		Err:    fmt.Errorf("unexpected status %d", status),
	}
}

// transportError builds a TransportFailure, deriving a short code from err.
func transportError(err error, fallback string) *Error {
	return &Error{Kind: TransportFailure, Code: transportCode(err, fallback), Err: err}
}

// decodeError builds a DecodeFailure.
func decodeError(code string) *Error {
	return &Error{Kind: DecodeFailure, Code: code, Err: errors.New("response body missing or malformed")}
}

func transportCode(err error, fallback string) string {
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection_refused"
	case errors.Is(err, syscall.ECONNRESET):
		return "connection_reset"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &dnsErr):
		return "dns"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	}
	return fallback
}

// Classify decides whether a failed connect attempt may be retried.
func Classify(err error) RetryClass {
	if err == nil || errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled) {
		return RetryClassNonRetryable
	}

	var se *Error
	if !errors.As(err, &se) {
		return RetryClassNonRetryable
	}

	switch se.Kind {
	case ServerFailure:
		switch {
		case se.Status == http.StatusTooManyRequests:
			return RetryClassRetryable
		case se.Status == http.StatusRequestTimeout:
			return RetryClassMaybe
		case se.Status >= 500:
			return RetryClassRetryable
		}
		return RetryClassNonRetryable
	case TransportFailure:
		if se.Code == "timeout" {
			return RetryClassMaybe
		}
		return RetryClassRetryable
	}
	// A body that arrived broken will not arrive fixed.
	return RetryClassNonRetryable
}
