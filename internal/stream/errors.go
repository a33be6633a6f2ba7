package stream

import (
	"fmt"
	"net/http"
)

// ErrorCategory classifies how a streaming exchange failed.
type ErrorCategory string

const (
	// ErrorTransport is a network failure before or while reading a response.
	ErrorTransport ErrorCategory = "transport_error"
	// ErrorRateLimited is an HTTP 429 from the feedback service.
	ErrorRateLimited ErrorCategory = "rate_limited"
	// ErrorServer is an HTTP 5xx from the feedback service.
	ErrorServer ErrorCategory = "server_error"
	// ErrorAuth is an HTTP 401 or 403 from the feedback service.
	ErrorAuth ErrorCategory = "auth_error"
	// ErrorStream is an explicit error frame received mid-stream.
	ErrorStream ErrorCategory = "stream_error"
	// ErrorUnknown covers any other non-2xx status.
	ErrorUnknown ErrorCategory = "unknown"
)

// Error is the terminal failure of a streaming exchange. Partial holds
// whatever display text was accumulated before the failure so the caller
// can still show what arrived.
type Error struct {
	Category  ErrorCategory
	Message   string
	Partial   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// classifyStatus maps a non-2xx HTTP status to an error category and
// user-facing copy. Rate limiting and auth failures get actionable copy;
// everything else falls back to a generic retry prompt.
func classifyStatus(status int) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return &Error{
			Category:  ErrorRateLimited,
			Message:   "You're sending requests too quickly. Wait a moment and try again.",
			Retryable: true,
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{
			Category:  ErrorAuth,
			Message:   "Your session is no longer valid. Sign in again to continue.",
			Retryable: false,
		}
	case status >= 500:
		return &Error{
			Category:  ErrorServer,
			Message:   "The feedback service hit an internal error. Try again shortly.",
			Retryable: true,
		}
	default:
		return &Error{
			Category:  ErrorUnknown,
			Message:   "Something went wrong while requesting feedback. Please try again.",
			Retryable: true,
		}
	}
}
