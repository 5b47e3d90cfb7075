// Package garmin provides an HTTP client for Garmin Connect: the SSO login
// state machine, the OAuth1 to OAuth2 token exchange, an in-memory token
// store, and activity file upload with result classification.
package garmin

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, garmin.ErrUnauthorized) to check.
var (
	ErrBadRequest   = errors.New("garmin: bad request")
	ErrUnauthorized = errors.New("garmin: unauthorized")
	ErrForbidden    = errors.New("garmin: forbidden")
	ErrNotFound     = errors.New("garmin: not found")
	ErrConflict     = errors.New("garmin: conflict")
	ErrThrottled    = errors.New("garmin: throttled")
	ErrServerError  = errors.New("garmin: server error")
)

// Sentinel errors for the authentication flow.
var (
	// ErrAuthFailed covers bad credentials and unexpected SSO markup.
	ErrAuthFailed = errors.New("garmin: authentication failed")

	// ErrExchangeFailed is returned when the ticket -> OAuth1 -> OAuth2
	// exchange cannot complete.
	ErrExchangeFailed = errors.New("garmin: token exchange failed")

	// ErrNoPendingMFA is a state error: CompleteMFA was called without a
	// preceding Authenticate that ended in an MFA challenge.
	ErrNoPendingMFA = errors.New("garmin: no pending MFA challenge")

	// ErrNoToken is returned by TokenStore.Current when nothing is stored.
	ErrNoToken = errors.New("garmin: no token")

	// ErrContinuationNotFound means the SSO page carried no CSRF value.
	ErrContinuationNotFound = errors.New("garmin: continuation token not found")

	// ErrTicketNotFound means a "Success" page carried no service ticket.
	ErrTicketNotFound = errors.New("garmin: service ticket not found")
)

// APIError wraps a sentinel error with the HTTP status code and the
// response body for debugging.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("garmin: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ClientError is raised by the authentication flow when a step fails. Op names
// the step ("signin", "mfa", "oauth1", "oauth2"); Diagnostic carries the raw
// detail the server gave us (page title, response body excerpt). Never
// contains credentials or tokens.
type ClientError struct {
	Op         string
	Diagnostic string
	Err        error
}

func (e *ClientError) Error() string {
	if e.Diagnostic != "" {
		return fmt.Sprintf("garmin: %s: %v (%s)", e.Op, e.Err, e.Diagnostic)
	}

	return fmt.Sprintf("garmin: %s: %v", e.Op, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a dedicated sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
