package authclient

import (
	"errors"
	"fmt"
)

// AuthError is returned when a credential exchange fails.
// It is fatal for a sync run and never retried.
type AuthError struct {
	System     string // Name of the remote system, e.g. "port".
	StatusCode int    // 0 if the exchange failed before a response was received.
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: authentication failed with status %d: %s", e.System, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: authentication failed: %v", e.System, e.Err)
	default:
		return fmt.Sprintf("%s: authentication failed", e.System)
	}
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// HTTPError is returned by write and list calls that receive a non-2xx status.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// ErrorBody returns the response body carried by err if it wraps
// an *HTTPError or *AuthError, and "" otherwise.
func ErrorBody(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Body
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Body
	}
	return ""
}
