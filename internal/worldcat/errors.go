// Package worldcat provides an HTTP client for the WorldCat Metadata API
// with OAuth2 token lifecycle management, transaction-ID tagging, and error
// classification.
package worldcat

import (
	"errors"
	"fmt"
)

// ErrAuthExpired signals that the service rejected the access token as
// expired. The token manager recovers from this exactly once per request.
// Use errors.Is to check.
var ErrAuthExpired = errors.New("worldcat: access token expired")

// HTTPError is a non-2xx response from the Metadata API, carrying the status
// and body for the error rows and logs.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("worldcat: HTTP %d: %s", e.StatusCode, e.Body)
}

// ConnectionError wraps a transport-level failure (connection refused, DNS,
// timeout). These halt batch processing the same way HTTP errors do.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("worldcat: connection error: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
