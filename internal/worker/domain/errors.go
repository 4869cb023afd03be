package domain

import (
	"errors"
	"fmt"
)

// ErrNoJobAvailable is returned when the queue has no pending job to lease.
// This is a normal, expected outcome and must never reach the
// failure-reporting path.
var ErrNoJobAvailable = errors.New("no job available")

// AuthError reports a failed login or an unrecoverable credential expiry
// (one that survived a re-login and retry).
type AuthError struct {
	Op     string
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: authentication failed (status %d): %s", e.Op, e.Status, e.Err.Error())
	}
	return fmt.Sprintf("%s: authentication failed (status %d)", e.Op, e.Status)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError creates a new authentication error
func NewAuthError(op string, status int, err error) error {
	return &AuthError{Op: op, Status: status, Err: err}
}

// IsAuthError reports whether err is or wraps an AuthError. The worker loop
// uses it to decide between a forced re-login and a plain backoff.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// TransportError reports a non-2xx response from the queue API that is not
// otherwise classified.
type TransportError struct {
	Op     string
	Status int
	Body   string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}

// NewTransportError creates a new transport error
func NewTransportError(op string, status int, body string) error {
	return &TransportError{Op: op, Status: status, Body: body}
}
