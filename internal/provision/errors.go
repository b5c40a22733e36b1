package provision

import (
	"errors"
	"fmt"

	"github.com/isometry/dirprov/internal/directory"
)

// ErrNotFound is returned by operations that require an existing
// entity; plain lookups return nil instead.
var ErrNotFound = errors.New("no such entry")

// ErrTooManyResults marks a search that overflowed its size limit, so
// callers can distinguish a truncated listing from a transport fault.
var ErrTooManyResults = errors.New("too many search results")

// AuthFailure covers wrong credentials and accounts that are not in a
// loginable state. It is raised to the caller and never retried.
type AuthFailure struct {
	Account string
	Reason  string
	Cause   error
}

func (e *AuthFailure) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("authentication failed for %s: %s: %v", e.Account, e.Reason, e.Cause)
	}
	return fmt.Sprintf("authentication failed for %s: %s", e.Account, e.Reason)
}

func (e *AuthFailure) Unwrap() error { return e.Cause }

// ErrMustChangePassword is returned from a successful credential check
// on an account flagged for forced password change.
var ErrMustChangePassword = errors.New("password must be changed")

// ErrMaintenanceMode is returned when an account's status forbids
// login entirely.
var ErrMaintenanceMode = errors.New("account is in maintenance mode")

// ConfigError marks a malformed or missing configuration attribute.
// It aborts the enclosing operation immediately.
type ConfigError struct {
	Attr string
	Msg  string
}

func (e *ConfigError) Error() string {
	if e.Attr != "" {
		return fmt.Sprintf("configuration error: %s: %s", e.Attr, e.Msg)
	}
	return "configuration error: " + e.Msg
}

// IsNotFound reports whether err represents an absent entry, from
// either this package or the directory layer.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || directory.IsNotFound(err)
}

// IsAuthFailure reports whether err represents a failed credential
// check or a non-loginable account state.
func IsAuthFailure(err error) bool {
	var af *AuthFailure
	return errors.As(err, &af) || directory.IsAuthFailure(err)
}
