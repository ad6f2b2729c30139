package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// ErrMissingCredential is returned when no API key is configured for the
// selected provider.
var ErrMissingCredential = errors.New("generation credential is not configured")

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// AuthError means the provider rejected the credential.
type AuthError struct {
	err error
}

func (e *AuthError) Error() string {
	return e.err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.err
}

func NewAuthError(err error) error {
	return &AuthError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

func IsAuth(err error) bool {
	var auth *AuthError
	return errors.As(err, &auth)
}

// classifyStatus maps an HTTP status from a provider onto the error classes.
// Statuses that are neither transient nor auth failures are returned as is.
func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return NewTransientError(err)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return NewAuthError(err)
	default:
		return err
	}
}

// classifyGeneric catches transport-level failures and the message-only
// signals some providers use for quota and key problems.
func classifyGeneric(err error) error {
	if err == nil || IsTransient(err) || IsAuth(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewTransientError(err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota"), strings.Contains(msg, "rate limit"):
		return NewTransientError(err)
	case strings.Contains(msg, "api key"), strings.Contains(msg, "api_key"):
		return NewAuthError(err)
	}
	return err
}
