package transport

import (
	"errors"
	"fmt"

	"github.com/iudanet/casesync/internal/models"
)

// ErrOffline indicates that the transport is known to be unreachable
var ErrOffline = errors.New("transport offline")

// TransientError marks a failure worth retrying: network errors,
// timeouts, 5xx responses, an open circuit breaker. The dispatcher
// absorbs these with backoff and never surfaces them until the retry
// cap is exceeded.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient network error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError marks a permanent rejection by the server. It is
// surfaced immediately and never retried.
type ValidationError struct {
	Message string
	Code    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ConflictError reports a server-side version mismatch. It carries the
// server's current snapshot so the resolver can record both sides.
type ConflictError struct {
	Remote      *models.Snapshot
	BaseVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: base %d, remote %d",
		e.Remote.Key(), e.BaseVersion, e.Remote.Version)
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te) || errors.Is(err, ErrOffline)
}

// AsConflict extracts a ConflictError from err, if any.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// AsValidation extracts a ValidationError from err, if any.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
