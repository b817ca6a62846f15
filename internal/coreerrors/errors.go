// Package coreerrors defines the typed error taxonomy returned by the Core's
// public operations. Every error the Core returns to a caller can be
// unwrapped to one of these types and matched with errors.Is/errors.As.
package coreerrors

import (
	"errors"
	"fmt"
)

// Code identifies the class of failure behind a CoreError.
type Code string

const (
	// InvalidParameter means a caller-supplied argument failed validation
	// before any backend was contacted.
	InvalidParameter Code = "invalid_parameter"
	// NotInitialized means an operation was invoked before Initialize
	// completed, or after Shutdown.
	NotInitialized Code = "not_initialized"
	// KeyNotFound means no record exists for the requested key id.
	KeyNotFound Code = "key_not_found"
	// KeyNotActive means the key exists but its lifecycle state forbids
	// the requested operation.
	KeyNotActive Code = "key_not_active"
	// BackendUnavailable means the configured protector backend (HSM, KMS,
	// or local) could not be reached or rejected the request.
	BackendUnavailable Code = "backend_unavailable"
	// StorageFailure means the key store could not read or write a record.
	StorageFailure Code = "storage_failure"
	// PrimitiveFailure means the underlying Kyber/Dilithium primitive
	// rejected an operation (malformed ciphertext, signature mismatch,
	// wrong capability for the algorithm).
	PrimitiveFailure Code = "primitive_failure"
	// ConcurrencyConflict means a per-key lock could not be acquired, or a
	// compare-and-swap on key state lost a race.
	ConcurrencyConflict Code = "concurrency_conflict"
)

// CoreError is the single error type returned by pkg/core operations. Field
// Code is stable across releases and safe to switch on; Message is for
// humans; Err, when present, is the underlying cause and is returned from
// Unwrap so errors.Is/errors.As continue to work through it.
type CoreError struct {
	Code    Code
	KeyID   string
	Op      string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.KeyID != "" {
		return fmt.Sprintf("%s: %s (key=%s): %s", e.Op, e.Code, e.KeyID, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// Is supports errors.Is(err, coreerrors.New(coreerrors.KeyNotFound, "", ""))
// style comparisons by treating the Code as the comparable identity
// whenever the target is a *CoreError, whether or not either side wraps a
// cause.
func (e *CoreError) Is(target error) bool {
	var other *CoreError
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// New constructs a CoreError with no underlying cause.
func New(code Code, op, message string) *CoreError {
	return &CoreError{Code: code, Op: op, Message: message}
}

// Wrap constructs a CoreError around an underlying cause.
func Wrap(code Code, op string, err error) *CoreError {
	if err == nil {
		return nil
	}
	return &CoreError{Code: code, Op: op, Message: err.Error(), Err: err}
}

// WithKey attaches a key id to an existing CoreError and returns it, for
// chaining at the call site: `return coreerrors.New(...).WithKey(id)`.
func (e *CoreError) WithKey(keyID string) *CoreError {
	e.KeyID = keyID
	return e
}

// CodeOf extracts the Code from err if it is, or wraps, a *CoreError. The
// second return is false for any other error shape.
func CodeOf(err error) (Code, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return "", false
}
