package model

import (
	"errors"
	"fmt"
)

// The engine classifies every failure into one of four categories. Callers
// branch on the category, never on transport details.

// ValidationError reports a malformed entity rejected before enqueue.
// It is returned synchronously to the caller and never sent to the remote
// service.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// TransientNetworkError reports an unreachable or timed-out remote call.
// The affected queue item stays pending/failed and is retried with backoff.
type TransientNetworkError struct {
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network error: %v", e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// RemoteRejectedError reports that the remote service rejected an operation
// with a status code. Retries are bounded; after the budget is exhausted
// the item surfaces as a persistent error state.
type RemoteRejectedError struct {
	StatusCode int
	Message    string
}

func (e *RemoteRejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote rejected request (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("remote rejected request (status %d): %s", e.StatusCode, e.Message)
}

// StorageError reports a local persistence failure. It is fatal for the
// current operation; the operation is never marked synced.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// FailureKind is the aggregate cause category surfaced to the UI layer via
// the observable sync state.
type FailureKind string

const (
	// FailureNone means the last cycle succeeded.
	FailureNone FailureKind = ""
	// FailureNetwork covers unreachable/timeout errors.
	FailureNetwork FailureKind = "network"
	// FailureRemote covers remote rejections and conflicts.
	FailureRemote FailureKind = "remote"
	// FailureValidation covers local validation failures.
	FailureValidation FailureKind = "validation"
	// FailureStorage covers local persistence failures.
	FailureStorage FailureKind = "storage"
)

// Classify maps an error to its failure category.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var ve *ValidationError
	var ne *TransientNetworkError
	var re *RemoteRejectedError
	var se *StorageError
	switch {
	case errors.As(err, &ve):
		return FailureValidation
	case errors.As(err, &ne):
		return FailureNetwork
	case errors.As(err, &re):
		return FailureRemote
	case errors.As(err, &se):
		return FailureStorage
	default:
		return FailureNetwork
	}
}

// IsTransient reports whether the error is worth retrying automatically.
func IsTransient(err error) bool {
	var ne *TransientNetworkError
	return errors.As(err, &ne)
}
