package service

import (
	"errors"
	"fmt"

	"ticket_desk/internal/backend"
)

var (
	// ErrEmptyInput is returned for a blank scan. Callers ignore it.
	ErrEmptyInput = errors.New("empty input")

	// ErrBusy is returned when a check is already outstanding and the
	// scan cannot wait for it.
	ErrBusy = errors.New("scan already in progress")

	// ErrConfigChanged rejects a sync pass write after the event
	// configuration it was started for has been replaced or reset.
	ErrConfigChanged = backend.ErrEventChanged

	errInvalidTimeRange = errors.New("invalid time range: From must be <= To")
)

// PersistenceError means a configuration change could not be made
// durable. The store is in an indeterminate state and the whole
// mutation has to be retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SyncError wraps a failed synchronization pass.
type SyncError struct {
	Err error
}

func (e *SyncError) Error() string {
	return "sync failed: " + e.Err.Error()
}

func (e *SyncError) Unwrap() error { return e.Err }

// CheckProviderError is a transport or timeout failure while checking a
// code. It is turned into an ERROR result, never returned to callers.
type CheckProviderError struct {
	Code string
	Err  error
}

func (e *CheckProviderError) Error() string {
	return fmt.Sprintf("check %q: %v", e.Code, e.Err)
}

func (e *CheckProviderError) Unwrap() error { return e.Err }
