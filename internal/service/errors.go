package service

import (
	"errors"
	"fmt"

	"med-reminder/internal/repository"
)

// ErrConflict is the store's answer to a second log for the same occurrence.
// The intended state already exists, so callers treat it as success.
var ErrConflict = repository.ErrConflict

// ErrNotFound means the store has no such row.
var ErrNotFound = repository.ErrNotFound

// ErrMaxRetriesExceeded is returned when every attempt failed without an error
// to report.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// RemoteOperationError is a store rejection that survived every retry.
type RemoteOperationError = repository.RemoteOperationError

// ConnectivityError means the store could not be reached when an attempt began.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("store unreachable: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// SchedulingError is a platform refusal to schedule or cancel a notification.
type SchedulingError struct {
	ID  string
	Err error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("schedule notification %s: %v", e.ID, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }

// MalformedDataError marks one unusable item, e.g. an unknown log status.
type MalformedDataError struct {
	Item   string
	Reason string
}

func (e *MalformedDataError) Error() string {
	return fmt.Sprintf("malformed %s: %s", e.Item, e.Reason)
}

// IsOffline reports whether err came from a failed connectivity probe.
func IsOffline(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}
