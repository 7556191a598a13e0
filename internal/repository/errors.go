package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert would break a uniqueness rule,
// e.g. a second adherence log for the same occurrence.
var ErrConflict = errors.New("conflict")

// RemoteOperationError is a store failure that is not a conflict or a miss.
// It keeps the driver error for diagnostics.
type RemoteOperationError struct {
	Op  string
	Err error
}

func (e *RemoteOperationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteOperationError) Unwrap() error { return e.Err }

// wrap classifies a gorm error for callers above the repository.
func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	default:
		return &RemoteOperationError{Op: op, Err: err}
	}
}
