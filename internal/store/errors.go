package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an operation names an id the store does not hold.
var ErrNotFound = errors.New("note not found")

// StorageError reports a failure of the underlying database. The operation
// that failed has not been applied.
type StorageError struct {
	Op  string
	ID  int64
	Err error
}

func (e *StorageError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("store: %s note %d: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, id int64, err error) error {
	return &StorageError{Op: op, ID: id, Err: err}
}
