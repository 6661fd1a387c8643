package loom

import (
	"errors"
	"fmt"
)

// Standard sentinel errors.
var (
	// ErrNotFound is returned when a query that expects a record finds none.
	ErrNotFound = errors.New("loom: record not found")
)

// ConstructionError reports a malformed builder or changeset construction:
// an unknown field or association, or a value whose Go type does not match
// the field's semantic type. It surfaces at the call site and never reaches
// storage.
type ConstructionError struct {
	Schema  string
	Field   string
	Message string
}

// Error returns the error string.
func (e *ConstructionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("loom: %s.%s: %s", e.Schema, e.Field, e.Message)
	}
	return fmt.Sprintf("loom: %s: %s", e.Schema, e.Message)
}

// IsConstruction returns true if the error is a ConstructionError.
func IsConstruction(err error) bool {
	var e *ConstructionError
	return errors.As(err, &e)
}

// NotFoundError represents a missing record for a specific schema.
type NotFoundError struct {
	Label string
	ID    interface{}
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("loom: %s not found (id=%v)", e.Label, e.ID)
	}
	return fmt.Sprintf("loom: %s not found", e.Label)
}

// Is reports whether the target matches ErrNotFound, so that
// errors.Is(err, ErrNotFound) holds for any NotFoundError.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// IsNotFound returns true if the error is a not-found error.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// StorageError wraps a failure of the external storage executor. It is
// distinct from validation failure: callers must be able to tell "your input
// was invalid" apart from "the system failed to persist valid input".
// Storage failures are fatal for the call and never retried by the core.
type StorageError struct {
	Op  string // "query", "insert", "update"
	Err error
}

// Error returns the error string.
func (e *StorageError) Error() string {
	return fmt.Sprintf("loom: storage %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying executor error.
func (e *StorageError) Unwrap() error { return e.Err }

// IsStorage returns true if the error is a StorageError.
func IsStorage(err error) bool {
	var e *StorageError
	return errors.As(err, &e)
}

// WrapStorage wraps err in a StorageError unless it already is one.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *StorageError
	if errors.As(err, &e) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
