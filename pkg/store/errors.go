package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// NotFoundError indicates the requested record does not exist.
// This is a permanent failure; retrying will not help.
type NotFoundError struct {
	Resource string // e.g. "user", "api key", "usage record"
	Key      string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

// TransientError indicates the backing store was unavailable or timed out.
// The operation is safe to retry; webhook deliveries rely on the provider's
// own retry mechanism when the caller surfaces this.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsTransient reports whether err is a TransientError
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// NotFound constructs a NotFoundError
func NotFound(resource, key string) error {
	return &NotFoundError{Resource: resource, Key: key}
}

// Classify wraps a database error as either NotFound or Transient.
// sql.ErrNoRows maps to NotFound; everything else (connection refused,
// context deadline, driver errors) is treated as retryable.
func Classify(op, resource, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{Resource: resource, Key: key}
	}
	return &TransientError{Op: op, Err: err}
}
