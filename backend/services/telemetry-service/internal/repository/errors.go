package repository

import (
	"errors"
	"fmt"

	"voltlink/backend/libs/db"
)

// Storage-level sentinels shared by every store implementation.
var (
	// ErrNotFound indicates a missing row or key.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates an insert collided with an existing primary or unique key.
	ErrDuplicate = errors.New("duplicate key")
	// ErrTransient marks failures that may succeed when retried (timeouts, connection loss).
	ErrTransient = errors.New("transient storage failure")
)

// classify tags a driver error with the storage sentinel callers branch on.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%s: %w: %w", op, ErrDuplicate, err)
	case db.IsTransient(err):
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
