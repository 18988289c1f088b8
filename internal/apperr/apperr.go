// Package apperr defines the error kinds surfaced by Orquestrix operations.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError reports input rejected before any remote call is made.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Msg
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

// Invalid returns a ValidationError for field.
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// SyncError wraps a failed remote call with the resource kind it concerned.
type SyncError struct {
	Kind string // assistant, vector_store, file, response, worker
	Op   string
	Err  error
}

func (e *SyncError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("sync %s: %s failed", e.Kind, e.Op)
	}
	return fmt.Sprintf("sync %s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Sync wraps err as a SyncError. A nil err yields a SyncError describing a
// remote call that reported failure without an error value.
func Sync(kind, op string, err error) error {
	return &SyncError{Kind: kind, Op: op, Err: err}
}

// NotFoundError reports a missing local row.
type NotFoundError struct {
	Kind string
	ID   interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: not found: %v", e.Kind, e.ID)
}

// NotFound returns a NotFoundError.
func NotFound(kind string, id interface{}) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsSync reports whether err wraps a SyncError.
func IsSync(err error) bool {
	var s *SyncError
	return errors.As(err, &s)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}
