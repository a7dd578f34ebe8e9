// Package errors provides structured error types for the collab kit.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies the failure so callers can branch without string matching.
type Kind string

const (
	KindNetwork    Kind = "NETWORK"
	KindValidation Kind = "VALIDATION"
	KindConflict   Kind = "CONFLICT"
	KindPermission Kind = "PERMISSION"
	KindStorage    Kind = "STORAGE"
	KindTimeout    Kind = "TIMEOUT"
	KindInvalid    Kind = "INVALID"
)

// Op names the operation during which the error occurred (e.g. "detector.DetectConflict").
type Op string

// Component names the component that generated the error (e.g. "conflict", "transport").
type Component string

// KitError represents an error that occurred inside the collab kit.
type KitError struct {
	// Operation during which the error occurred
	Op Op

	// Component that generated the error
	Component Component

	// Kind of failure
	Kind Kind

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Metadata for additional context
	Metadata map[string]interface{}

	// Optional human-readable annotations collected by E
	Notes []string
}

func (e *KitError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s failed", e.Op)
	}

	if e.Kind != "" {
		msg += fmt.Sprintf(" [%s]", e.Kind)
	}

	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}

	for _, n := range e.Notes {
		msg += " (" + n + ")"
	}

	return msg
}

func (e *KitError) Unwrap() error {
	return e.Err
}

// E builds a KitError from a list of arguments. Each argument is placed by
// type: Op, Component, Kind, error, string annotation, bool retryable,
// map[string]interface{} metadata.
func E(args ...interface{}) *KitError {
	e := &KitError{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = a
		case Component:
			e.Component = a
		case Kind:
			e.Kind = a
		case *KitError:
			e.Err = a
			if e.Kind == "" {
				e.Kind = a.Kind
			}
		case error:
			e.Err = a
		case string:
			e.Notes = append(e.Notes, a)
		case bool:
			e.Retryable = a
		case map[string]interface{}:
			e.Metadata = a
		}
	}
	return e
}

// NewNetworkError creates a retryable network-related KitError.
func NewNetworkError(op Op, cause error) *KitError {
	return &KitError{Op: op, Component: "transport", Kind: KindNetwork, Err: cause, Retryable: true}
}

// NewValidationError creates a validation-related KitError.
func NewValidationError(op Op, cause error) *KitError {
	return &KitError{Op: op, Kind: KindValidation, Err: cause}
}

// NewConflictError creates a conflict-related KitError.
func NewConflictError(op Op, cause error) *KitError {
	return &KitError{Op: op, Component: "conflict", Kind: KindConflict, Err: cause}
}

// NewPermissionError creates a permission-related KitError. Kept distinct from
// merge failures so callers can prompt for different authorization.
func NewPermissionError(op Op, cause error) *KitError {
	return &KitError{Op: op, Component: "resolve", Kind: KindPermission, Err: cause}
}

// NewTimeoutError creates a retryable timeout-related KitError.
func NewTimeoutError(op Op, cause error) *KitError {
	return &KitError{Op: op, Kind: KindTimeout, Err: cause, Retryable: true}
}

// NewStorageError creates a retryable storage-related KitError.
func NewStorageError(op Op, cause error) *KitError {
	return &KitError{Op: op, Component: "storage", Kind: KindStorage, Err: cause, Retryable: true}
}

// IsRetryable reports whether err is a retryable KitError.
func IsRetryable(err error) bool {
	var ke *KitError
	if errors.As(err, &ke) {
		return ke.Retryable
	}
	return false
}

// IsKind reports whether err is a KitError of the given kind.
func IsKind(err error, kind Kind) bool {
	var ke *KitError
	if errors.As(err, &ke) {
		return ke.Kind == kind
	}
	return false
}
