package model

import (
	"errors"
	"fmt"
	"strings"
)

// Error represents a refresh failure with a machine-readable code.
//
// Refresh errors include:
//   - Validation: malformed imported representation, rejected before any node exists
//   - Cycle: derived/provided graph would reference itself
//   - Conflict: removal of an entity still referenced by an active pool
//   - Not found: an ID cannot be resolved by a mapper
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// EntityType is the type of the offending entity, if known.
	EntityType EntityType

	// EntityID is the business ID of the offending entity, if known.
	EntityID string

	// Chain is the ID path of a cycle, first element repeated at the end.
	Chain []string

	// Details contains additional context (pool ids, owner, field).
	Details map[string]string
}

// ErrorCode categorizes refresh errors.
type ErrorCode string

const (
	// ErrCodeValidation indicates a malformed imported representation.
	ErrCodeValidation ErrorCode = "VALIDATION_FAILED"

	// ErrCodeCycleDetected indicates a derived/provided reference cycle.
	ErrCodeCycleDetected ErrorCode = "CYCLE_DETECTED"

	// ErrCodeConflict indicates an entity is still in use by an active pool.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeNotFound indicates an ID unknown to both the owner and the import.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.EntityID != "" {
		fmt.Fprintf(&b, " (%s=%s)", e.EntityType, e.EntityID)
	}
	if len(e.Chain) > 0 {
		fmt.Fprintf(&b, " [chain: %s]", strings.Join(e.Chain, " -> "))
	}
	return b.String()
}

// NewValidationError creates an Error for a malformed imported entity.
func NewValidationError(typ EntityType, id, field, message string) *Error {
	return &Error{
		Code:       ErrCodeValidation,
		Message:    message,
		EntityType: typ,
		EntityID:   id,
		Details:    map[string]string{"field": field},
	}
}

// NewCycleError creates an Error naming the offending ID chain.
func NewCycleError(typ EntityType, id string, chain []string) *Error {
	return &Error{
		Code:       ErrCodeCycleDetected,
		Message:    "reference cycle detected",
		EntityType: typ,
		EntityID:   id,
		Chain:      append([]string(nil), chain...),
	}
}

// NewConflictError creates an Error for an entity still referenced by pools.
func NewConflictError(typ EntityType, id, owner string, poolIDs []string) *Error {
	return &Error{
		Code:       ErrCodeConflict,
		Message:    "entity is referenced by an active pool",
		EntityType: typ,
		EntityID:   id,
		Details: map[string]string{
			"owner": owner,
			"pools": strings.Join(poolIDs, ","),
		},
	}
}

// NewNotFoundError creates an Error for an ID no mapper knows about.
func NewNotFoundError(typ EntityType, id string) *Error {
	return &Error{
		Code:       ErrCodeNotFound,
		Message:    "no existing or imported entity with this id",
		EntityType: typ,
		EntityID:   id,
	}
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsValidationError returns true if err, or any error it joins or wraps,
// is a validation error.
func IsValidationError(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

// IsCycleError returns true if the error is a cycle detection error.
// Uses errors.As to handle wrapped errors.
func IsCycleError(err error) bool {
	return hasCode(err, ErrCodeCycleDetected)
}

// IsConflictError returns true if the error is a pool conflict error.
func IsConflictError(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsNotFoundError returns true if the error is a not-found error.
func IsNotFoundError(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// CodeOf returns the code of the first *Error in err's tree, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
