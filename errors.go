// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"fmt"
)

// TaskNotFoundError indicates a lookup for a task that is not present
// in the store, either because it never existed, was evicted, or is not
// owned by the requesting user.
type TaskNotFoundError struct {
	TaskID string
}

// Error returns the error message.
func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.TaskID)
}

// TaskExistsError indicates an attempt to create a task whose ID is
// already tracked.
type TaskExistsError struct {
	TaskID string
}

// Error returns the error message.
func (e *TaskExistsError) Error() string {
	return fmt.Sprintf("task %s already exists", e.TaskID)
}

// SessionNotFoundError indicates a lookup for a session that is not
// registered.
type SessionNotFoundError struct {
	SessionID string
}

// Error returns the error message.
func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.SessionID)
}

// ValidationError wraps a validation failure on a caller-supplied value.
type ValidationError struct {
	Field string
	Err   error
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}
