// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"fmt"
)

// StoreError represents an error from the task status store.
type StoreError struct {
	Operation string
	TaskID    string
	Err       error
}

// Error returns the error message.
func (e StoreError) Error() string {
	return fmt.Sprintf("task store %s operation failed for task %s: %v", e.Operation, e.TaskID, e.Err)
}

// Unwrap returns the underlying error.
func (e StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(operation, taskID string, err error) StoreError {
	return StoreError{
		Operation: operation,
		TaskID:    taskID,
		Err:       err,
	}
}

// MirrorError represents a failure synchronizing a task record to the
// durable mirror. Mirror failures are logged and swallowed: the
// in-memory store remains authoritative.
type MirrorError struct {
	TaskID string
	Err    error
}

// Error returns the error message.
func (e MirrorError) Error() string {
	return fmt.Sprintf("durable mirror sync failed for task %s: %v", e.TaskID, e.Err)
}

// Unwrap returns the underlying error.
func (e MirrorError) Unwrap() error {
	return e.Err
}
