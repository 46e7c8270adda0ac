// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"fmt"
	"time"
)

// TaskStatus is the authoritative record of one active task. A record
// exists only while the task is active or within its post-terminal
// retention window, and is owned exclusively by UserID: every read and
// write must check ownership.
type TaskStatus struct {
	TaskID    string         `json:"taskId"`
	UserID    string         `json:"userId"`
	Status    TaskState      `json:"status"`
	Progress  int            `json:"progress"`
	Result    map[string]any `json:"result,omitzero"`
	Error     string         `json:"error,omitzero"`
	Metadata  map[string]any `json:"metadata,omitzero"`
	TaskType  TaskType       `json:"taskType"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Validate ensures the task status record is well formed.
func (ts *TaskStatus) Validate() error {
	if ts.TaskID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if ts.UserID == "" {
		return fmt.Errorf("user ID cannot be empty")
	}
	if ts.Progress < 0 || ts.Progress > 100 {
		return fmt.Errorf("progress %d out of range [0, 100]", ts.Progress)
	}
	return nil
}

// IsTerminal reports whether the task has reached a terminal state.
func (ts *TaskStatus) IsTerminal() bool {
	return IsTerminalTaskState(ts.Status)
}

// Clone returns a deep copy of the task status record.
func (ts *TaskStatus) Clone() *TaskStatus {
	if ts == nil {
		return nil
	}
	clone := *ts
	clone.Result = cloneMap(ts.Result)
	clone.Metadata = cloneMap(ts.Metadata)
	return &clone
}

// StatusPatch is a partial update applied to a TaskStatus record. Nil
// fields are left unchanged by the merge.
type StatusPatch struct {
	Status   *TaskState     `json:"status,omitzero"`
	Progress *int           `json:"progress,omitzero"`
	Result   map[string]any `json:"result,omitzero"`
	Error    *string        `json:"error,omitzero"`
	Metadata map[string]any `json:"metadata,omitzero"`
}

// IsZero reports whether the patch carries no changes.
func (p StatusPatch) IsZero() bool {
	return p.Status == nil && p.Progress == nil && p.Result == nil &&
		p.Error == nil && p.Metadata == nil
}

// ClampProgress bounds a progress value to the [0, 100] range.
func ClampProgress(progress int) int {
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	clone := make(map[string]any, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}
