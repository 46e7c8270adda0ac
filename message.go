// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"fmt"
	"time"
)

// TaskMessage is a progress or status entry appended to a task's recent
// message log. Messages are never mutated after creation; they are
// removed lazily once ExpiresAt has passed, or together with the task
// record at eviction.
type TaskMessage struct {
	ID                 string         `json:"id"`
	TaskID             string         `json:"taskId"`
	Content            string         `json:"content"`
	MessageType        MessageType    `json:"messageType"`
	ProgressPercentage *int           `json:"progressPercentage,omitzero"`
	Metadata           map[string]any `json:"metadata,omitzero"`
	CreatedAt          time.Time      `json:"createdAt"`
	ExpiresAt          time.Time      `json:"expiresAt"`
}

// Validate ensures the message is well formed.
func (m *TaskMessage) Validate() error {
	if m.TaskID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if m.MessageType == "" {
		return fmt.Errorf("message type cannot be empty")
	}
	return nil
}

// Expired reports whether the message TTL has elapsed at the given time.
func (m *TaskMessage) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && !now.Before(m.ExpiresAt)
}

// Clone returns a deep copy of the message.
func (m *TaskMessage) Clone() *TaskMessage {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Metadata = cloneMap(m.Metadata)
	if m.ProgressPercentage != nil {
		p := *m.ProgressPercentage
		clone.ProgressPercentage = &p
	}
	return &clone
}
