// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"fmt"
)

// Correlation identifies the execution stream an event belongs to. The
// session registry resolves a correlation to a live session by exact
// StreamID match first, falling back to the conversation key derived
// from the organization/agent/conversation triple.
type Correlation struct {
	StreamID         string `json:"streamId,omitzero"`
	AgentSlug        string `json:"agentSlug"`
	OrganizationSlug string `json:"organizationSlug,omitzero"`
	ConversationID   string `json:"conversationId,omitzero"`
	Mode             string `json:"mode,omitzero"`
}

// ChunkPayload carries the content of a single progress chunk produced
// by the execution pipeline.
type ChunkPayload struct {
	Type     string         `json:"type,omitzero"`
	Content  string         `json:"content,omitzero"`
	Metadata map[string]any `json:"metadata,omitzero"`
}

// StreamChunk is the payload of a stream.chunk event.
type StreamChunk struct {
	Correlation
	Chunk ChunkPayload `json:"chunk"`
}

// Validate ensures the chunk event is well formed.
func (c *StreamChunk) Validate() error {
	if c.AgentSlug == "" {
		return fmt.Errorf("agent slug cannot be empty")
	}
	return nil
}

// StreamComplete is the payload of a stream.complete event.
type StreamComplete struct {
	Correlation
	UserMessage string `json:"userMessage,omitzero"`
}

// Validate ensures the complete event is well formed.
func (c *StreamComplete) Validate() error {
	if c.AgentSlug == "" {
		return fmt.Errorf("agent slug cannot be empty")
	}
	return nil
}

// StreamFailure is the payload of a stream.error event.
type StreamFailure struct {
	Correlation
	Error string `json:"error"`
}

// Validate ensures the error event is well formed.
func (f *StreamFailure) Validate() error {
	if f.AgentSlug == "" {
		return fmt.Errorf("agent slug cannot be empty")
	}
	return nil
}

// EventContext identifies the task a user-facing emission or
// observability record refers to.
type EventContext struct {
	TaskID           string `json:"taskId"`
	UserID           string `json:"userId,omitzero"`
	AgentSlug        string `json:"agentSlug,omitzero"`
	OrganizationSlug string `json:"organizationSlug,omitzero"`
	ConversationID   string `json:"conversationId,omitzero"`
}

// TaskNotification is the payload of the task.* lifecycle topics
// published to other subsystems on every status transition.
type TaskNotification struct {
	TaskID           string    `json:"taskId"`
	UserID           string    `json:"userId"`
	Status           TaskState `json:"status"`
	Progress         int       `json:"progress"`
	TaskType         TaskType  `json:"taskType,omitzero"`
	ConversationID   string    `json:"conversationId,omitzero"`
	OrganizationSlug string    `json:"organizationSlug,omitzero"`
	AgentSlug        string    `json:"agentSlug,omitzero"`
	Error            string    `json:"error,omitzero"`
}
