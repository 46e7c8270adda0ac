// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

// Package event provides the typed event bus and the bounded event
// queues used for live fan-out to subscribers. Handlers are registered
// explicitly against a topic at start-up; dispatch is synchronous and
// never uses reflection.
package event

import (
	"fmt"

	orchestrator "github.com/GolferGeek/orchestrator-ai-v2-sub005"
)

// Topic names an event stream on the bus.
type Topic string

// Topics consumed from the execution pipeline.
const (
	TopicStreamChunk    Topic = "stream.chunk"
	TopicStreamComplete Topic = "stream.complete"
	TopicStreamError    Topic = "stream.error"
)

// Topics produced for other subsystems on task lifecycle transitions.
const (
	TopicTaskStatusChanged Topic = "task.status_changed"
	TopicTaskStarted       Topic = "task.started"
	TopicTaskCompleted     Topic = "task.completed"
	TopicTaskFailed        Topic = "task.failed"
	TopicTaskCancelled     Topic = "task.cancelled"
	TopicTaskHITLWaiting   Topic = "task.hitl_waiting"
)

// LifecycleTopic maps a task state to the lifecycle topic announced
// when a task enters it. The second return value is false for states
// with no dedicated lifecycle topic.
func LifecycleTopic(state orchestrator.TaskState) (Topic, bool) {
	switch state {
	case orchestrator.TaskStateRunning:
		return TopicTaskStarted, true
	case orchestrator.TaskStateCompleted:
		return TopicTaskCompleted, true
	case orchestrator.TaskStateFailed:
		return TopicTaskFailed, true
	case orchestrator.TaskStateCancelled:
		return TopicTaskCancelled, true
	case orchestrator.TaskStateHITLWaiting:
		return TopicTaskHITLWaiting, true
	default:
		return "", false
	}
}

// Event is the unified interface for everything published on the bus
// or carried by an EventQueue.
type Event interface {
	// EventTopic returns the topic the event is published under.
	EventTopic() Topic

	// EventData returns the underlying payload of the event.
	EventData() any

	// Validate ensures the event is in a valid state.
	Validate() error

	// String returns a string representation of the event.
	String() string
}

// ChunkEvent wraps an orchestrator.StreamChunk as a bus event.
type ChunkEvent struct {
	Chunk *orchestrator.StreamChunk
}

var _ Event = (*ChunkEvent)(nil)

// EventTopic returns the topic for ChunkEvent.
func (e *ChunkEvent) EventTopic() Topic {
	return TopicStreamChunk
}

// EventData returns the underlying chunk payload.
func (e *ChunkEvent) EventData() any {
	return e.Chunk
}

// Validate ensures the ChunkEvent is valid.
func (e *ChunkEvent) Validate() error {
	if e.Chunk == nil {
		return fmt.Errorf("chunk event payload cannot be nil")
	}
	return e.Chunk.Validate()
}

// String returns a string representation of the ChunkEvent.
func (e *ChunkEvent) String() string {
	if e.Chunk == nil {
		return "ChunkEvent{Chunk: nil}"
	}
	return fmt.Sprintf("ChunkEvent{StreamID: %s, Agent: %s, Content: %.50s}",
		e.Chunk.StreamID, e.Chunk.AgentSlug, e.Chunk.Chunk.Content)
}

// CompleteEvent wraps an orchestrator.StreamComplete as a bus event.
type CompleteEvent struct {
	Complete *orchestrator.StreamComplete
}

var _ Event = (*CompleteEvent)(nil)

// EventTopic returns the topic for CompleteEvent.
func (e *CompleteEvent) EventTopic() Topic {
	return TopicStreamComplete
}

// EventData returns the underlying completion payload.
func (e *CompleteEvent) EventData() any {
	return e.Complete
}

// Validate ensures the CompleteEvent is valid.
func (e *CompleteEvent) Validate() error {
	if e.Complete == nil {
		return fmt.Errorf("complete event payload cannot be nil")
	}
	return e.Complete.Validate()
}

// String returns a string representation of the CompleteEvent.
func (e *CompleteEvent) String() string {
	if e.Complete == nil {
		return "CompleteEvent{Complete: nil}"
	}
	return fmt.Sprintf("CompleteEvent{StreamID: %s, Agent: %s}",
		e.Complete.StreamID, e.Complete.AgentSlug)
}

// ErrorEvent wraps an orchestrator.StreamFailure as a bus event.
type ErrorEvent struct {
	Failure *orchestrator.StreamFailure
}

var _ Event = (*ErrorEvent)(nil)

// EventTopic returns the topic for ErrorEvent.
func (e *ErrorEvent) EventTopic() Topic {
	return TopicStreamError
}

// EventData returns the underlying failure payload.
func (e *ErrorEvent) EventData() any {
	return e.Failure
}

// Validate ensures the ErrorEvent is valid.
func (e *ErrorEvent) Validate() error {
	if e.Failure == nil {
		return fmt.Errorf("error event payload cannot be nil")
	}
	return e.Failure.Validate()
}

// String returns a string representation of the ErrorEvent.
func (e *ErrorEvent) String() string {
	if e.Failure == nil {
		return "ErrorEvent{Failure: nil}"
	}
	return fmt.Sprintf("ErrorEvent{StreamID: %s, Agent: %s, Error: %.50s}",
		e.Failure.StreamID, e.Failure.AgentSlug, e.Failure.Error)
}

// TaskNotificationEvent wraps an orchestrator.TaskNotification as a bus
// event. The topic is chosen by the publisher: task.status_changed for
// every transition plus the state-specific lifecycle topic.
type TaskNotificationEvent struct {
	Topic        Topic
	Notification *orchestrator.TaskNotification
}

var _ Event = (*TaskNotificationEvent)(nil)

// EventTopic returns the topic for TaskNotificationEvent.
func (e *TaskNotificationEvent) EventTopic() Topic {
	return e.Topic
}

// EventData returns the underlying notification payload.
func (e *TaskNotificationEvent) EventData() any {
	return e.Notification
}

// Validate ensures the TaskNotificationEvent is valid.
func (e *TaskNotificationEvent) Validate() error {
	if e.Topic == "" {
		return fmt.Errorf("task notification topic cannot be empty")
	}
	if e.Notification == nil {
		return fmt.Errorf("task notification payload cannot be nil")
	}
	return nil
}

// String returns a string representation of the TaskNotificationEvent.
func (e *TaskNotificationEvent) String() string {
	if e.Notification == nil {
		return fmt.Sprintf("TaskNotificationEvent{Topic: %s, Notification: nil}", e.Topic)
	}
	return fmt.Sprintf("TaskNotificationEvent{Topic: %s, TaskID: %s, Status: %s}",
		e.Topic, e.Notification.TaskID, e.Notification.Status)
}
