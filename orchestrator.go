// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator provides the core types for tracking long-running,
// asynchronously executed tasks and delivering their progress to live
// subscribers. It defines the task lifecycle, the message and session
// records maintained by the server packages, and the event payloads
// exchanged with the execution pipeline.
package orchestrator

import (
	"time"
)

// TaskState represents the lifecycle state of a tracked task.
type TaskState string

const (
	// TaskStatePending indicates the task has been created but not started.
	TaskStatePending TaskState = "pending"

	// TaskStateRunning indicates the task is being worked on.
	TaskStateRunning TaskState = "running"

	// TaskStateHITLWaiting indicates the task is paused waiting for
	// human-in-the-loop input. The task may resume to running.
	TaskStateHITLWaiting TaskState = "hitl_waiting"

	// TaskStateCompleted indicates the task finished successfully.
	TaskStateCompleted TaskState = "completed"

	// TaskStateFailed indicates the task finished with an error.
	TaskStateFailed TaskState = "failed"

	// TaskStateCancelled indicates the task was cancelled.
	TaskStateCancelled TaskState = "cancelled"
)

// IsTerminalTaskState reports whether state ends the active lifecycle.
// Terminal states are absorbing: once reached, a task never transitions
// again and its record is scheduled for eviction.
func IsTerminalTaskState(state TaskState) bool {
	switch state {
	case TaskStateCompleted, TaskStateFailed, TaskStateCancelled:
		return true
	default:
		return false
	}
}

// TaskType classifies a task by its expected lifetime and determines the
// post-terminal retention window of its in-memory record.
type TaskType string

const (
	// TaskTypeEphemeral is a short-lived task (single request/response).
	TaskTypeEphemeral TaskType = "ephemeral"

	// TaskTypeLongRunning is a task expected to run for minutes.
	TaskTypeLongRunning TaskType = "long_running"

	// TaskTypeSwarm is a multi-agent swarm task expected to run for hours.
	TaskTypeSwarm TaskType = "swarm"
)

// Retention delays applied after a task reaches a terminal state, by type.
const (
	EphemeralRetention   = 60 * time.Second
	LongRunningRetention = 900 * time.Second
	SwarmRetention       = 3600 * time.Second
)

// RetentionDelay returns how long a terminal task of this type stays
// readable before eviction. Unknown types fall back to the ephemeral delay.
func (t TaskType) RetentionDelay() time.Duration {
	switch t {
	case TaskTypeLongRunning:
		return LongRunningRetention
	case TaskTypeSwarm:
		return SwarmRetention
	default:
		return EphemeralRetention
	}
}

// MessageType classifies a TaskMessage.
type MessageType string

const (
	MessageTypeProgress MessageType = "progress"
	MessageTypeStatus   MessageType = "status"
	MessageTypeInfo     MessageType = "info"
	MessageTypeWarning  MessageType = "warning"
	MessageTypeError    MessageType = "error"
)
