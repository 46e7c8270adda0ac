// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

// Package obs provides the observability buffer: a bounded ring of
// recent event records used for admin monitoring and for replaying
// history to subscribers on connect, plus a live subscription feed.
package obs

import (
	"fmt"

	orchestrator "github.com/GolferGeek/orchestrator-ai-v2-sub005"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/event"
)

// User-facing record kinds. Records of any other kind are
// observability-only: they are retained for monitoring but never
// delivered to a subscriber.
const (
	KindProgress = "progress"
	KindComplete = "complete"
	KindError    = "error"
)

// TopicRecord is the topic under which buffer records travel on live
// subscription feeds.
const TopicRecord event.Topic = "observability.record"

// Record is a flattened copy of one emission. User-facing records
// carry the full protocol envelope in Payload; observability-only
// records leave it nil.
type Record struct {
	Context          *orchestrator.EventContext `json:"context"`
	Source           string                     `json:"source"`
	EventType        string                     `json:"eventType"`
	Status           string                     `json:"status,omitzero"`
	Message          string                     `json:"message,omitzero"`
	Progress         *int                       `json:"progress,omitzero"`
	Step             string                     `json:"step,omitzero"`
	Payload          any                        `json:"payload,omitzero"`
	TimestampEpochMs int64                      `json:"timestampEpochMs"`
}

// UserFacing reports whether the record corresponds to a frame that
// may be delivered to a subscriber.
func (r *Record) UserFacing() bool {
	switch r.EventType {
	case KindProgress, KindComplete, KindError:
		return r.Payload != nil
	default:
		return false
	}
}

// Terminal reports whether the record is of a terminal kind
// (complete or error).
func (r *Record) Terminal() bool {
	return r.EventType == KindComplete || r.EventType == KindError
}

// RecordEvent wraps a Record for delivery on a live feed queue.
type RecordEvent struct {
	Record *Record
}

var _ event.Event = (*RecordEvent)(nil)

// EventTopic returns the topic for RecordEvent.
func (e *RecordEvent) EventTopic() event.Topic {
	return TopicRecord
}

// EventData returns the underlying record.
func (e *RecordEvent) EventData() any {
	return e.Record
}

// Validate ensures the RecordEvent is valid.
func (e *RecordEvent) Validate() error {
	if e.Record == nil {
		return fmt.Errorf("record event record cannot be nil")
	}
	if e.Record.Context == nil {
		return fmt.Errorf("record event context cannot be nil")
	}
	return nil
}

// String returns a string representation of the RecordEvent.
func (e *RecordEvent) String() string {
	if e.Record == nil {
		return "RecordEvent{Record: nil}"
	}
	taskID := ""
	if e.Record.Context != nil {
		taskID = e.Record.Context.TaskID
	}
	return fmt.Sprintf("RecordEvent{TaskID: %s, EventType: %s}", taskID, e.Record.EventType)
}
