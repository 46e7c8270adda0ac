// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"time"

	"github.com/benbjohnson/clock"

	orchestrator "github.com/GolferGeek/orchestrator-ai-v2-sub005"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/obs"
)

// DefaultSource tags observability records produced by this emitter.
const DefaultSource = "orchestrator"

// ChunkBody is the kind-specific payload of a progress envelope.
type ChunkBody struct {
	Type     string         `json:"type"`
	Content  string         `json:"content,omitzero"`
	Metadata map[string]any `json:"metadata,omitzero"`
}

// Envelope is the stable wrapper around every user-facing emission.
// Exactly one of Chunk (progress) or Type (complete/error) is set.
type Envelope struct {
	Context     *orchestrator.EventContext `json:"context"`
	StreamID    string                     `json:"streamId,omitzero"`
	Mode        string                     `json:"mode,omitzero"`
	UserMessage string                     `json:"userMessage,omitzero"`
	Timestamp   time.Time                  `json:"timestamp"`

	Chunk *ChunkBody `json:"chunk,omitzero"`
	Type  string     `json:"type,omitzero"`
	Error string     `json:"error,omitzero"`
}

// Kind returns the user-facing record kind of the envelope.
func (e *Envelope) Kind() string {
	if e.Chunk != nil {
		return obs.KindProgress
	}
	return e.Type
}

// EmitterConfig holds configuration for an Emitter.
type EmitterConfig struct {
	// Buffer receives a flattened record for every emission.
	Buffer *obs.Buffer

	// Source tags the produced records. Empty means DefaultSource.
	Source string

	// Clock drives envelope timestamps. Nil means the real clock.
	Clock clock.Clock
}

// Emitter formats the three canonical event kinds into the stable
// envelope and records a flattened copy of each into the
// observability buffer, where live feeds pick it up for delivery.
type Emitter struct {
	buffer *obs.Buffer
	source string
	clock  clock.Clock
}

// NewEmitter creates a new protocol emitter.
func NewEmitter(config EmitterConfig) *Emitter {
	source := config.Source
	if source == "" {
		source = DefaultSource
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Emitter{
		buffer: config.Buffer,
		source: source,
		clock:  clk,
	}
}

// EmitProgress publishes a progress chunk envelope.
func (e *Emitter) EmitProgress(ec *orchestrator.EventContext, corr orchestrator.Correlation, content string, metadata map[string]any, progress *int) *Envelope {
	envelope := e.envelope(ec, corr)
	envelope.Chunk = &ChunkBody{
		Type:     obs.KindProgress,
		Content:  content,
		Metadata: metadata,
	}

	record := e.record(ec, obs.KindProgress, string(orchestrator.TaskStateRunning), content, envelope)
	record.Progress = progress
	if metadata != nil {
		record.Step, _ = metadata["step"].(string)
	}
	e.push(record)

	return envelope
}

// EmitComplete publishes a completion envelope.
func (e *Emitter) EmitComplete(ec *orchestrator.EventContext, corr orchestrator.Correlation, userMessage string) *Envelope {
	envelope := e.envelope(ec, corr)
	envelope.Type = obs.KindComplete
	envelope.UserMessage = userMessage

	record := e.record(ec, obs.KindComplete, string(orchestrator.TaskStateCompleted), userMessage, envelope)
	progress := 100
	record.Progress = &progress
	e.push(record)

	return envelope
}

// EmitError publishes an error envelope.
func (e *Emitter) EmitError(ec *orchestrator.EventContext, corr orchestrator.Correlation, errorText string) *Envelope {
	envelope := e.envelope(ec, corr)
	envelope.Type = obs.KindError
	envelope.Error = errorText

	record := e.record(ec, obs.KindError, string(orchestrator.TaskStateFailed), errorText, envelope)
	e.push(record)

	return envelope
}

// EmitObservability records an internal lifecycle signal for
// monitoring only. The record carries no envelope payload and is
// never delivered to a subscriber.
func (e *Emitter) EmitObservability(ec *orchestrator.EventContext, eventType, status, message string, progress *int) {
	record := e.record(ec, eventType, status, message, nil)
	record.Progress = progress
	e.push(record)
}

func (e *Emitter) envelope(ec *orchestrator.EventContext, corr orchestrator.Correlation) *Envelope {
	return &Envelope{
		Context:   ec,
		StreamID:  corr.StreamID,
		Mode:      corr.Mode,
		Timestamp: e.clock.Now().UTC(),
	}
}

func (e *Emitter) record(ec *orchestrator.EventContext, eventType, status, message string, payload *Envelope) *obs.Record {
	record := &obs.Record{
		Context:          ec,
		Source:           e.source,
		EventType:        eventType,
		Status:           status,
		Message:          message,
		TimestampEpochMs: e.clock.Now().UnixMilli(),
	}
	if payload != nil {
		record.Payload = payload
	}
	return record
}

func (e *Emitter) push(record *obs.Record) {
	if e.buffer == nil {
		return
	}
	e.buffer.Push(record)
}
