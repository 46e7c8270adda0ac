// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"bytes"
	"strings"
	"testing"

	orchestrator "github.com/GolferGeek/orchestrator-ai-v2-sub005"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/obs"
)

func testContext() *orchestrator.EventContext {
	return &orchestrator.EventContext{
		TaskID:           "t1",
		UserID:           "u1",
		AgentSlug:        "researcher",
		OrganizationSlug: "acme",
		ConversationID:   "c1",
	}
}

func testCorrelation() orchestrator.Correlation {
	return orchestrator.Correlation{
		StreamID:  "s1",
		AgentSlug: "researcher",
		Mode:      "stream",
	}
}

func TestEmitProgress(t *testing.T) {
	buffer := obs.NewBuffer(obs.BufferConfig{Capacity: 10})
	emitter := NewEmitter(EmitterConfig{Buffer: buffer})

	progress := 40
	envelope := emitter.EmitProgress(testContext(), testCorrelation(), "indexing sources", map[string]any{"step": "index"}, &progress)

	if envelope.Chunk == nil || envelope.Chunk.Type != "progress" {
		t.Fatalf("EmitProgress() envelope chunk = %+v, want progress chunk", envelope.Chunk)
	}
	if envelope.StreamID != "s1" || envelope.Mode != "stream" {
		t.Errorf("envelope correlation: streamId %q mode %q", envelope.StreamID, envelope.Mode)
	}
	if envelope.Kind() != obs.KindProgress {
		t.Errorf("Kind() = %q, want progress", envelope.Kind())
	}

	records := buffer.Snapshot()
	if len(records) != 1 {
		t.Fatalf("buffer holds %d records, want 1", len(records))
	}
	record := records[0]
	if record.EventType != obs.KindProgress || !record.UserFacing() {
		t.Errorf("record = %+v, want user-facing progress record", record)
	}
	if record.Progress == nil || *record.Progress != 40 {
		t.Errorf("record progress = %v, want 40", record.Progress)
	}
	if record.Step != "index" {
		t.Errorf("record step = %q, want index", record.Step)
	}
}

func TestEmitComplete(t *testing.T) {
	buffer := obs.NewBuffer(obs.BufferConfig{Capacity: 10})
	emitter := NewEmitter(EmitterConfig{Buffer: buffer})

	envelope := emitter.EmitComplete(testContext(), testCorrelation(), "all done")

	if envelope.Type != "complete" || envelope.UserMessage != "all done" {
		t.Errorf("EmitComplete() envelope = %+v", envelope)
	}

	records := buffer.Snapshot()
	if len(records) != 1 {
		t.Fatalf("buffer holds %d records, want 1", len(records))
	}
	if !records[0].Terminal() {
		t.Errorf("complete record not terminal")
	}
	if records[0].Progress == nil || *records[0].Progress != 100 {
		t.Errorf("complete record progress = %v, want 100", records[0].Progress)
	}
}

func TestEmitError(t *testing.T) {
	buffer := obs.NewBuffer(obs.BufferConfig{Capacity: 10})
	emitter := NewEmitter(EmitterConfig{Buffer: buffer})

	envelope := emitter.EmitError(testContext(), testCorrelation(), "model unavailable")

	if envelope.Type != "error" || envelope.Error != "model unavailable" {
		t.Errorf("EmitError() envelope = %+v", envelope)
	}

	records := buffer.Snapshot()
	if len(records) != 1 || records[0].EventType != obs.KindError {
		t.Fatalf("buffer records = %+v, want one error record", records)
	}
	if records[0].Status != string(orchestrator.TaskStateFailed) {
		t.Errorf("error record status = %q, want failed", records[0].Status)
	}
}

func TestEmitObservabilityIsNotUserFacing(t *testing.T) {
	buffer := obs.NewBuffer(obs.BufferConfig{Capacity: 10})
	emitter := NewEmitter(EmitterConfig{Buffer: buffer})

	emitter.EmitObservability(testContext(), "task.status_changed", "running", "task started", nil)

	records := buffer.Snapshot()
	if len(records) != 1 {
		t.Fatalf("buffer holds %d records, want 1", len(records))
	}
	if records[0].UserFacing() {
		t.Errorf("observability-only record reported user-facing")
	}
	if records[0].Payload != nil {
		t.Errorf("observability-only record carries a payload")
	}
}

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer

	if err := WriteFrame(&buf, "progress", map[string]any{"ok": true}); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	got := buf.String()
	if !strings.HasPrefix(got, "event: progress\n") {
		t.Errorf("frame missing event line: %q", got)
	}
	if !strings.Contains(got, "data: ") {
		t.Errorf("frame missing data line: %q", got)
	}
	if !strings.HasSuffix(got, "\n\n") {
		t.Errorf("frame missing blank-line terminator: %q", got)
	}
}

func TestWriteComment(t *testing.T) {
	var buf bytes.Buffer

	if err := WriteComment(&buf, ConnectedComment); err != nil {
		t.Fatalf("WriteComment() error = %v", err)
	}
	if got := buf.String(); got != ": connected\n\n" {
		t.Errorf("WriteComment() = %q, want %q", got, ": connected\n\n")
	}
}
