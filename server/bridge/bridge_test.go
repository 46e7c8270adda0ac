// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/benbjohnson/clock"

	orchestrator "github.com/GolferGeek/orchestrator-ai-v2-sub005"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/event"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/obs"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/session"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/stream"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/task"
)

type fixture struct {
	bus      *event.Bus
	registry *session.Registry
	store    *task.Store
	buffer   *obs.Buffer
	clock    *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mock := clock.NewMock()

	registry := session.NewRegistry(session.RegistryConfig{Clock: mock, Logger: logger})
	store := task.NewStore(task.StoreConfig{Clock: mock, Logger: logger})
	buffer := obs.NewBuffer(obs.BufferConfig{Capacity: 100})
	emitter := stream.NewEmitter(stream.EmitterConfig{Buffer: buffer, Clock: mock})

	bus := event.NewBus(logger)
	bridge, err := NewBridge(BridgeConfig{
		Registry: registry,
		Store:    store,
		Emitter:  emitter,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	bridge.Register(bus)

	t.Cleanup(func() {
		store.Close()
		registry.Close()
		buffer.Close()
		bus.Close()
	})

	return &fixture{bus: bus, registry: registry, store: store, buffer: buffer, clock: mock}
}

func (f *fixture) setup(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	if _, err := f.store.CreateTask(ctx, "t1", "u1", orchestrator.TaskTypeLongRunning, nil); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if _, err := f.registry.Register(session.RegisterParams{
		TaskID:         "t1",
		UserID:         "u1",
		AgentSlug:      "researcher",
		ConversationID: "c1",
		StreamID:       "t1",
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
}

func correlation() orchestrator.Correlation {
	return orchestrator.Correlation{
		StreamID:       "t1",
		AgentSlug:      "researcher",
		ConversationID: "c1",
		Mode:           "stream",
	}
}

func TestBridgeChunkUpdatesTask(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	ctx := context.Background()

	chunk := &event.ChunkEvent{Chunk: &orchestrator.StreamChunk{
		Correlation: correlation(),
		Chunk: orchestrator.ChunkPayload{
			Content:  "indexing sources",
			Metadata: map[string]any{"progress": 40},
		},
	}}
	if err := f.bus.Publish(ctx, chunk); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	status := f.store.GetTaskStatus("t1", "u1")
	if status == nil {
		t.Fatal("task missing after chunk")
	}
	if status.Status != orchestrator.TaskStateRunning {
		t.Errorf("status = %q, want running", status.Status)
	}
	if status.Progress != 40 {
		t.Errorf("progress = %d, want 40", status.Progress)
	}

	messages := f.store.GetTaskMessages("t1", "u1")
	if len(messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(messages))
	}
	if messages[0].Content != "indexing sources" || messages[0].MessageType != orchestrator.MessageTypeProgress {
		t.Errorf("message = %+v", messages[0])
	}
	if messages[0].ProgressPercentage == nil || *messages[0].ProgressPercentage != 40 {
		t.Errorf("message progress = %v, want 40", messages[0].ProgressPercentage)
	}

	records := f.buffer.Snapshot()
	var progressRecords int
	for _, record := range records {
		if record.EventType == obs.KindProgress {
			progressRecords++
		}
	}
	if progressRecords != 1 {
		t.Errorf("progress records = %d, want 1", progressRecords)
	}
}

func TestBridgeCompleteFinishesTask(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	ctx := context.Background()

	chunk := &event.ChunkEvent{Chunk: &orchestrator.StreamChunk{
		Correlation: correlation(),
		Chunk: orchestrator.ChunkPayload{
			Content:  "halfway",
			Metadata: map[string]any{"progress": 50},
		},
	}}
	if err := f.bus.Publish(ctx, chunk); err != nil {
		t.Fatalf("Publish(chunk) error = %v", err)
	}

	complete := &event.CompleteEvent{Complete: &orchestrator.StreamComplete{
		Correlation: correlation(),
		UserMessage: "all done",
	}}
	if err := f.bus.Publish(ctx, complete); err != nil {
		t.Fatalf("Publish(complete) error = %v", err)
	}

	status := f.store.GetTaskStatus("t1", "u1")
	if status == nil {
		t.Fatal("task missing after completion")
	}
	if status.Status != orchestrator.TaskStateCompleted {
		t.Errorf("status = %q, want completed", status.Status)
	}
	if status.Progress != 100 {
		t.Errorf("progress = %d, want 100", status.Progress)
	}

	if f.registry.Count() != 0 {
		t.Errorf("session count = %d, want 0 after completion", f.registry.Count())
	}

	// The bridge resolves sessions before mutating anything, so a late
	// duplicate completion is dropped once the session is gone.
	if err := f.bus.Publish(ctx, complete); err != nil {
		t.Fatalf("Publish(duplicate complete) error = %v", err)
	}
	messages := f.store.GetTaskMessages("t1", "u1")
	if len(messages) != 2 {
		t.Errorf("messages = %d, want 2 (one chunk, one completion)", len(messages))
	}
}

func TestBridgeErrorFailsTask(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	ctx := context.Background()

	failure := &event.ErrorEvent{Failure: &orchestrator.StreamFailure{
		Correlation: correlation(),
		Error:       "model unavailable",
	}}
	if err := f.bus.Publish(ctx, failure); err != nil {
		t.Fatalf("Publish(error) error = %v", err)
	}

	status := f.store.GetTaskStatus("t1", "u1")
	if status == nil {
		t.Fatal("task missing after failure")
	}
	if status.Status != orchestrator.TaskStateFailed {
		t.Errorf("status = %q, want failed", status.Status)
	}
	if status.Error != "model unavailable" {
		t.Errorf("error = %q, want model unavailable", status.Error)
	}
	if f.registry.Count() != 0 {
		t.Errorf("session count = %d, want 0 after failure", f.registry.Count())
	}
}

func TestBridgeResolvesByConversationKey(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	ctx := context.Background()

	corr := correlation()
	corr.StreamID = "different-stream"

	chunk := &event.ChunkEvent{Chunk: &orchestrator.StreamChunk{
		Correlation: corr,
		Chunk:       orchestrator.ChunkPayload{Content: "still routed"},
	}}
	if err := f.bus.Publish(ctx, chunk); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if status := f.store.GetTaskStatus("t1", "u1"); status == nil || status.Status != orchestrator.TaskStateRunning {
		t.Errorf("chunk resolved by conversation key did not reach task: %+v", status)
	}
}

func TestBridgeDropsUncorrelatedEvents(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	ctx := context.Background()

	chunk := &event.ChunkEvent{Chunk: &orchestrator.StreamChunk{
		Correlation: orchestrator.Correlation{
			StreamID:       "unknown",
			AgentSlug:      "other-agent",
			ConversationID: "other-conversation",
		},
		Chunk: orchestrator.ChunkPayload{Content: "orphan"},
	}}
	if err := f.bus.Publish(ctx, chunk); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	status := f.store.GetTaskStatus("t1", "u1")
	if status.Status != orchestrator.TaskStatePending {
		t.Errorf("uncorrelated chunk mutated task: status = %q", status.Status)
	}
	if len(f.store.GetTaskMessages("t1", "u1")) != 0 {
		t.Error("uncorrelated chunk recorded a message")
	}
	if len(f.buffer.Snapshot()) != 0 {
		t.Error("uncorrelated chunk produced records")
	}
}

func TestBridgeDoesNotRegressCompletedTask(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	ctx := context.Background()

	if err := f.store.CompleteTask(ctx, "t1", "u1", nil); err != nil {
		t.Fatalf("CompleteTask() error = %v", err)
	}

	chunk := &event.ChunkEvent{Chunk: &orchestrator.StreamChunk{
		Correlation: correlation(),
		Chunk: orchestrator.ChunkPayload{
			Content:  "late chunk",
			Metadata: map[string]any{"progress": 10},
		},
	}}
	if err := f.bus.Publish(ctx, chunk); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	status := f.store.GetTaskStatus("t1", "u1")
	if status.Status != orchestrator.TaskStateCompleted {
		t.Errorf("status = %q, want completed", status.Status)
	}
	if status.Progress != 100 {
		t.Errorf("progress = %d, want 100", status.Progress)
	}
}
