// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"

	orchestrator "github.com/GolferGeek/orchestrator-ai-v2-sub005"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/event"
)

// recordingMirror captures mirror calls and optionally fails them.
type recordingMirror struct {
	mu    sync.Mutex
	calls []string
	err   error
	done  chan struct{}
}

func (m *recordingMirror) UpdateByID(ctx context.Context, taskID, ownerID string, fields map[string]any) error {
	m.mu.Lock()
	m.calls = append(m.calls, taskID)
	m.mu.Unlock()
	if m.done != nil {
		select {
		case m.done <- struct{}{}:
		default:
		}
	}
	return m.err
}

func newTestStore(t *testing.T) (*Store, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	store := NewStore(StoreConfig{Clock: mock})
	t.Cleanup(store.Close)
	return store, mock
}

func TestCreateTaskStartsPending(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateTask(ctx, "t1", "u1", orchestrator.TaskTypeEphemeral, nil)
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if created.Status != orchestrator.TaskStatePending || created.Progress != 0 {
		t.Errorf("CreateTask() = status %q progress %d, want pending/0", created.Status, created.Progress)
	}

	got := store.GetTaskStatus("t1", "u1")
	if got == nil {
		t.Fatalf("GetTaskStatus() = nil after create")
	}
	if got.Status != orchestrator.TaskStatePending || got.Progress != 0 {
		t.Errorf("GetTaskStatus() = status %q progress %d, want pending/0", got.Status, got.Progress)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateTask(ctx, "", "u1", orchestrator.TaskTypeEphemeral, nil); err == nil {
		t.Errorf("CreateTask() with empty task ID did not fail")
	}
	if _, err := store.CreateTask(ctx, "t1", "", orchestrator.TaskTypeEphemeral, nil); err == nil {
		t.Errorf("CreateTask() with empty user ID did not fail")
	}

	if _, err := store.CreateTask(ctx, "t1", "u1", orchestrator.TaskTypeEphemeral, nil); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	var existsErr *orchestrator.TaskExistsError
	if _, err := store.CreateTask(ctx, "t1", "u1", orchestrator.TaskTypeEphemeral, nil); !errors.As(err, &existsErr) {
		t.Errorf("duplicate CreateTask() error = %v, want TaskExistsError", err)
	}
}

func TestUpdateTaskStatusOwnershipMismatch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateTask(ctx, "t1", "userA", orchestrator.TaskTypeEphemeral, nil); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	running := orchestrator.TaskStateRunning
	progress := 50
	if err := store.UpdateTaskStatus(ctx, "t1", "userB", orchestrator.StatusPatch{Status: &running, Progress: &progress}); err != nil {
		t.Fatalf("UpdateTaskStatus() as non-owner error = %v, want silent nil", err)
	}

	got := store.GetTaskStatus("t1", "userA")
	if got.Status != orchestrator.TaskStatePending || got.Progress != 0 {
		t.Errorf("record mutated by non-owner: status %q progress %d", got.Status, got.Progress)
	}
}

func TestUpdateTaskStatusUnknownTask(t *testing.T) {
	store, _ := newTestStore(t)

	running := orchestrator.TaskStateRunning
	if err := store.UpdateTaskStatus(context.Background(), "missing", "u1", orchestrator.StatusPatch{Status: &running}); err != nil {
		t.Errorf("UpdateTaskStatus() on unknown task error = %v, want silent nil", err)
	}
}

func TestUpdateTaskStatusMerge(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateTask(ctx, "t1", "u1", orchestrator.TaskTypeEphemeral, nil); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	running := orchestrator.TaskStateRunning
	progress := 40
	err := store.UpdateTaskStatus(ctx, "t1", "u1", orchestrator.StatusPatch{
		Status:   &running,
		Progress: &progress,
		Metadata: map[string]any{"step": "indexing"},
	})
	if err != nil {
		t.Fatalf("UpdateTaskStatus() error = %v", err)
	}

	got := store.GetTaskStatus("t1", "u1")
	if got.Status != orchestrator.TaskStateRunning || got.Progress != 40 {
		t.Errorf("merge result: status %q progress %d, want running/40", got.Status, got.Progress)
	}
	if got.Metadata["step"] != "indexing" {
		t.Errorf("metadata not merged: %v", got.Metadata)
	}
}

func TestTerminalStatusIsAbsorbing(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateTask(ctx, "t1", "u1", orchestrator.TaskTypeEphemeral, nil); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if err := store.CompleteTask(ctx, "t1", "u1", map[string]any{"answer": 42}); err != nil {
		t.Fatalf("CompleteTask() error = %v", err)
	}

	// A late duplicate terminal event must not regress the record.
	if err := store.FailTask(ctx, "t1", "u1", "late failure"); err != nil {
		t.Fatalf("FailTask() error = %v", err)
	}

	got := store.GetTaskStatus("t1", "u1")
	if got.Status != orchestrator.TaskStateCompleted {
		t.Errorf("status = %q after late failure, want completed", got.Status)
	}
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
}

func TestEvictionByTaskType(t *testing.T) {
	tests := []struct {
		taskType orchestrator.TaskType
		delay    time.Duration
	}{
		{orchestrator.TaskTypeEphemeral, 60 * time.Second},
		{orchestrator.TaskTypeLongRunning, 900 * time.Second},
		{orchestrator.TaskTypeSwarm, 3600 * time.Second},
	}

	for _, tt := range tests {
		t.Run(string(tt.taskType), func(t *testing.T) {
			store, mock := newTestStore(t)
			ctx := context.Background()

			if _, err := store.CreateTask(ctx, "t1", "u1", tt.taskType, nil); err != nil {
				t.Fatalf("CreateTask() error = %v", err)
			}
			if err := store.CompleteTask(ctx, "t1", "u1", nil); err != nil {
				t.Fatalf("CompleteTask() error = %v", err)
			}

			mock.Add(tt.delay - time.Second)
			if store.GetTaskStatus("t1", "u1") == nil {
				t.Fatalf("task evicted before retention delay elapsed")
			}

			mock.Add(2 * time.Second)
			if store.GetTaskStatus("t1", "u1") != nil {
				t.Errorf("task still present after retention delay")
			}
		})
	}
}

func TestEvictionRescheduledOnNewTerminalTransition(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateTask(ctx, "t1", "u1", orchestrator.TaskTypeEphemeral, nil); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if err := store.CompleteTask(ctx, "t1", "u1", nil); err != nil {
		t.Fatalf("CompleteTask() error = %v", err)
	}

	store.mu.Lock()
	if len(store.evictions) != 1 {
		store.mu.Unlock()
		t.Fatalf("eviction timers = %d, want 1", len(store.evictions))
	}
	store.mu.Unlock()

	mock.Add(61 * time.Second)
	if store.GetTaskStatus("t1", "u1") != nil {
		t.Errorf("task not evicted")
	}

	store.mu.Lock()
	remaining := len(store.evictions)
	store.mu.Unlock()
	if remaining != 0 {
		t.Errorf("eviction timers after fire = %d, want 0", remaining)
	}
}

func TestTaskMessagesRoundTrip(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateTask(ctx, "t1", "u1", orchestrator.TaskTypeLongRunning, nil); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	for _, content := range []string{"first", "second", "third"} {
		if _, err := store.AddTaskMessage(ctx, "t1", content, orchestrator.MessageTypeProgress, nil, nil); err != nil {
			t.Fatalf("AddTaskMessage(%q) error = %v", content, err)
		}
	}

	var got []string
	for _, message := range store.GetTaskMessages("t1", "u1") {
		got = append(got, message.Content)
	}
	if diff := cmp.Diff([]string{"first", "second", "third"}, got); diff != "" {
		t.Errorf("message order mismatch (-want +got):\n%s", diff)
	}

	// TTL pruning: advance past the TTL, the messages disappear.
	mock.Add(DefaultMessageTTL + time.Second)
	if messages := store.GetTaskMessages("t1", "u1"); len(messages) != 0 {
		t.Errorf("GetTaskMessages() after TTL = %d messages, want 0", len(messages))
	}
}

func TestGetTaskMessagesOwnershipGated(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateTask(ctx, "t1", "userA", orchestrator.TaskTypeEphemeral, nil); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if _, err := store.AddTaskMessage(ctx, "t1", "secret", orchestrator.MessageTypeInfo, nil, nil); err != nil {
		t.Fatalf("AddTaskMessage() error = %v", err)
	}

	if messages := store.GetTaskMessages("t1", "userB"); messages != nil {
		t.Errorf("GetTaskMessages() as non-owner = %d messages, want nil", len(messages))
	}
}

func TestGetUserActiveTasks(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2", "t3"} {
		if _, err := store.CreateTask(ctx, id, "u1", orchestrator.TaskTypeEphemeral, nil); err != nil {
			t.Fatalf("CreateTask(%q) error = %v", id, err)
		}
	}
	if _, err := store.CreateTask(ctx, "other", "u2", orchestrator.TaskTypeEphemeral, nil); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if err := store.CompleteTask(ctx, "t3", "u1", nil); err != nil {
		t.Fatalf("CompleteTask() error = %v", err)
	}

	active := store.GetUserActiveTasks("u1")
	if len(active) != 2 {
		t.Errorf("GetUserActiveTasks() = %d tasks, want 2", len(active))
	}
	for _, record := range active {
		if record.IsTerminal() {
			t.Errorf("active tasks contain terminal task %s", record.TaskID)
		}
	}
}

func TestGetStats(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateTask(ctx, "t1", "u1", orchestrator.TaskTypeEphemeral, nil); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if _, err := store.CreateTask(ctx, "t2", "u1", orchestrator.TaskTypeEphemeral, nil); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if _, err := store.CreateTask(ctx, "t3", "u2", orchestrator.TaskTypeEphemeral, nil); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	stats := store.GetStats()
	if stats.ActiveTasks != 3 {
		t.Errorf("Stats.ActiveTasks = %d, want 3", stats.ActiveTasks)
	}
	want := map[string]int{"u1": 2, "u2": 1}
	if diff := cmp.Diff(want, stats.TasksByUser); diff != "" {
		t.Errorf("Stats.TasksByUser mismatch (-want +got):\n%s", diff)
	}
}

func TestMirrorFailureNeverSurfaces(t *testing.T) {
	mirror := &recordingMirror{err: errors.New("database down"), done: make(chan struct{}, 8)}
	mock := clock.NewMock()
	store := NewStore(StoreConfig{Mirror: mirror, Clock: mock})
	defer store.Close()
	ctx := context.Background()

	if _, err := store.CreateTask(ctx, "t1", "u1", orchestrator.TaskTypeEphemeral, nil); err != nil {
		t.Fatalf("CreateTask() error = %v, mirror failure surfaced", err)
	}
	if err := store.CompleteTask(ctx, "t1", "u1", nil); err != nil {
		t.Fatalf("CompleteTask() error = %v, mirror failure surfaced", err)
	}

	for range 2 {
		select {
		case <-mirror.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("mirror was not invoked")
		}
	}

	// In-memory state stays authoritative.
	if got := store.GetTaskStatus("t1", "u1"); got == nil || got.Status != orchestrator.TaskStateCompleted {
		t.Errorf("in-memory state lost after mirror failure")
	}
}

func TestLifecycleNotifications(t *testing.T) {
	bus := event.NewBus(nil)
	mock := clock.NewMock()
	store := NewStore(StoreConfig{Bus: bus, Clock: mock})
	defer store.Close()
	ctx := context.Background()

	var topics []event.Topic
	record := func(ctx context.Context, ev event.Event) error {
		topics = append(topics, ev.EventTopic())
		return nil
	}
	for _, topic := range []event.Topic{
		event.TopicTaskStatusChanged,
		event.TopicTaskStarted,
		event.TopicTaskCompleted,
		event.TopicTaskHITLWaiting,
	} {
		bus.Subscribe(topic, record)
	}

	if _, err := store.CreateTask(ctx, "t1", "u1", orchestrator.TaskTypeEphemeral, nil); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	running := orchestrator.TaskStateRunning
	if err := store.UpdateTaskStatus(ctx, "t1", "u1", orchestrator.StatusPatch{Status: &running}); err != nil {
		t.Fatalf("UpdateTaskStatus() error = %v", err)
	}

	waiting := orchestrator.TaskStateHITLWaiting
	if err := store.UpdateTaskStatus(ctx, "t1", "u1", orchestrator.StatusPatch{Status: &waiting}); err != nil {
		t.Fatalf("UpdateTaskStatus() error = %v", err)
	}

	if err := store.CompleteTask(ctx, "t1", "u1", nil); err != nil {
		t.Fatalf("CompleteTask() error = %v", err)
	}

	want := []event.Topic{
		event.TopicTaskStatusChanged, // create
		event.TopicTaskStatusChanged, event.TopicTaskStarted,
		event.TopicTaskStatusChanged, event.TopicTaskHITLWaiting,
		event.TopicTaskStatusChanged, event.TopicTaskCompleted,
	}
	if diff := cmp.Diff(want, topics); diff != "" {
		t.Errorf("notification topics mismatch (-want +got):\n%s", diff)
	}
}

func TestRetentionOverride(t *testing.T) {
	mock := clock.NewMock()
	store := NewStore(StoreConfig{
		Clock:     mock,
		Retention: map[orchestrator.TaskType]time.Duration{orchestrator.TaskTypeEphemeral: 5 * time.Second},
	})
	t.Cleanup(store.Close)
	ctx := context.Background()

	if _, err := store.CreateTask(ctx, "t1", "u1", orchestrator.TaskTypeEphemeral, nil); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if err := store.CompleteTask(ctx, "t1", "u1", nil); err != nil {
		t.Fatalf("CompleteTask() error = %v", err)
	}

	mock.Add(4 * time.Second)
	if store.GetTaskStatus("t1", "u1") == nil {
		t.Fatal("task evicted before the override delay elapsed")
	}

	mock.Add(2 * time.Second)
	if store.GetTaskStatus("t1", "u1") != nil {
		t.Error("task still present after the override delay elapsed")
	}
}

func TestCreateTaskTerminalInitialEvicted(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	completed := orchestrator.TaskStateCompleted
	created, err := store.CreateTask(ctx, "t1", "u1", orchestrator.TaskTypeEphemeral, &orchestrator.StatusPatch{Status: &completed})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if created.Status != orchestrator.TaskStateCompleted {
		t.Fatalf("CreateTask() status = %q, want completed", created.Status)
	}

	mock.Add(59 * time.Second)
	if store.GetTaskStatus("t1", "u1") == nil {
		t.Fatal("task evicted before retention delay elapsed")
	}

	mock.Add(2 * time.Second)
	if store.GetTaskStatus("t1", "u1") != nil {
		t.Error("task created in a terminal state was never evicted")
	}
}

func TestAddTaskMessageUnknownTaskRejected(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	var notFound *orchestrator.TaskNotFoundError
	if _, err := store.AddTaskMessage(ctx, "ghost", "hello", orchestrator.MessageTypeInfo, nil, nil); !errors.As(err, &notFound) {
		t.Fatalf("AddTaskMessage() for unknown task error = %v, want TaskNotFoundError", err)
	}
	if got := store.GetStats().TrackedMessages; got != 0 {
		t.Errorf("TrackedMessages = %d, want 0", got)
	}

	// An evicted task behaves like one that never existed.
	if _, err := store.CreateTask(ctx, "t1", "u1", orchestrator.TaskTypeEphemeral, nil); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if err := store.CompleteTask(ctx, "t1", "u1", nil); err != nil {
		t.Fatalf("CompleteTask() error = %v", err)
	}
	mock.Add(61 * time.Second)

	if _, err := store.AddTaskMessage(ctx, "t1", "too late", orchestrator.MessageTypeInfo, nil, nil); !errors.As(err, &notFound) {
		t.Errorf("AddTaskMessage() after eviction error = %v, want TaskNotFoundError", err)
	}
	if got := store.GetStats().TrackedMessages; got != 0 {
		t.Errorf("TrackedMessages after eviction = %d, want 0", got)
	}
}
