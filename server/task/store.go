// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

// Package task provides the authoritative in-memory task status store.
// The store tracks each active task's status, progress, result, error,
// and recent messages, publishes lifecycle notifications on the event
// bus, mirrors mutations to a best-effort durable store, and evicts
// terminal tasks after a type-specific retention delay.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	orchestrator "github.com/GolferGeek/orchestrator-ai-v2-sub005"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/event"
)

// DefaultMessageTTL is how long a task message stays readable before
// it is pruned lazily on the next read.
const DefaultMessageTTL = time.Hour

// mirrorTimeout bounds each fire-and-forget mirror sync.
const mirrorTimeout = 5 * time.Second

// StoreConfig holds configuration for a Store.
type StoreConfig struct {
	// Mirror is the durable store collaborator. Nil means NopMirror.
	Mirror Mirror

	// Bus receives task.* lifecycle notifications. Nil disables
	// notification publishing.
	Bus *event.Bus

	// MessageTTL overrides DefaultMessageTTL when positive.
	MessageTTL time.Duration

	// Retention overrides the per-type post-terminal retention delay.
	// Types absent from the map keep their default delay.
	Retention map[orchestrator.TaskType]time.Duration

	// Clock drives timestamps and eviction timers. Nil means the
	// real clock.
	Clock clock.Clock

	// Logger is used for mirror failures and eviction diagnostics.
	// Nil means slog.Default.
	Logger *slog.Logger
}

// Stats is a diagnostic summary of the store contents.
type Stats struct {
	ActiveTasks     int            `json:"activeTasks"`
	TasksByUser     map[string]int `json:"tasksByUser"`
	TrackedMessages int            `json:"trackedMessages"`
}

// evictionTimer is the arena entry for one scheduled eviction. The
// active flag is flipped before the timer is stopped so a timer that
// fires concurrently with a reschedule or shutdown is a no-op.
type evictionTimer struct {
	timer  *clock.Timer
	active bool
}

// Store is the authoritative in-memory record of active tasks. All
// reads return defensive copies and all operations are ownership
// checked; mutations for unknown or non-owned tasks are silent no-ops.
type Store struct {
	mu        sync.RWMutex
	tasks     map[string]*orchestrator.TaskStatus
	messages  map[string][]*orchestrator.TaskMessage
	evictions map[string]*evictionTimer

	mirror     Mirror
	bus        *event.Bus
	messageTTL time.Duration
	retention  map[orchestrator.TaskType]time.Duration
	clock      clock.Clock
	logger     *slog.Logger
}

// NewStore creates a new task status store.
func NewStore(config StoreConfig) *Store {
	mirror := config.Mirror
	if mirror == nil {
		mirror = NopMirror{}
	}
	messageTTL := config.MessageTTL
	if messageTTL <= 0 {
		messageTTL = DefaultMessageTTL
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		tasks:      make(map[string]*orchestrator.TaskStatus),
		messages:   make(map[string][]*orchestrator.TaskMessage),
		evictions:  make(map[string]*evictionTimer),
		mirror:     mirror,
		bus:        config.Bus,
		messageTTL: messageTTL,
		retention:  config.Retention,
		clock:      clk,
		logger:     logger,
	}
}

// CreateTask inserts a pending, zero-progress record for the task,
// mirrors it to the durable store best effort, and announces a
// status-changed notification. The initial patch, when non-nil, is
// merged into the fresh record before it is published.
func (s *Store) CreateTask(ctx context.Context, taskID, userID string, taskType orchestrator.TaskType, initial *orchestrator.StatusPatch) (*orchestrator.TaskStatus, error) {
	if taskID == "" {
		return nil, orchestrator.NewValidationError("taskId", fmt.Errorf("cannot be empty"))
	}
	if userID == "" {
		return nil, orchestrator.NewValidationError("userId", fmt.Errorf("cannot be empty"))
	}
	if taskType == "" {
		taskType = orchestrator.TaskTypeEphemeral
	}

	s.mu.Lock()
	if _, exists := s.tasks[taskID]; exists {
		s.mu.Unlock()
		return nil, &orchestrator.TaskExistsError{TaskID: taskID}
	}

	now := s.clock.Now()
	record := &orchestrator.TaskStatus{
		TaskID:    taskID,
		UserID:    userID,
		Status:    orchestrator.TaskStatePending,
		Progress:  0,
		TaskType:  taskType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if initial != nil {
		s.mergePatch(record, *initial)
	}
	s.tasks[taskID] = record
	// A task born terminal still gets its retention window.
	if record.IsTerminal() {
		s.scheduleEvictionLocked(record)
	}
	published := record.Clone()
	s.mu.Unlock()

	s.syncMirror(record.TaskID, record.UserID, mirrorFields(published))
	s.publish(ctx, event.TopicTaskStatusChanged, published)
	if published.IsTerminal() {
		if topic, ok := event.LifecycleTopic(published.Status); ok {
			s.publish(ctx, topic, published)
		}
	}

	return published, nil
}

// UpdateTaskStatus merges a patch into the task record. Unknown tasks
// and ownership mismatches are silent no-ops. Terminal states are
// absorbing: a status change on an already-terminal task is dropped
// while the rest of the patch still applies. Reaching a terminal
// status schedules eviction after the task type's retention delay,
// replacing any previously scheduled eviction.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID, userID string, patch orchestrator.StatusPatch) error {
	s.mu.Lock()
	record, ok := s.tasks[taskID]
	if !ok || record.UserID != userID {
		s.mu.Unlock()
		return nil
	}

	previous := record.Status
	s.mergePatch(record, patch)
	record.UpdatedAt = s.clock.Now()

	transitioned := record.Status != previous
	if transitioned && record.IsTerminal() {
		s.scheduleEvictionLocked(record)
	}
	published := record.Clone()
	s.mu.Unlock()

	s.syncMirror(published.TaskID, published.UserID, mirrorFields(published))
	s.publish(ctx, event.TopicTaskStatusChanged, published)
	if transitioned {
		if topic, ok := event.LifecycleTopic(published.Status); ok {
			s.publish(ctx, topic, published)
		}
	}

	return nil
}

// CompleteTask transitions the task to completed with progress 100 and
// the given result.
func (s *Store) CompleteTask(ctx context.Context, taskID, userID string, result map[string]any) error {
	status := orchestrator.TaskStateCompleted
	progress := 100
	return s.UpdateTaskStatus(ctx, taskID, userID, orchestrator.StatusPatch{
		Status:   &status,
		Progress: &progress,
		Result:   result,
	})
}

// FailTask transitions the task to failed with the given error text.
func (s *Store) FailTask(ctx context.Context, taskID, userID, errorText string) error {
	status := orchestrator.TaskStateFailed
	return s.UpdateTaskStatus(ctx, taskID, userID, orchestrator.StatusPatch{
		Status: &status,
		Error:  &errorText,
	})
}

// GetTaskStatus returns a defensive copy of the task record, or nil if
// the task is unknown or not owned by userID.
func (s *Store) GetTaskStatus(taskID, userID string) *orchestrator.TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.tasks[taskID]
	if !ok || record.UserID != userID {
		return nil
	}
	return record.Clone()
}

// AddTaskMessage appends a message with the store TTL, pruning expired
// messages for the same task first. progressPercentage may be nil.
// Messages for tasks no longer tracked (never created, or already
// evicted) are refused so the message log cannot outlive its task.
func (s *Store) AddTaskMessage(ctx context.Context, taskID, content string, messageType orchestrator.MessageType, metadata map[string]any, progressPercentage *int) (*orchestrator.TaskMessage, error) {
	if taskID == "" {
		return nil, orchestrator.NewValidationError("taskId", fmt.Errorf("cannot be empty"))
	}
	if messageType == "" {
		messageType = orchestrator.MessageTypeInfo
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[taskID]; !ok {
		return nil, &orchestrator.TaskNotFoundError{TaskID: taskID}
	}

	now := s.clock.Now()
	s.pruneMessagesLocked(taskID, now)

	message := &orchestrator.TaskMessage{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		Content:     content,
		MessageType: messageType,
		Metadata:    metadata,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.messageTTL),
	}
	if progressPercentage != nil {
		p := orchestrator.ClampProgress(*progressPercentage)
		message.ProgressPercentage = &p
	}
	s.messages[taskID] = append(s.messages[taskID], message)

	return message.Clone(), nil
}

// GetTaskMessages returns the task's unexpired messages in insertion
// order, or nil if the task is unknown or not owned by userID.
func (s *Store) GetTaskMessages(taskID, userID string) []*orchestrator.TaskMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.tasks[taskID]
	if !ok || record.UserID != userID {
		return nil
	}

	s.pruneMessagesLocked(taskID, s.clock.Now())

	messages := s.messages[taskID]
	out := make([]*orchestrator.TaskMessage, 0, len(messages))
	for _, message := range messages {
		out = append(out, message.Clone())
	}
	return out
}

// GetUserActiveTasks returns copies of all non-terminal tasks owned by
// userID.
func (s *Store) GetUserActiveTasks(userID string) []*orchestrator.TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*orchestrator.TaskStatus
	for _, record := range s.tasks {
		if record.UserID == userID && !record.IsTerminal() {
			out = append(out, record.Clone())
		}
	}
	return out
}

// GetStats returns a diagnostic summary of the store contents.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{TasksByUser: make(map[string]int)}
	for _, record := range s.tasks {
		stats.ActiveTasks++
		stats.TasksByUser[record.UserID]++
	}
	for _, messages := range s.messages {
		stats.TrackedMessages += len(messages)
	}
	return stats
}

// Close cancels every pending eviction timer and clears the store.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, eviction := range s.evictions {
		eviction.active = false
		eviction.timer.Stop()
	}
	s.evictions = make(map[string]*evictionTimer)
	s.tasks = make(map[string]*orchestrator.TaskStatus)
	s.messages = make(map[string][]*orchestrator.TaskMessage)
}

// mergePatch applies a patch to a record in place. Caller holds s.mu.
// A status change on an already-terminal record is dropped.
func (s *Store) mergePatch(record *orchestrator.TaskStatus, patch orchestrator.StatusPatch) {
	if patch.Status != nil && !record.IsTerminal() {
		record.Status = *patch.Status
	}
	if patch.Progress != nil {
		record.Progress = orchestrator.ClampProgress(*patch.Progress)
	}
	if patch.Result != nil {
		record.Result = patch.Result
	}
	if patch.Error != nil {
		record.Error = *patch.Error
	}
	if patch.Metadata != nil {
		if record.Metadata == nil {
			record.Metadata = make(map[string]any, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			record.Metadata[k] = v
		}
	}
}

// scheduleEvictionLocked arms the eviction timer for a terminal task,
// replacing any pending timer. Caller holds s.mu.
func (s *Store) scheduleEvictionLocked(record *orchestrator.TaskStatus) {
	if existing, ok := s.evictions[record.TaskID]; ok {
		existing.active = false
		existing.timer.Stop()
	}

	taskID := record.TaskID
	eviction := &evictionTimer{active: true}
	eviction.timer = s.clock.AfterFunc(s.retentionFor(record.TaskType), func() {
		s.evict(taskID, eviction)
	})
	s.evictions[taskID] = eviction
}

// retentionFor returns the configured retention delay for a task type,
// falling back to the type's default.
func (s *Store) retentionFor(taskType orchestrator.TaskType) time.Duration {
	if delay, ok := s.retention[taskType]; ok && delay > 0 {
		return delay
	}
	return taskType.RetentionDelay()
}

// evict removes a task and its messages once its retention delay has
// elapsed. The arena entry's active flag makes a timer that fires
// concurrently with a reschedule or Close a guaranteed no-op.
func (s *Store) evict(taskID string, eviction *evictionTimer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !eviction.active {
		return
	}
	eviction.active = false

	delete(s.tasks, taskID)
	delete(s.messages, taskID)
	delete(s.evictions, taskID)

	s.logger.Debug("evicted terminal task", "taskId", taskID)
}

// pruneMessagesLocked drops expired messages for a task. Caller holds s.mu.
func (s *Store) pruneMessagesLocked(taskID string, now time.Time) {
	messages, ok := s.messages[taskID]
	if !ok {
		return
	}

	kept := messages[:0]
	for _, message := range messages {
		if !message.Expired(now) {
			kept = append(kept, message)
		}
	}
	if len(kept) == 0 {
		delete(s.messages, taskID)
		return
	}
	s.messages[taskID] = kept
}

// syncMirror mirrors a mutation to the durable store, fire and forget.
func (s *Store) syncMirror(taskID, userID string, fields map[string]any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()

		if err := s.mirror.UpdateByID(ctx, taskID, userID, fields); err != nil {
			s.logger.Warn("durable mirror sync failed",
				"taskId", taskID,
				"error", MirrorError{TaskID: taskID, Err: err})
		}
	}()
}

// publish announces a task notification on the bus, fail open.
func (s *Store) publish(ctx context.Context, topic event.Topic, record *orchestrator.TaskStatus) {
	if s.bus == nil {
		return
	}

	notification := &orchestrator.TaskNotification{
		TaskID:   record.TaskID,
		UserID:   record.UserID,
		Status:   record.Status,
		Progress: record.Progress,
		TaskType: record.TaskType,
		Error:    record.Error,
	}
	if record.Metadata != nil {
		notification.ConversationID, _ = record.Metadata["conversationId"].(string)
		notification.OrganizationSlug, _ = record.Metadata["organizationSlug"].(string)
		notification.AgentSlug, _ = record.Metadata["agentSlug"].(string)
	}

	if err := s.bus.Publish(ctx, &event.TaskNotificationEvent{Topic: topic, Notification: notification}); err != nil {
		s.logger.Warn("task notification publish failed",
			"topic", string(topic),
			"taskId", record.TaskID,
			"error", err)
	}
}

// mirrorFields flattens a task record into the durable store's field map.
func mirrorFields(record *orchestrator.TaskStatus) map[string]any {
	fields := map[string]any{
		"status":     string(record.Status),
		"progress":   record.Progress,
		"task_type":  string(record.TaskType),
		"updated_at": record.UpdatedAt,
	}
	if record.Result != nil {
		fields["result"] = record.Result
	}
	if record.Error != "" {
		fields["error"] = record.Error
	}
	if record.Metadata != nil {
		fields["metadata"] = record.Metadata
	}
	return fields
}
