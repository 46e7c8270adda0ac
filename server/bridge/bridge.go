// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge consumes the raw execution events produced by the
// pipeline, resolves each to a live session, mutates the task status
// store, and forwards the corresponding envelope to the protocol
// emitter. Events with no resolvable session are dropped. Terminal
// events additionally unregister the session.
package bridge

import (
	"context"
	"fmt"
	"log/slog"

	orchestrator "github.com/GolferGeek/orchestrator-ai-v2-sub005"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/event"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/session"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/stream"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/task"
)

// BridgeConfig holds configuration for a Bridge.
type BridgeConfig struct {
	Registry *session.Registry
	Store    *task.Store
	Emitter  *stream.Emitter

	// Logger is used for dropped-event warnings. Nil means slog.Default.
	Logger *slog.Logger
}

// Bridge routes execution events into store mutations and protocol
// emissions.
type Bridge struct {
	registry *session.Registry
	store    *task.Store
	emitter  *stream.Emitter
	logger   *slog.Logger
}

// NewBridge creates a new event bridge.
func NewBridge(config BridgeConfig) (*Bridge, error) {
	if config.Registry == nil {
		return nil, fmt.Errorf("session registry cannot be nil")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("task store cannot be nil")
	}
	if config.Emitter == nil {
		return nil, fmt.Errorf("protocol emitter cannot be nil")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		registry: config.Registry,
		store:    config.Store,
		emitter:  config.Emitter,
		logger:   logger,
	}, nil
}

// Register subscribes the bridge's handlers on the bus. Call once at
// start-up, before events flow.
func (b *Bridge) Register(bus *event.Bus) {
	bus.Subscribe(event.TopicStreamChunk, b.handleChunk)
	bus.Subscribe(event.TopicStreamComplete, b.handleComplete)
	bus.Subscribe(event.TopicStreamError, b.handleError)
}

// handleChunk processes one progress chunk: touch the session, record
// a task message, move the task to running (unless it already
// completed), and forward a progress envelope.
func (b *Bridge) handleChunk(ctx context.Context, ev event.Event) error {
	chunk, ok := ev.(*event.ChunkEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T on %s", ev, event.TopicStreamChunk)
	}

	sess := b.resolve(chunk.Chunk.Correlation, event.TopicStreamChunk)
	if sess == nil {
		return nil
	}
	b.registry.Touch(sess.SessionID)

	metadata := chunk.Chunk.Chunk.Metadata
	var progressPtr *int
	if progress, ok := orchestrator.ExtractProgress(metadata); ok {
		progressPtr = &progress
	}

	if _, err := b.store.AddTaskMessage(ctx, sess.TaskID, chunk.Chunk.Chunk.Content, orchestrator.MessageTypeProgress, metadata, progressPtr); err != nil {
		b.logger.Warn("failed to record progress message", "taskId", sess.TaskID, "error", err)
	}

	if current := b.store.GetTaskStatus(sess.TaskID, sess.UserID); current == nil || current.Status != orchestrator.TaskStateCompleted {
		running := orchestrator.TaskStateRunning
		patch := orchestrator.StatusPatch{Status: &running, Progress: progressPtr}
		if err := b.store.UpdateTaskStatus(ctx, sess.TaskID, sess.UserID, patch); err != nil {
			b.logger.Warn("failed to update task from chunk", "taskId", sess.TaskID, "error", err)
		}
	}

	b.emitter.EmitProgress(b.eventContext(sess), chunk.Chunk.Correlation, chunk.Chunk.Chunk.Content, metadata, progressPtr)
	return nil
}

// handleComplete processes a completion: record a status message,
// transition to completed with progress 100 (unless already
// completed), forward the completion envelope, and unconditionally
// unregister the session.
func (b *Bridge) handleComplete(ctx context.Context, ev event.Event) error {
	complete, ok := ev.(*event.CompleteEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T on %s", ev, event.TopicStreamComplete)
	}

	sess := b.resolve(complete.Complete.Correlation, event.TopicStreamComplete)
	if sess == nil {
		return nil
	}
	b.registry.Touch(sess.SessionID)

	if _, err := b.store.AddTaskMessage(ctx, sess.TaskID, complete.Complete.UserMessage, orchestrator.MessageTypeStatus, nil, nil); err != nil {
		b.logger.Warn("failed to record completion message", "taskId", sess.TaskID, "error", err)
	}

	if current := b.store.GetTaskStatus(sess.TaskID, sess.UserID); current == nil || current.Status != orchestrator.TaskStateCompleted {
		if err := b.store.CompleteTask(ctx, sess.TaskID, sess.UserID, nil); err != nil {
			b.logger.Warn("failed to complete task", "taskId", sess.TaskID, "error", err)
		}
	}

	b.emitter.EmitComplete(b.eventContext(sess), complete.Complete.Correlation, complete.Complete.UserMessage)
	b.registry.Unregister(sess.SessionID, "stream complete")
	return nil
}

// handleError processes a failure: record an error message, transition
// to failed with the error text (unless already failed), forward the
// error envelope, and unconditionally unregister the session.
func (b *Bridge) handleError(ctx context.Context, ev event.Event) error {
	failure, ok := ev.(*event.ErrorEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T on %s", ev, event.TopicStreamError)
	}

	sess := b.resolve(failure.Failure.Correlation, event.TopicStreamError)
	if sess == nil {
		return nil
	}
	b.registry.Touch(sess.SessionID)

	if _, err := b.store.AddTaskMessage(ctx, sess.TaskID, failure.Failure.Error, orchestrator.MessageTypeError, nil, nil); err != nil {
		b.logger.Warn("failed to record error message", "taskId", sess.TaskID, "error", err)
	}

	if current := b.store.GetTaskStatus(sess.TaskID, sess.UserID); current == nil || current.Status != orchestrator.TaskStateFailed {
		if err := b.store.FailTask(ctx, sess.TaskID, sess.UserID, failure.Failure.Error); err != nil {
			b.logger.Warn("failed to fail task", "taskId", sess.TaskID, "error", err)
		}
	}

	b.emitter.EmitError(b.eventContext(sess), failure.Failure.Correlation, failure.Failure.Error)
	b.registry.Unregister(sess.SessionID, "stream error")
	return nil
}

// resolve locates the session for a correlation, logging a warning for
// uncorrelated events before dropping them.
func (b *Bridge) resolve(corr orchestrator.Correlation, topic event.Topic) *orchestrator.StreamSession {
	sess := b.registry.Resolve(session.ResolveFilter{
		StreamID:         corr.StreamID,
		AgentSlug:        corr.AgentSlug,
		OrganizationSlug: corr.OrganizationSlug,
		ConversationID:   corr.ConversationID,
	})
	if sess == nil {
		b.logger.Warn("dropped uncorrelated event",
			"topic", string(topic),
			"streamId", corr.StreamID,
			"agentSlug", corr.AgentSlug)
	}
	return sess
}

func (b *Bridge) eventContext(sess *orchestrator.StreamSession) *orchestrator.EventContext {
	return &orchestrator.EventContext{
		TaskID:           sess.TaskID,
		UserID:           sess.UserID,
		AgentSlug:        sess.AgentSlug,
		OrganizationSlug: sess.OrganizationSlug,
		ConversationID:   sess.ConversationID,
	}
}
