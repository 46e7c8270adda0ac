// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

// Package handler provides the HTTP surface of the server: the
// long-lived push stream each subscriber attaches to, and the JSON
// endpoints for task management and event injection.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"

	"github.com/GolferGeek/orchestrator-ai-v2-sub005/auth"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/event"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/obs"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/session"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/stream"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/task"
)

// DefaultHeartbeat is the default keepalive interval for open streams.
const DefaultHeartbeat = 15 * time.Second

// StreamHandlerConfig holds configuration for a StreamHandler.
type StreamHandlerConfig struct {
	Store    *task.Store
	Registry *session.Registry
	Buffer   *obs.Buffer
	Verifier *auth.Verifier

	// Heartbeat overrides DefaultHeartbeat when positive.
	Heartbeat time.Duration

	// Clock drives the heartbeat ticker. Nil means the real clock.
	Clock clock.Clock

	// Logger is used for connection diagnostics. Nil means slog.Default.
	Logger *slog.Logger
}

// StreamHandler serves the per-task push stream. Each connection
// replays the buffered history for its task, then follows the live
// feed until a terminal frame is delivered, the client disconnects, or
// the server shuts down.
type StreamHandler struct {
	store     *task.Store
	registry  *session.Registry
	buffer    *obs.Buffer
	verifier  *auth.Verifier
	heartbeat time.Duration
	clock     clock.Clock
	logger    *slog.Logger
}

var _ http.Handler = (*StreamHandler)(nil)

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(config StreamHandlerConfig) (*StreamHandler, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("task store cannot be nil")
	}
	if config.Registry == nil {
		return nil, fmt.Errorf("session registry cannot be nil")
	}
	if config.Buffer == nil {
		return nil, fmt.Errorf("observability buffer cannot be nil")
	}
	if config.Verifier == nil {
		return nil, fmt.Errorf("token verifier cannot be nil")
	}
	heartbeat := config.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StreamHandler{
		store:     config.Store,
		registry:  config.Registry,
		buffer:    config.Buffer,
		verifier:  config.Verifier,
		heartbeat: heartbeat,
		clock:     clk,
		logger:    logger,
	}, nil
}

// ServeHTTP implements http.Handler for the stream endpoint.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		taskID = r.URL.Query().Get("taskId")
	}
	if taskID == "" {
		http.Error(w, "task ID required", http.StatusBadRequest)
		return
	}

	user, claims, err := h.verifier.FromRequest(r)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if !user.IsAuthenticated() {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	// The effective scope combines query parameters with token claims.
	// A request whose parameters conflict with a scoped claim is
	// refused, so a token restricted to one agent or organization
	// cannot be widened.
	scope := h.resolveScope(r, taskID, claims)
	if !claims.Matches(scope.taskID, scope.agentSlug, scope.organizationSlug) {
		http.Error(w, "token not valid for this stream", http.StatusForbidden)
		return
	}

	// Ownership gate: unknown tasks and tasks owned by someone else are
	// indistinguishable to the caller.
	status := h.store.GetTaskStatus(taskID, user.UserID())
	if status == nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Attach the live feed before replaying history so no frame pushed
	// during replay is lost.
	feed, cancelFeed := h.buffer.Subscribe()

	// A failed registration degrades the connection to delivery without
	// inactivity tracking rather than refusing it.
	sessionID := h.register(scope, user)

	ctx, cancel := context.WithCancel(r.Context())
	var once sync.Once
	teardown := func() {
		once.Do(func() {
			cancel()
			cancelFeed()
			if sessionID != "" {
				h.registry.Unregister(sessionID, "connection closed")
			}
		})
	}
	defer teardown()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	var writeMu sync.Mutex
	write := func(fn func() error) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := fn(); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := write(func() error { return stream.WriteComment(w, stream.ConnectedComment) }); err != nil {
		return
	}

	if err := h.replay(w, write, scope); err != nil {
		return
	}

	keepaliveDone := make(chan struct{})
	go func() {
		defer close(keepaliveDone)
		h.keepalive(ctx, w, write)
	}()
	// The keepalive goroutine shares the response writer; it must be
	// stopped before this handler returns.
	defer func() {
		teardown()
		<-keepaliveDone
	}()

	for {
		ev, err := feed.Dequeue(ctx, false)
		if err != nil {
			if !errors.Is(err, event.ErrQueueClosed) && ctx.Err() == nil {
				h.logger.Warn("stream feed failed", "taskId", taskID, "error", err)
			}
			return
		}

		record := h.deliverable(ev, scope)
		if record == nil {
			continue
		}
		if err := write(func() error { return stream.WriteFrame(w, record.EventType, record.Payload) }); err != nil {
			return
		}
		if sessionID != "" {
			h.registry.Touch(sessionID)
		}
		if record.Terminal() {
			return
		}
	}
}

// streamScope is the effective subscription scope for one connection:
// which task's frames to deliver, and the agent, organization, and
// conversation the session is registered under.
type streamScope struct {
	taskID           string
	agentSlug        string
	organizationSlug string
	conversationID   string
	streamID         string
}

// matches reports whether a buffered record falls inside the scope.
// The task must match exactly; organization and conversation are
// compared only when both sides carry a value.
func (s streamScope) matches(record *obs.Record) bool {
	ctx := record.Context
	if ctx == nil || ctx.TaskID != s.taskID {
		return false
	}
	if s.organizationSlug != "" && ctx.OrganizationSlug != "" && ctx.OrganizationSlug != s.organizationSlug {
		return false
	}
	if s.conversationID != "" && ctx.ConversationID != "" && ctx.ConversationID != s.conversationID {
		return false
	}
	return true
}

// resolveScope builds the connection scope from the query parameters,
// with scoped token claims filling in anything the query omits. A query
// value that conflicts with a scoped claim survives here and is
// rejected by the Matches check.
func (h *StreamHandler) resolveScope(r *http.Request, taskID string, claims *auth.Claims) streamScope {
	query := r.URL.Query()
	scope := streamScope{
		taskID:           taskID,
		agentSlug:        query.Get("agentSlug"),
		organizationSlug: query.Get("organizationSlug"),
		conversationID:   query.Get("conversationId"),
		streamID:         query.Get("streamId"),
	}
	if scope.agentSlug == "" {
		scope.agentSlug = claims.AgentSlug
	}
	if scope.organizationSlug == "" {
		scope.organizationSlug = claims.OrganizationSlug
	}
	if scope.streamID == "" {
		scope.streamID = taskID
	}
	return scope
}

// register creates the session binding this connection to the task's
// event stream. Returns an empty session ID on failure.
func (h *StreamHandler) register(scope streamScope, user auth.User) string {
	sessionID, err := h.registry.Register(session.RegisterParams{
		TaskID:           scope.taskID,
		UserID:           user.UserID(),
		AgentSlug:        scope.agentSlug,
		OrganizationSlug: scope.organizationSlug,
		ConversationID:   scope.conversationID,
		StreamID:         scope.streamID,
	})
	if err != nil {
		h.logger.Warn("session registration failed, continuing without session",
			"taskId", scope.taskID, "error", err)
		return ""
	}
	return sessionID
}

// replay writes the buffered user-facing history for the task.
// Terminal frames are skipped so a reconnect after completion does not
// immediately re-terminate; the task record itself carries the final
// state.
func (h *StreamHandler) replay(w http.ResponseWriter, write func(func() error) error, scope streamScope) error {
	for _, record := range h.buffer.Snapshot() {
		if !record.UserFacing() || record.Terminal() {
			continue
		}
		if !scope.matches(record) {
			continue
		}
		if err := write(func() error { return stream.WriteFrame(w, record.EventType, record.Payload) }); err != nil {
			return err
		}
	}
	return nil
}

// keepalive writes comment frames on the heartbeat interval until the
// connection tears down.
func (h *StreamHandler) keepalive(ctx context.Context, w http.ResponseWriter, write func(func() error) error) {
	ticker := h.clock.Ticker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := write(func() error { return stream.WriteComment(w, stream.KeepaliveComment) }); err != nil {
				return
			}
		}
	}
}

// deliverable unwraps a feed event and returns its record when it is a
// user-facing frame inside the subscription scope, nil otherwise.
func (h *StreamHandler) deliverable(ev event.Event, scope streamScope) *obs.Record {
	recordEvent, ok := ev.(*obs.RecordEvent)
	if !ok {
		return nil
	}
	record := recordEvent.Record
	if record == nil || !record.UserFacing() {
		return nil
	}
	if !scope.matches(record) {
		return nil
	}
	return record
}
