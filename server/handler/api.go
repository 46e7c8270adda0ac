// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-json-experiment/json"

	orchestrator "github.com/GolferGeek/orchestrator-ai-v2-sub005"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/auth"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/event"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/obs"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/session"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/task"
)

// APIHandlerConfig holds configuration for an APIHandler.
type APIHandlerConfig struct {
	Store    *task.Store
	Registry *session.Registry
	Buffer   *obs.Buffer
	Bus      *event.Bus
	Verifier *auth.Verifier

	// Logger is used for request diagnostics. Nil means slog.Default.
	Logger *slog.Logger
}

// APIHandler serves the JSON endpoints for task management, event
// injection, and server statistics.
type APIHandler struct {
	store    *task.Store
	registry *session.Registry
	buffer   *obs.Buffer
	bus      *event.Bus
	verifier *auth.Verifier
	logger   *slog.Logger
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(config APIHandlerConfig) (*APIHandler, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("task store cannot be nil")
	}
	if config.Registry == nil {
		return nil, fmt.Errorf("session registry cannot be nil")
	}
	if config.Buffer == nil {
		return nil, fmt.Errorf("observability buffer cannot be nil")
	}
	if config.Bus == nil {
		return nil, fmt.Errorf("event bus cannot be nil")
	}
	if config.Verifier == nil {
		return nil, fmt.Errorf("token verifier cannot be nil")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &APIHandler{
		store:    config.Store,
		registry: config.Registry,
		buffer:   config.Buffer,
		bus:      config.Bus,
		verifier: config.Verifier,
		logger:   logger,
	}, nil
}

// Routes mounts the JSON endpoints on a chi router.
func (h *APIHandler) Routes(r chi.Router) {
	r.Post("/tasks", h.CreateTask)
	r.Get("/tasks", h.ActiveTasks)
	r.Get("/tasks/{taskID}", h.GetTask)
	r.Get("/tasks/{taskID}/messages", h.GetMessages)
	r.Post("/events/chunk", h.InjectChunk)
	r.Post("/events/complete", h.InjectComplete)
	r.Post("/events/error", h.InjectError)
	r.Get("/stats", h.Stats)
}

type createTaskRequest struct {
	TaskID   string                    `json:"taskId"`
	TaskType orchestrator.TaskType     `json:"taskType,omitzero"`
	Initial  *orchestrator.StatusPatch `json:"initial,omitzero"`
}

// CreateTask registers a new tracked task owned by the caller.
func (h *APIHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	user, _, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req createTaskRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	taskType := req.TaskType
	if taskType == "" {
		taskType = orchestrator.TaskTypeEphemeral
	}

	status, err := h.store.CreateTask(r.Context(), req.TaskID, user.UserID(), taskType, req.Initial)
	if err != nil {
		var exists *orchestrator.TaskExistsError
		var invalid *orchestrator.ValidationError
		switch {
		case errors.As(err, &exists):
			h.writeError(w, http.StatusConflict, err)
		case errors.As(err, &invalid):
			h.writeError(w, http.StatusBadRequest, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, status)
}

// GetTask returns the current status of one task owned by the caller.
func (h *APIHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	user, _, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	status := h.store.GetTaskStatus(chi.URLParam(r, "taskID"), user.UserID())
	if status == nil {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("task not found"))
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// GetMessages returns the retained progress messages of one task owned
// by the caller.
func (h *APIHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	user, _, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	taskID := chi.URLParam(r, "taskID")
	if h.store.GetTaskStatus(taskID, user.UserID()) == nil {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("task not found"))
		return
	}

	messages := h.store.GetTaskMessages(taskID, user.UserID())
	h.writeJSON(w, http.StatusOK, map[string]any{
		"taskId":   taskID,
		"messages": messages,
	})
}

// ActiveTasks returns every non-terminal task owned by the caller.
func (h *APIHandler) ActiveTasks(w http.ResponseWriter, r *http.Request) {
	user, _, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	tasks := h.store.GetUserActiveTasks(user.UserID())
	h.writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// InjectChunk publishes a progress chunk from the execution pipeline.
func (h *APIHandler) InjectChunk(w http.ResponseWriter, r *http.Request) {
	var payload orchestrator.StreamChunk
	if err := json.UnmarshalRead(r.Body, &payload); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	h.publish(w, r, &event.ChunkEvent{Chunk: &payload})
}

// InjectComplete publishes a stream completion from the execution
// pipeline.
func (h *APIHandler) InjectComplete(w http.ResponseWriter, r *http.Request) {
	var payload orchestrator.StreamComplete
	if err := json.UnmarshalRead(r.Body, &payload); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	h.publish(w, r, &event.CompleteEvent{Complete: &payload})
}

// InjectError publishes a stream failure from the execution pipeline.
func (h *APIHandler) InjectError(w http.ResponseWriter, r *http.Request) {
	var payload orchestrator.StreamFailure
	if err := json.UnmarshalRead(r.Body, &payload); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	h.publish(w, r, &event.ErrorEvent{Failure: &payload})
}

// Stats reports current store, registry, and buffer occupancy.
func (h *APIHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.store.GetStats()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"activeTasks":     stats.ActiveTasks,
		"tasksByUser":     stats.TasksByUser,
		"trackedMessages": stats.TrackedMessages,
		"activeSessions":  h.registry.Count(),
		"bufferedRecords": h.buffer.Len(),
		"bufferCapacity":  h.buffer.Capacity(),
	})
}

func (h *APIHandler) publish(w http.ResponseWriter, r *http.Request, ev event.Event) {
	if err := h.bus.Publish(r.Context(), ev); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *APIHandler) authenticate(w http.ResponseWriter, r *http.Request) (auth.User, *auth.Claims, bool) {
	user, claims, err := h.verifier.FromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid credentials"))
		return nil, nil, false
	}
	if !user.IsAuthenticated() {
		h.writeError(w, http.StatusUnauthorized, fmt.Errorf("authentication required"))
		return nil, nil, false
	}
	return user, claims, true
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.MarshalWrite(w, body); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
