// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

// Package session provides the registry of live subscriber sessions.
// A session is reachable by its primary session ID, by its optional
// stream ID, and by its conversation key; the conversation-key index
// is last-writer-wins. Every index mutation happens transactionally
// with the others, and each session carries a sliding inactivity
// timer.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	orchestrator "github.com/GolferGeek/orchestrator-ai-v2-sub005"
)

const (
	// DefaultInactivityTimeout is the sliding expiry applied to a
	// session that receives no events.
	DefaultInactivityTimeout = 60 * time.Second

	// MinInactivityTimeout is the floor applied to configured
	// inactivity timeouts.
	MinInactivityTimeout = 5 * time.Second
)

// RegistryConfig holds configuration for a Registry.
type RegistryConfig struct {
	// InactivityTimeout overrides DefaultInactivityTimeout when
	// positive; values below MinInactivityTimeout are raised to it.
	InactivityTimeout time.Duration

	// Clock drives timestamps and inactivity timers. Nil means the
	// real clock.
	Clock clock.Clock

	// Logger is used for expiry diagnostics. Nil means slog.Default.
	Logger *slog.Logger
}

// RegisterParams are the inputs for registering a session.
type RegisterParams struct {
	TaskID           string
	UserID           string
	AgentSlug        string
	OrganizationSlug string
	ConversationID   string
	StreamID         string
}

// ResolveFilter selects a session for an incoming event. An exact
// StreamID match wins; otherwise the conversation key derived from
// the organization/agent/conversation triple is tried.
type ResolveFilter struct {
	StreamID         string
	AgentSlug        string
	OrganizationSlug string
	ConversationID   string
}

// inactivityTimer is the arena entry for one session's sliding expiry.
// The active flag is flipped before the timer is stopped so a timer
// firing concurrently with unregister or touch is a no-op.
type inactivityTimer struct {
	timer  *clock.Timer
	active bool
}

// Registry tracks live subscriber sessions under three lookup keys.
type Registry struct {
	mu             sync.RWMutex
	sessions       map[string]*orchestrator.StreamSession
	byStream       map[string]string
	byConversation map[string]string
	timers         map[string]*inactivityTimer

	timeout time.Duration
	clock   clock.Clock
	logger  *slog.Logger
}

// NewRegistry creates a new session registry.
func NewRegistry(config RegistryConfig) *Registry {
	timeout := config.InactivityTimeout
	if timeout <= 0 {
		timeout = DefaultInactivityTimeout
	}
	if timeout < MinInactivityTimeout {
		timeout = MinInactivityTimeout
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		sessions:       make(map[string]*orchestrator.StreamSession),
		byStream:       make(map[string]string),
		byConversation: make(map[string]string),
		timers:         make(map[string]*inactivityTimer),
		timeout:        timeout,
		clock:          clk,
		logger:         logger,
	}
}

// Register inserts a new session into all three indices and arms its
// inactivity timer. The conversation-key index is last-writer-wins:
// an older session sharing the triple stays reachable only by its own
// stream ID.
func (r *Registry) Register(params RegisterParams) (string, error) {
	if params.TaskID == "" {
		return "", orchestrator.NewValidationError("taskId", fmt.Errorf("cannot be empty"))
	}
	if params.UserID == "" {
		return "", orchestrator.NewValidationError("userId", fmt.Errorf("cannot be empty"))
	}
	if params.AgentSlug == "" {
		return "", orchestrator.NewValidationError("agentSlug", fmt.Errorf("cannot be empty"))
	}

	now := r.clock.Now()
	session := &orchestrator.StreamSession{
		SessionID:        uuid.NewString(),
		TaskID:           params.TaskID,
		UserID:           params.UserID,
		AgentSlug:        params.AgentSlug,
		OrganizationSlug: orchestrator.NormalizeOrganizationSlug(params.OrganizationSlug),
		ConversationID:   params.ConversationID,
		StreamID:         params.StreamID,
		RegisteredAt:     now,
		LastEventAt:      now,
		ConversationKey:  orchestrator.ConversationKey(params.OrganizationSlug, params.AgentSlug, params.ConversationID),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.SessionID] = session
	if session.StreamID != "" {
		r.byStream[session.StreamID] = session.SessionID
	}
	r.byConversation[session.ConversationKey] = session.SessionID
	r.armTimerLocked(session.SessionID)

	return session.SessionID, nil
}

// Unregister removes a session from all indices and clears its timer.
// It is idempotent: removing an unknown session is a no-op and returns
// false. Secondary index entries are removed only while they still
// point at this session, so a newer last-writer-wins registration is
// left intact.
func (r *Registry) Unregister(sessionID, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterLocked(sessionID, reason)
}

// unregisterLocked removes a session from all indices and clears its
// timer. Caller holds r.mu.
func (r *Registry) unregisterLocked(sessionID, reason string) bool {
	session, ok := r.sessions[sessionID]
	if !ok {
		return false
	}

	delete(r.sessions, sessionID)
	if session.StreamID != "" && r.byStream[session.StreamID] == sessionID {
		delete(r.byStream, session.StreamID)
	}
	if r.byConversation[session.ConversationKey] == sessionID {
		delete(r.byConversation, session.ConversationKey)
	}
	if timer, ok := r.timers[sessionID]; ok {
		timer.active = false
		timer.timer.Stop()
		delete(r.timers, sessionID)
	}

	r.logger.Debug("unregistered session",
		"sessionId", sessionID,
		"taskId", session.TaskID,
		"reason", reason)
	return true
}

// Resolve returns a copy of the session matching the filter, or nil.
func (r *Registry) Resolve(filter ResolveFilter) *orchestrator.StreamSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if filter.StreamID != "" {
		if sessionID, ok := r.byStream[filter.StreamID]; ok {
			return r.sessions[sessionID].Clone()
		}
	}

	key := orchestrator.ConversationKey(filter.OrganizationSlug, filter.AgentSlug, filter.ConversationID)
	if sessionID, ok := r.byConversation[key]; ok {
		return r.sessions[sessionID].Clone()
	}
	return nil
}

// Get returns a copy of the session by its primary ID, or nil.
func (r *Registry) Get(sessionID string) *orchestrator.StreamSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID].Clone()
}

// Touch records event delivery on a session: LastEventAt is updated
// and the inactivity timer restarts its sliding window. Returns false
// for unknown sessions.
func (r *Registry) Touch(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return false
	}

	session.LastEventAt = r.clock.Now()
	r.armTimerLocked(sessionID)
	return true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close unregisters every session and clears all timers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, timer := range r.timers {
		timer.active = false
		timer.timer.Stop()
	}
	r.sessions = make(map[string]*orchestrator.StreamSession)
	r.byStream = make(map[string]string)
	r.byConversation = make(map[string]string)
	r.timers = make(map[string]*inactivityTimer)
}

// armTimerLocked replaces the session's inactivity timer with a fresh
// window. Caller holds r.mu.
func (r *Registry) armTimerLocked(sessionID string) {
	if existing, ok := r.timers[sessionID]; ok {
		existing.active = false
		existing.timer.Stop()
	}

	entry := &inactivityTimer{active: true}
	entry.timer = r.clock.AfterFunc(r.timeout, func() {
		r.expire(sessionID, entry)
	})
	r.timers[sessionID] = entry
}

// expire removes an inactive session. The arena entry's active flag
// makes a timer firing concurrently with touch or unregister a no-op.
// The flag check and the removal happen under one lock acquisition so
// a touch cannot slip in between and revive a session that is about to
// be removed.
func (r *Registry) expire(sessionID string, entry *inactivityTimer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !entry.active {
		return
	}
	entry.active = false

	if r.unregisterLocked(sessionID, "inactivity") {
		r.logger.Debug("session expired for inactivity", "sessionId", sessionID)
	}
}
