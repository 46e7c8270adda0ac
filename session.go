// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"strings"
	"time"
)

// DefaultOrganizationSlug is substituted when a subscriber does not
// present an organization.
const DefaultOrganizationSlug = "global"

// StreamSession binds one live subscriber connection to a task's event
// stream. Sessions are ephemeral: they are created when a subscriber
// connects and destroyed on explicit unregister, terminal event, or
// inactivity timeout, whichever comes first.
type StreamSession struct {
	SessionID        string    `json:"sessionId"`
	TaskID           string    `json:"taskId"`
	UserID           string    `json:"userId"`
	AgentSlug        string    `json:"agentSlug"`
	OrganizationSlug string    `json:"organizationSlug"`
	ConversationID   string    `json:"conversationId,omitzero"`
	StreamID         string    `json:"streamId,omitzero"`
	RegisteredAt     time.Time `json:"registeredAt"`
	LastEventAt      time.Time `json:"lastEventAt"`
	ConversationKey  string    `json:"conversationKey"`
}

// Clone returns a copy of the session.
func (s *StreamSession) Clone() *StreamSession {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// NormalizeOrganizationSlug returns the organization slug with the
// global default substituted for empty values.
func NormalizeOrganizationSlug(slug string) string {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return DefaultOrganizationSlug
	}
	return slug
}

// ConversationKey derives the composite fallback lookup key for a
// session: "org::agent::conversation", with "none" standing in for a
// missing conversation. Only the most recently registered session per
// key is reachable through it.
func ConversationKey(organizationSlug, agentSlug, conversationID string) string {
	organizationSlug = NormalizeOrganizationSlug(organizationSlug)
	if conversationID == "" {
		conversationID = "none"
	}
	return organizationSlug + "::" + agentSlug + "::" + conversationID
}
