// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth provides the subscriber identity used to gate stream
// access. Authentication itself happens upstream; this package parses
// and verifies the bearer token the upstream layer issues, and falls
// back to the identity headers it forwards.
package auth

// User represents an authenticated or unauthenticated subscriber.
type User interface {
	// IsAuthenticated returns true if the user is authenticated, false otherwise.
	IsAuthenticated() bool

	// UserID returns the subscriber's user ID. For unauthenticated
	// users this returns an empty string.
	UserID() string
}

// UnauthenticatedUser represents an unauthenticated subscriber. It is
// safe to use as a zero value and is immutable.
type UnauthenticatedUser struct{}

// IsAuthenticated always returns false for unauthenticated users.
func (u UnauthenticatedUser) IsAuthenticated() bool {
	return false
}

// UserID always returns an empty string for unauthenticated users.
func (u UnauthenticatedUser) UserID() string {
	return ""
}

// AuthenticatedUser is a subscriber identified by a verified token or
// by upstream identity headers.
type AuthenticatedUser struct {
	ID string
}

// IsAuthenticated always returns true for authenticated users.
func (u AuthenticatedUser) IsAuthenticated() bool {
	return true
}

// UserID returns the subscriber's user ID.
func (u AuthenticatedUser) UserID() string {
	return u.ID
}
