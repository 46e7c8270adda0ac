// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// Identity headers forwarded by the upstream gateway when no bearer
// token is presented.
const (
	HeaderUserID           = "X-User-ID"
	HeaderOrganizationSlug = "X-Organization-Slug"
)

// Claims carries the subscriber identity and the optional scope
// restrictions embedded in a verified token.
type Claims struct {
	UserID           string
	TaskID           string
	AgentSlug        string
	OrganizationSlug string
}

// Matches reports whether the claims permit subscribing with the given
// task, agent, and organization. Each empty claim is unscoped and
// matches anything; a non-empty claim must equal the requested value.
func (c *Claims) Matches(taskID, agentSlug, organizationSlug string) bool {
	if c.TaskID != "" && c.TaskID != taskID {
		return false
	}
	if c.AgentSlug != "" && c.AgentSlug != agentSlug {
		return false
	}
	if c.OrganizationSlug != "" && c.OrganizationSlug != organizationSlug {
		return false
	}
	return true
}

// Verifier verifies bearer tokens issued by the upstream gateway.
type Verifier struct {
	key []byte
}

// NewVerifier creates a verifier for tokens signed with the shared
// HS256 key.
func NewVerifier(key []byte) (*Verifier, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("signing key cannot be empty")
	}
	return &Verifier{key: key}, nil
}

// Verify parses and validates a compact token and extracts its claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	tok, err := jwt.Parse([]byte(token), jwt.WithKey(jwa.HS256(), v.key), jwt.WithValidate(true))
	if err != nil {
		return nil, fmt.Errorf("failed to verify token: %w", err)
	}

	subject, ok := tok.Subject()
	if !ok || subject == "" {
		return nil, fmt.Errorf("token carries no subject")
	}

	claims := &Claims{UserID: subject}
	// Scope claims are optional; absent claims leave the zero value,
	// which means unscoped.
	_ = tok.Get("taskId", &claims.TaskID)
	_ = tok.Get("agentSlug", &claims.AgentSlug)
	_ = tok.Get("organizationSlug", &claims.OrganizationSlug)

	return claims, nil
}

// FromRequest resolves the subscriber identity for an HTTP request. A
// bearer token, when present, must verify; otherwise the upstream
// identity headers are trusted. Requests carrying neither resolve to
// UnauthenticatedUser.
func (v *Verifier) FromRequest(r *http.Request) (User, *Claims, error) {
	authorization := r.Header.Get("Authorization")
	if authorization != "" {
		token, ok := strings.CutPrefix(authorization, "Bearer ")
		if !ok {
			return UnauthenticatedUser{}, nil, fmt.Errorf("malformed authorization header")
		}
		claims, err := v.Verify(token)
		if err != nil {
			return UnauthenticatedUser{}, nil, err
		}
		return AuthenticatedUser{ID: claims.UserID}, claims, nil
	}

	if userID := r.Header.Get(HeaderUserID); userID != "" {
		claims := &Claims{
			UserID:           userID,
			OrganizationSlug: r.Header.Get(HeaderOrganizationSlug),
		}
		return AuthenticatedUser{ID: userID}, claims, nil
	}

	return UnauthenticatedUser{}, nil, nil
}
