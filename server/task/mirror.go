// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
)

// Mirror is the durable store collaborator. The in-memory store
// mirrors every task mutation through it on a best-effort basis: a
// mirror failure is logged and never surfaced to the caller of the
// in-memory API, so the durable copy may lag the authoritative state.
type Mirror interface {
	// UpdateByID upserts the given fields for a task owned by ownerID.
	UpdateByID(ctx context.Context, taskID, ownerID string, fields map[string]any) error
}

// NopMirror is a Mirror that discards every update. It is used when no
// durable store is configured.
type NopMirror struct{}

var _ Mirror = (*NopMirror)(nil)

// UpdateByID discards the update.
func (NopMirror) UpdateByID(ctx context.Context, taskID, ownerID string, fields map[string]any) error {
	return nil
}
