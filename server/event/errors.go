// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"errors"
)

var (
	// ErrQueueClosed is returned when operating on a closed queue.
	ErrQueueClosed = errors.New("event queue is closed")

	// ErrQueueEmpty is returned by non-blocking dequeues on an empty queue.
	ErrQueueEmpty = errors.New("event queue is empty")

	// ErrQueueFull is returned when an enqueue would exceed the queue capacity.
	ErrQueueFull = errors.New("event queue is full")

	// ErrInvalidQueueSize is returned when a queue is created with a negative size.
	ErrInvalidQueueSize = errors.New("queue size cannot be negative")

	// ErrBusClosed is returned when publishing on a closed bus.
	ErrBusClosed = errors.New("event bus is closed")
)
