// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"context"
	"sync"
)

// DefaultMaxQueueSize is the default maximum queue size.
const DefaultMaxQueueSize = 256

// EventQueue is a bounded queue of events feeding a single live
// subscriber. Producers never block: an enqueue on a full queue fails
// with ErrQueueFull so a slow subscriber cannot stall the delivery
// path for everyone else.
type EventQueue struct {
	events     chan Event
	maxSize    int
	mu         sync.RWMutex
	closed     bool
	closeOnce  sync.Once
	doneSignal chan struct{}
}

// NewEventQueue creates a new event queue with the specified maximum
// size. If maxSize is 0, DefaultMaxQueueSize is used.
func NewEventQueue(maxSize int) (*EventQueue, error) {
	if maxSize < 0 {
		return nil, ErrInvalidQueueSize
	}
	if maxSize == 0 {
		maxSize = DefaultMaxQueueSize
	}

	return &EventQueue{
		events:     make(chan Event, maxSize),
		maxSize:    maxSize,
		doneSignal: make(chan struct{}),
	}, nil
}

// Enqueue adds an event to the queue without blocking. Returns
// ErrQueueClosed if the queue is closed and ErrQueueFull if the
// subscriber has fallen too far behind.
func (q *EventQueue) Enqueue(ev Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.events <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue retrieves an event from the queue. If noWait is true it
// returns immediately with ErrQueueEmpty when nothing is buffered;
// otherwise it blocks until an event arrives, the context is
// cancelled, or the queue is closed and drained.
func (q *EventQueue) Dequeue(ctx context.Context, noWait bool) (Event, error) {
	if noWait {
		select {
		case ev := <-q.events:
			return ev, nil
		default:
			if q.IsClosed() {
				return nil, ErrQueueClosed
			}
			return nil, ErrQueueEmpty
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev := <-q.events:
		return ev, nil
	case <-q.doneSignal:
		// Drain anything still buffered before reporting closure.
		select {
		case ev := <-q.events:
			return ev, nil
		default:
			return nil, ErrQueueClosed
		}
	}
}

// Close closes the queue. Pending events remain dequeueable; further
// enqueues fail with ErrQueueClosed. Close is idempotent.
func (q *EventQueue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		defer q.mu.Unlock()

		q.closed = true
		close(q.doneSignal)
	})
}

// IsClosed returns true if the queue is closed.
func (q *EventQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Size returns the current number of buffered events.
func (q *EventQueue) Size() int {
	return len(q.events)
}

// Capacity returns the maximum capacity of the queue.
func (q *EventQueue) Capacity() int {
	return q.maxSize
}
