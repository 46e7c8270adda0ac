// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"context"
	"log/slog"
	"sync"
)

// Handler processes one event published under a topic the handler was
// registered for. A handler error is logged by the bus and never
// propagated to the publisher: one task's failure must not disturb
// event processing for unrelated tasks.
type Handler func(ctx context.Context, ev Event) error

// Bus is an explicit, typed publish/subscribe bus. Handlers are
// registered per topic at start-up and dispatched synchronously in
// registration order, so all map mutations performed inside a handler
// happen before Publish returns.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
	logger   *slog.Logger
	closed   bool
}

// NewBus creates a new event bus. A nil logger falls back to
// slog.Default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[Topic][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for a topic. Registration is expected
// at start-up, before events flow.
func (b *Bus) Subscribe(topic Topic, handler Handler) {
	if handler == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Publish dispatches an event to every handler registered for its
// topic, synchronously and in registration order. Handler errors are
// logged and swallowed. Publishing an invalid event returns the
// validation error without dispatching.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev == nil {
		return nil
	}
	if err := ev.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	handlers := b.handlers[ev.EventTopic()]
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, ev); err != nil {
			b.logger.Warn("event handler failed",
				"topic", string(ev.EventTopic()),
				"event", ev.String(),
				"error", err)
		}
	}

	return nil
}

// HandlerCount returns the number of handlers registered for a topic.
func (b *Bus) HandlerCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}

// Close marks the bus closed. Subsequent publishes return ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
