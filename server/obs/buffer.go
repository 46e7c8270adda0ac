// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

package obs

import (
	"log/slog"
	"sync"

	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/event"
)

// DefaultCapacity is the default ring capacity of the buffer.
const DefaultCapacity = 1000

// Buffer is a bounded ring of recent records. Push appends and evicts
// the oldest record once the capacity is exceeded; Snapshot returns
// the retained records in push order. Live subscribers each get a
// bounded event queue fed on every push, best effort: a full queue
// drops the record for that subscriber only.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	records  []*Record
	start    int
	count    int
	feeds    map[int]*event.EventQueue
	nextFeed int
	feedSize int
	logger   *slog.Logger
	closed   bool
}

// BufferConfig holds configuration for a Buffer.
type BufferConfig struct {
	// Capacity is the maximum number of retained records.
	// Zero means DefaultCapacity.
	Capacity int

	// FeedSize is the per-subscriber queue size. Zero means the
	// event package default.
	FeedSize int

	// Logger is used for dropped-record warnings. Nil means slog.Default.
	Logger *slog.Logger
}

// NewBuffer creates a new observability buffer.
func NewBuffer(config BufferConfig) *Buffer {
	capacity := config.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Buffer{
		capacity: capacity,
		records:  make([]*Record, capacity),
		feeds:    make(map[int]*event.EventQueue),
		feedSize: config.FeedSize,
		logger:   logger,
	}
}

// Push appends a record to the ring and fans it out to every live
// feed. The oldest record is evicted once the ring is full.
func (b *Buffer) Push(record *Record) {
	if record == nil {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	idx := (b.start + b.count) % b.capacity
	if b.count == b.capacity {
		// Ring full: overwrite the oldest slot.
		b.records[b.start] = record
		b.start = (b.start + 1) % b.capacity
	} else {
		b.records[idx] = record
		b.count++
	}

	feeds := make([]*event.EventQueue, 0, len(b.feeds))
	for _, feed := range b.feeds {
		feeds = append(feeds, feed)
	}
	b.mu.Unlock()

	ev := &RecordEvent{Record: record}
	for _, feed := range feeds {
		if err := feed.Enqueue(ev); err != nil {
			b.logger.Warn("dropped record for slow feed", "eventType", record.EventType, "error", err)
		}
	}
}

// Snapshot returns the retained records in push order.
func (b *Buffer) Snapshot() []*Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Record, 0, b.count)
	for i := 0; i < b.count; i++ {
		out = append(out, b.records[(b.start+i)%b.capacity])
	}
	return out
}

// Subscribe returns a live feed of records pushed after the call, and
// a cancel function that detaches and closes the feed. Cancel is
// idempotent.
func (b *Buffer) Subscribe() (*event.EventQueue, func()) {
	queue, err := event.NewEventQueue(b.feedSize)
	if err != nil {
		// Only reachable with a negative feed size; fall back to default.
		queue, _ = event.NewEventQueue(0)
	}

	b.mu.Lock()
	id := b.nextFeed
	b.nextFeed++
	b.feeds[id] = queue
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.feeds, id)
			b.mu.Unlock()
			queue.Close()
		})
	}
	return queue, cancel
}

// Len returns the number of retained records.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Capacity returns the ring capacity.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// FeedCount returns the number of live feeds.
func (b *Buffer) FeedCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.feeds)
}

// Close closes every live feed and stops accepting pushes.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	feeds := make([]*event.EventQueue, 0, len(b.feeds))
	for _, feed := range b.feeds {
		feeds = append(feeds, feed)
	}
	b.feeds = make(map[int]*event.EventQueue)
	b.mu.Unlock()

	for _, feed := range feeds {
		feed.Close()
	}
}
