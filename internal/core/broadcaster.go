// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package core

import (
	"log/slog"
	"sync"
)

// DefaultBufferSize is the per-subscriber channel buffer.
const DefaultBufferSize = 256

// Broadcaster distributes host events to subscribers.
type Broadcaster struct {
	mu     sync.RWMutex
	buffer int
	subs   map[chan Event]map[EventType]bool // empty filter = all events
}

// NewBroadcaster creates a new broadcaster. A buffer < 1 uses DefaultBufferSize.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = DefaultBufferSize
	}
	return &Broadcaster{
		buffer: buffer,
		subs:   make(map[chan Event]map[EventType]bool),
	}
}

// Subscribe creates a channel receiving events of the given types.
// With no types, every event is delivered.
func (b *Broadcaster) Subscribe(types ...EventType) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	filter := make(map[EventType]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}

	ch := make(chan Event, b.buffer)
	b.subs[ch] = filter
	return ch
}

// Unsubscribe removes and closes a subscription channel.
// Unsubscribing an unknown channel is a no-op.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[ch]; !ok {
		return
	}
	delete(b.subs, ch)
	close(ch)
}

// Publish sends an event to every matching subscriber without blocking.
func (b *Broadcaster) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	matched := false
	for ch, filter := range b.subs {
		if len(filter) > 0 && !filter[event.Type] {
			continue
		}
		matched = true
		select {
		case ch <- event:
		default:
			// A dropped playfield change is corrected by the player's next move.
			slog.Warn("event dropped: subscriber buffer full",
				"event_id", event.ID.String(),
				"event_type", string(event.Type),
				"entity_id", event.EntityID,
			)
		}
	}
	if !matched {
		slog.Warn("event dropped: no subscribers",
			"event_id", event.ID.String(),
			"event_type", string(event.Type),
			"entity_id", event.EntityID,
		)
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
