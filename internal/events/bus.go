// Package events provides a publish-subscribe bus for routing snapshots.
package events

import (
	"sync"

	"github.com/micro-nova/audioroute/internal/models"
)

const subBufferSize = 8

// Bus is a non-blocking publish-subscribe event bus.
// A subscriber that falls behind loses its oldest queued snapshots, so it
// always ends up with the latest routing state; publishing never blocks the
// routing engine, which publishes under its global lock.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]chan models.Snapshot
	dropped uint64
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]chan models.Snapshot),
	}
}

// Subscribe creates a new subscription with the given ID.
// Call Unsubscribe when done to clean up.
func (b *Bus) Subscribe(id string) <-chan models.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[id]; ok {
		close(old)
	}
	ch := make(chan models.Snapshot, subBufferSize)
	b.subs[id] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish sends a snapshot to all subscribers. Each subscriber gets its own
// deep copy. If a subscriber's channel is full, its oldest snapshot is
// discarded to make room.
func (b *Bus) Publish(snap models.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		cp := snap.DeepCopy()
		select {
		case ch <- cp:
			continue
		default:
		}
		select {
		case <-ch:
			b.dropped++
		default:
		}
		select {
		case ch <- cp:
		default:
			b.dropped++
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns how many snapshots were dropped for slow subscribers.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
