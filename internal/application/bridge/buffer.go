package bridge

import (
	"sync"
)

// DefaultEventBufferSize caps how many events are held while the connection
// is not yet ready.
const DefaultEventBufferSize = 200

// eventBuffer is a bounded FIFO of events that fired before the connection
// became ready. On overflow the single oldest entry is evicted, never the
// newest: the most recent purchase signals are worth more than stale ones.
type eventBuffer struct {
	mu       sync.Mutex
	capacity int
	events   []Event
}

func newEventBuffer(capacity int) *eventBuffer {
	if capacity <= 0 {
		capacity = DefaultEventBufferSize
	}
	return &eventBuffer{capacity: capacity}
}

// Append adds ev, evicting the oldest entry first when the buffer is full.
func (b *eventBuffer) Append(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) >= b.capacity {
		b.events = b.events[1:]
	}
	b.events = append(b.events, ev)
}

// Drain removes and returns all buffered events in arrival order. Events
// returned here are gone from the buffer; a teardown racing a drain cannot
// resurrect them.
func (b *eventBuffer) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := b.events
	b.events = nil
	return events
}

// Clear drops all buffered events.
func (b *eventBuffer) Clear() {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}

// Len returns the number of buffered events.
func (b *eventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
