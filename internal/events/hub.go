package events

import (
	"context"
	"sync"
)

var _ Publisher = (*Hub)(nil)

// Hub is an in-process pub/sub for order events. Slow subscribers have
// events dropped rather than blocking the publisher.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe returns a subscription id and a channel that receives events.
// bufSize controls the channel buffer.
func (h *Hub) Subscribe(bufSize int) (int, <-chan Event) {
	ch := make(chan Event, bufSize)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish sends e to all subscribers without blocking.
func (h *Hub) Publish(_ context.Context, e Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			// Slow consumer, drop.
		}
	}
	return nil
}
