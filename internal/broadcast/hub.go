// Package broadcast fans out entry lifecycle events to live observers.
//
// Delivery is best-effort: a publish never blocks the relay path, and an
// observer that cannot keep up (or has gone away) is pruned without affecting
// delivery to the others.
package broadcast

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// Event types carried to observers.
const (
	EventNew    = "new"    // entry created, request accepted
	EventUpdate = "update" // entry reached a terminal state
)

// Event is one lifecycle notification. Entry is a summary view, never the
// full bodies.
type Event struct {
	Type  string          `json:"type"`
	Entry json.RawMessage `json:"entry"`
}

// Observer receives events over a buffered channel until closed.
type Observer struct {
	hub *Hub
	ch  chan Event
}

// Events returns the observer's receive channel. It is closed when the
// observer is pruned or Close is called.
func (o *Observer) Events() <-chan Event { return o.ch }

// Close detaches the observer from the hub.
func (o *Observer) Close() { o.hub.remove(o) }

// Hub is a concurrency-safe registry of observers.
type Hub struct {
	mu        sync.Mutex
	observers map[*Observer]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{observers: make(map[*Observer]struct{})}
}

// Subscribe registers a new observer with the given channel buffer.
func (h *Hub) Subscribe(buffer int) *Observer {
	if buffer <= 0 {
		buffer = 16
	}
	o := &Observer{hub: h, ch: make(chan Event, buffer)}
	h.mu.Lock()
	h.observers[o] = struct{}{}
	h.mu.Unlock()
	return o
}

// Observers returns the current observer count.
func (h *Hub) Observers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Broadcast sends an event to every registered observer. An observer whose
// buffer is full is treated as unreachable and pruned.
func (h *Hub) Broadcast(eventType string, entry json.RawMessage) {
	ev := Event{Type: eventType, Entry: entry}
	h.mu.Lock()
	defer h.mu.Unlock()
	for o := range h.observers {
		select {
		case o.ch <- ev:
		default:
			delete(h.observers, o)
			close(o.ch)
			log.Debug().Msg("broadcast: pruned slow observer")
		}
	}
}

func (h *Hub) remove(o *Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.observers[o]; ok {
		delete(h.observers, o)
		close(o.ch)
	}
}
