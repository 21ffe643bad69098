package broadcast

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHubFanOut(t *testing.T) {
	h := NewHub()
	a := h.Subscribe(4)
	b := h.Subscribe(4)
	defer a.Close()
	defer b.Close()

	h.Broadcast(EventNew, json.RawMessage(`{"id":"1"}`))

	for _, obs := range []*Observer{a, b} {
		select {
		case ev := <-obs.Events():
			if ev.Type != EventNew || string(ev.Entry) != `{"id":"1"}` {
				t.Errorf("event = %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("observer never received the event")
		}
	}
}

func TestHubPrunesSlowObserver(t *testing.T) {
	h := NewHub()
	slow := h.Subscribe(1)
	fast := h.Subscribe(16)
	defer fast.Close()

	// Two publishes against a buffer of one: the second overflows and the
	// slow observer is dropped with its channel closed.
	h.Broadcast(EventNew, json.RawMessage(`{}`))
	h.Broadcast(EventUpdate, json.RawMessage(`{}`))

	if h.Observers() != 1 {
		t.Fatalf("observers = %d, want 1 after prune", h.Observers())
	}

	<-slow.Events()
	if _, ok := <-slow.Events(); ok {
		t.Error("pruned observer channel should be closed")
	}

	// The fast observer got both events.
	for i := 0; i < 2; i++ {
		select {
		case <-fast.Events():
		case <-time.After(time.Second):
			t.Fatal("fast observer missed an event")
		}
	}
}

func TestObserverCloseIsIdempotentWithPrune(t *testing.T) {
	h := NewHub()
	o := h.Subscribe(1)
	h.Broadcast(EventNew, json.RawMessage(`{}`))
	h.Broadcast(EventNew, json.RawMessage(`{}`)) // prunes o
	o.Close()                                    // already removed, must not panic
	if h.Observers() != 0 {
		t.Errorf("observers = %d", h.Observers())
	}
}
