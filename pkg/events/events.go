// Package events implements the notification channel between the backup
// engine and its subscribers (the websocket transport, tests). Delivery is
// fire-and-forget: a slow or absent subscriber never blocks the engine, it
// just misses samples that are immediately superseded anyway.
package events

import (
	"sync"
)

// Type names the events on the wire. These names are part of the dashboard
// front end's contract.
type Type string

const (
	TypeStarted        Type = "started"
	TypeSourceStart    Type = "source-start"
	TypeProgress       Type = "progress"
	TypeSourceComplete Type = "source-complete"
	TypeComplete       Type = "complete"
	TypeCancelled      Type = "cancelled"
	TypeError          Type = "error"
)

// Event is a single named notification with a JSON-serializable payload.
type Event struct {
	Event Type `json:"event"`
	Data  any  `json:"data"`
}

// subscriberBuffer is the per-subscriber channel depth. Progress events are
// the high-rate producer; anything beyond this is stale by definition.
const subscriberBuffer = 64

// Hub fans events out to subscribers over buffered channels. Publish never
// blocks: when a subscriber's buffer is full the event is dropped for that
// subscriber only.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber and returns its channel together with
// an unsubscribe function. The channel is closed by the unsubscribe call.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Publish delivers the event to every subscriber that has buffer space.
func (h *Hub) Publish(evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
			// Subscriber is not keeping up; drop rather than stall a transfer.
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
