package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a change notification fanned out to subscribers.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	Recipients []string        `json:"recipients,omitempty"`
	At         time.Time       `json:"at"`
}

// NewEvent builds an event with a fresh id. Data is marshalled eagerly so
// events can cross process boundaries unchanged.
func NewEvent(eventType string, data interface{}, recipients ...string) (Event, error) {
	evt := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Recipients: recipients,
		At:         time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, err
		}
		evt.Data = raw
	}
	return evt, nil
}

// For reports whether userID should receive the event. Events without
// recipients are broadcast.
func (e Event) For(userID string) bool {
	if len(e.Recipients) == 0 {
		return true
	}
	for _, r := range e.Recipients {
		if r == userID {
			return true
		}
	}
	return false
}

// Hub is an in-process pub/sub fan-out with buffered subscriber channels.
// Publishing never blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[<-chan Event]chan Event
	onDrop func(Event)
}

// NewHub returns an empty hub. onDrop, when set, is invoked for every event a
// slow subscriber misses.
func NewHub(onDrop func(Event)) *Hub {
	return &Hub{subs: make(map[<-chan Event]chan Event), onDrop: onDrop}
}

// Subscribe registers a subscriber with the given buffer size.
func (h *Hub) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[ch] = ch
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub <-chan Event) {
	h.mu.Lock()
	ch, ok := h.subs[sub]
	if ok {
		delete(h.subs, sub)
		close(ch)
	}
	h.mu.Unlock()
}

// Publish delivers evt to every subscriber.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			if h.onDrop != nil {
				h.onDrop(evt)
			}
		}
	}
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
