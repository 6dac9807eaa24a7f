// Package notify carries "group changed" events from the ledger service to
// connected clients over server-sent events.
package notify

import (
	"sync"
	"time"
)

// EventGroupChanged is published after any successful mutation of a group.
const EventGroupChanged = "group.changed"

// Event tells subscribers that a group's data changed. It carries no payload;
// receivers re-fetch what they need.
type Event struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	GroupID   string    `json:"group_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans events out to subscribers. Slow subscribers miss events rather
// than block publishers.
type Hub struct {
	mu          sync.Mutex
	nextEventID int64
	nextSubID   int
	subs        map[int]subscriber
}

type subscriber struct {
	groupID string
	ch      chan Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]subscriber)}
}

// Publish notifies every subscriber of groupID. Subscribers with an empty
// group receive events for all groups.
func (h *Hub) Publish(groupID string) Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextEventID++
	ev := Event{
		ID:        h.nextEventID,
		Type:      EventGroupChanged,
		GroupID:   groupID,
		Timestamp: time.Now(),
	}
	for _, sub := range h.subs {
		if sub.groupID != "" && sub.groupID != groupID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
	return ev
}

// Subscribe registers interest in groupID and returns the event channel and
// a function that unregisters it.
func (h *Hub) Subscribe(groupID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	h.nextSubID++
	id := h.nextSubID
	h.subs[id] = subscriber{groupID: groupID, ch: ch}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
