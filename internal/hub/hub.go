package hub

import "sync"

// Event types published by the terminal.
const (
	EventStatus     = "status"
	EventCardPush   = "card.push"
	EventCardRemove = "card.remove"
)

// Event is a single notification for the presentation layer.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Subscriber receives events on C until it is unsubscribed.
type Subscriber struct {
	C chan Event
}

// Hub fans events out to every subscriber. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

func New() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

func (h *Hub) Subscribe(buffer int) *Subscriber {
	if buffer < 1 {
		buffer = 1
	}
	s := &Subscriber{C: make(chan Event, buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s] = struct{}{}
	return s
}

func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

// Publish delivers e to all current subscribers and returns how many
// of them accepted it.
func (h *Hub) Publish(e Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for s := range h.subs {
		select {
		case s.C <- e:
			delivered++
		default:
		}
	}
	return delivered
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
