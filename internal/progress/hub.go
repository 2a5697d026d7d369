package progress

import (
	"sync"
	"time"
)

// Message is the frame pushed to live subscribers.
type Message struct {
	JobID    string    `json:"jobId"`
	Status   string    `json:"status"`
	Phase    string    `json:"phase"`
	Message  string    `json:"message"`
	Progress int       `json:"progress"`
	Seq      int       `json:"seq"`
	Time     time.Time `json:"time"`
}

// Hub fans messages out to subscribers.
// A subscriber that cannot accept a message is dropped and its channel closed.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Message
	next   int
	buffer int
}

// NewHub creates a hub whose subscribers get buffer slots each.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[int]chan Message), buffer: buffer}
}

// Subscribe registers a subscriber. The returned func unsubscribes; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Message, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan Message, h.buffer)
	h.subs[id] = ch

	return ch, func() { h.remove(id) }
}

func (h *Hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Publish delivers m to every subscriber without blocking.
func (h *Hub) Publish(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		select {
		case ch <- m:
		default:
			delete(h.subs, id)
			close(ch)
		}
	}
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
