package notify

import (
	"sync"
	"time"
)

// Toast is a transient user-facing message.
type Toast struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Hub fans toasts out to subscribers. Slow subscribers lose toasts
// rather than block the publisher.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Toast
	nextID int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Toast)}
}

// Subscribe returns a channel of toasts and a func that closes it.
func (h *Hub) Subscribe(buffer int) (<-chan Toast, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Toast, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(toast Toast) {
	if toast.At.IsZero() {
		toast.At = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- toast:
		default:
		}
	}
}
