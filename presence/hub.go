// Package presence follows who is online through the backend's realtime
// channel and fans changes out to local subscribers.
package presence

import (
	"sync"
	"time"
)

// Update is a change in one user's online status.
type Update struct {
	UserID string    `json:"user_id"`
	Online bool      `json:"is_online"`
	At     time.Time `json:"at"`
}

// Hub fans presence updates out to subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Update]string // channel -> user filter, "" for all
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Update]string)}
}

// Subscribe returns a channel receiving updates for userID, or for everyone
// when userID is empty, and a cleanup func that closes it.
func (h *Hub) Subscribe(userID string) (<-chan Update, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Update, 16)
	h.subscribers[ch] = userID

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.unsubscribe(ch) })
	}
}

func (h *Hub) unsubscribe(ch chan Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[ch]; ok {
		delete(h.subscribers, ch)
		close(ch)
	}
}

// Broadcast delivers u to matching subscribers. Slow subscribers miss
// updates instead of blocking the sender.
func (h *Hub) Broadcast(u Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch, filter := range h.subscribers {
		if filter != "" && filter != u.UserID {
			continue
		}
		select {
		case ch <- u:
		default:
		}
	}
}

// Subscribers is the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close closes every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
	}
}
