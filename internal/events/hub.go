// Package events fans sync and enrichment notifications out to SSE
// subscribers so a UI can refresh without polling.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	TypeSyncCompleted    = "sync_completed"
	TypeFavoriteEnriched = "favorite_enriched"
)

type Event struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

func Make(typ string, data any) string {
	b, _ := json.Marshal(Event{Type: typ, At: time.Now().UTC(), Data: data})
	return string(b)
}

type Hub struct {
	mu      sync.Mutex
	clients map[chan string]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan string]struct{})}
}

func (h *Hub) Subscribe() chan string {
	ch := make(chan string, 10)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan string) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Publish(evt string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- evt:
		default:
			// drop if slow
		}
	}
}
