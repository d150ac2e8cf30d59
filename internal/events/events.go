// Package events carries journal notifications from the sync machinery to
// connected UI clients.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/anthonyr0ux/trading-journal-macos/pkg/logger"
)

// Event types pushed over the /api/events stream.
const (
	TypeSyncStarted   = "sync_started"
	TypeSyncFinished  = "sync_finished"
	TypeMirrorStarted = "mirror_started"
	TypeMirrorStopped = "mirror_stopped"
	TypeMirrorFailed  = "mirror_failed"
	TypeTradeImported = "trade_imported"
)

type Event struct {
	Type         string    `json:"type"`
	CredentialID string    `json:"credential_id,omitempty"`
	Exchange     string    `json:"exchange,omitempty"`
	Payload      any       `json:"payload,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Hub fans events out to subscribers. Slow subscribers get dropped events
// rather than blocking the publisher.
type Hub struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[chan []byte]struct{}{}}
}

// Subscribe returns a channel of marshaled events and an unsubscribe func.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Errorf("events: marshal %s: %v", ev.Type, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
		}
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
