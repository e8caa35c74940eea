// Package live pushes simulation snapshots to browsers over WebSocket and SSE.
package live

import (
	"sync"

	model "github.com/zhouzirui/doorbell-lab/backend/internal/model/simulation"
)

// Transport labels for connected clients.
const (
	TransportWebSocket = "ws"
	TransportSSE       = "sse"
)

// ClientRecorder observes connects and disconnects.
type ClientRecorder interface {
	ClientConnected(transport string)
	ClientDisconnected(transport string)
}

// subscriber receives snapshots through a one-slot mailbox: a slow reader only
// ever sees the latest state, never a backlog.
type subscriber struct {
	transport string
	updates   chan model.State
}

func (s *subscriber) offer(state model.State) {
	select {
	case s.updates <- state:
		return
	default:
	}

	// Mailbox full: replace the stale snapshot with the new one.
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- state:
	default:
	}
}

// Hub fans store updates out to every live subscriber.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	recorder    ClientRecorder
}

// NewHub creates an empty hub. recorder may be nil.
func NewHub(recorder ClientRecorder) *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		recorder:    recorder,
	}
}

// Broadcast hands state to every subscriber without blocking. Subscribe it
// to the simulation store.
func (h *Hub) Broadcast(state model.State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subscribers {
		sub.offer(state.Clone())
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) subscribe(transport string) *subscriber {
	sub := &subscriber{transport: transport, updates: make(chan model.State, 1)}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	if h.recorder != nil {
		h.recorder.ClientConnected(transport)
	}
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[sub]
	delete(h.subscribers, sub)
	h.mu.Unlock()

	if ok && h.recorder != nil {
		h.recorder.ClientDisconnected(sub.transport)
	}
}
