// Package eventtap fans out decoded SBMP datagram events to local debug
// observers over plain TCP. It carries no SBMP wire semantics of its own —
// a tap client is a read-only observer, never a second protocol peer, so
// the gateway keeps the strict one-peer-per-endpoint contract the session
// layer assumes.
package eventtap

import (
	"sync"
	"time"
)

// BackpressurePolicy decides what happens when a client's outbound queue is
// full: PolicyDrop silently discards the event, PolicyKick disconnects the
// slow client so its queue does not grow unbounded.
type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// Event is an observed datagram, decoupled from the frame codec's buffer so
// it can be safely queued past the rx handler's return.
type Event struct {
	Session uint16
	Type    uint8
	Payload []byte
	At      time.Time
}

// Client is a single debug observer's outbound queue.
type Client struct {
	Out       chan Event
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Closed) })
}

// NewClient creates a client with an outbound queue of the given depth.
func NewClient(depth int) *Client {
	return &Client{Out: make(chan Event, depth), Closed: make(chan struct{})}
}

// MetricsSink reports hub occupancy and backpressure outcomes without
// coupling this package to a concrete metrics backend.
type MetricsSink interface {
	SetClients(n int)
	SetFanout(n int)
	IncDrop()
	IncKick()
}

type noopMetrics struct{}

func (noopMetrics) SetClients(int) {}
func (noopMetrics) SetFanout(int)  {}
func (noopMetrics) IncDrop()       {}
func (noopMetrics) IncKick()       {}

// Hub broadcasts decoded events to every registered client.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	Policy  BackpressurePolicy
	metrics MetricsSink
}

// New creates a Hub with the drop policy and no metrics reporting.
func New() *Hub {
	return &Hub{clients: make(map[*Client]struct{}), metrics: noopMetrics{}}
}

// SetMetrics installs a metrics sink; passing nil restores the no-op sink.
func (h *Hub) SetMetrics(m MetricsSink) {
	if m == nil {
		m = noopMetrics{}
	}
	h.metrics = m
}

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetClients(cur)
}

// Remove unregisters a client; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	cur := len(h.clients)
	h.mu.Unlock()
	select {
	case <-c.Closed:
	default:
		c.Close()
	}
	h.metrics.SetClients(cur)
}

// Broadcast delivers ev to every connected client, honoring the
// configured backpressure policy for clients whose queue is full.
func (h *Hub) Broadcast(ev Event) {
	clients := h.Snapshot()
	h.metrics.SetFanout(len(clients))
	for _, c := range clients {
		select {
		case c.Out <- ev:
		default:
			if h.Policy == PolicyKick {
				h.metrics.IncKick()
				c.Close()
			} else {
				h.metrics.IncDrop()
			}
		}
	}
}

// Snapshot returns a slice copy of current clients.
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
