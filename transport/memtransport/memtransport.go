// Package memtransport is an in-memory transport.Transport double used to
// drive the client and server engines in tests without a real mesh radio.
package memtransport

import (
	"fmt"
	"sync"

	"github.com/steefst33f/btcmesh/transport"
)

// Hub wires together any number of named Memory transports so that a Send
// on one is delivered to the named destination's handler, if attached.
type Hub struct {
	mu    sync.Mutex
	nodes map[string]*Memory

	// dropNext counts, per destination, how many upcoming messages Send
	// silently accepts without delivering, simulating mesh loss.
	dropNext map[string]int
}

func NewHub() *Hub {
	return &Hub{nodes: make(map[string]*Memory), dropNext: make(map[string]int)}
}

func (h *Hub) register(n *Memory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes[n.id] = n
}

// DropNext instructs the hub to silently drop the next n messages sent to
// destination, simulating lossy delivery.
func (h *Hub) DropNext(destination string, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropNext[destination] += n
}

func (h *Hub) deliver(destination, sender, text string) error {
	h.mu.Lock()
	if h.dropNext[destination] > 0 {
		h.dropNext[destination]--
		h.mu.Unlock()
		return nil
	}
	dst, ok := h.nodes[destination]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("memtransport: unknown destination %q", destination)
	}
	dst.mu.Lock()
	handler := dst.handler
	dst.mu.Unlock()
	if handler != nil {
		handler(sender, text)
	}
	return nil
}

// Memory is a transport.Transport backed by a Hub; it never touches a real
// radio and delivers synchronously on Send.
type Memory struct {
	id  string
	hub *Hub

	mu      sync.Mutex
	handler transport.Handler
	sent    []Sent
}

// Sent records one outbound call, for test assertions.
type Sent struct {
	Destination string
	Text        string
}

// New creates a Memory transport identified by id and attaches it to hub.
func New(hub *Hub, id string) *Memory {
	m := &Memory{id: id, hub: hub}
	hub.register(m)
	return m
}

func (m *Memory) Send(destination, text string) error {
	m.mu.Lock()
	m.sent = append(m.sent, Sent{Destination: destination, Text: text})
	m.mu.Unlock()
	return m.hub.deliver(destination, m.id, text)
}

func (m *Memory) OnReceive(h transport.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *Memory) LocalNodeID() string { return m.id }

// Sent returns a copy of every message this node has sent, in order.
func (m *Memory) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sent, len(m.sent))
	copy(out, m.sent)
	return out
}
