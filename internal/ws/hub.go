// Package ws accepts WebSocket connections and delivers broadcast events to
// them. Writes go through the HTTP API; the socket is receive-only apart
// from topic bind/unbind requests, which keeps publishing strictly in the
// trusted server context.
package ws

import (
	"context"
	"sync"

	"github.com/kevin101681/cascadeconnect-sub000/internal/identity"
	"github.com/kevin101681/cascadeconnect-sub000/internal/logger"
	"github.com/kevin101681/cascadeconnect-sub000/internal/repository"
)

type Hub struct {
	mu      sync.RWMutex
	clients map[identity.Ref]map[*Client]struct{}
	total   int

	maxConns    int
	channelRepo *repository.ChannelRepository

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(channelRepo *repository.ChannelRepository, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:     make(map[identity.Ref]map[*Client]struct{}),
		maxConns:    maxConns,
		channelRepo: channelRepo,
		register:    make(chan *Client, 64),
		unregister:  make(chan *Client, 64),
		done:        make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[identity.Ref]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting ref=%s", h.maxConns, c.ref)
		c.Close()
		return
	}
	if _, ok := h.clients[c.ref]; !ok {
		h.clients[c.ref] = make(map[*Client]struct{})
	}
	h.clients[c.ref][c] = struct{}{}
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.ref]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.ref)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
}

// Connected reports whether any client of ref currently holds a socket.
// The notification collaborator uses this to target offline participants.
func (h *Hub) Connected(ref identity.Ref) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[ref]) > 0
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
