package sse

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/vibely/realtime-server-go/internal/events"
)

const (
	EventBufferSize = 100
)

// Client is one live event channel. Done is closed when the hub lets go of it,
// either because it was superseded, dropped or the hub shut down.
type Client struct {
	UserID string
	Events chan events.Event
	Done   chan struct{}

	closeOnce sync.Once
}

func newClient(userID string, size int) *Client {
	return &Client{
		UserID: userID,
		Events: make(chan events.Event, size),
		Done:   make(chan struct{}),
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.Done) })
}

// Hub keeps at most one channel per user.
type Hub struct {
	clients    map[string]*Client
	mu         sync.RWMutex
	bufferSize int

	hooksMu sync.RWMutex
	onDrop  []func(userID string)
}

func NewHub() *Hub {
	return NewHubWithBuffer(EventBufferSize)
}

func NewHubWithBuffer(size int) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		bufferSize: size,
	}
}

// OnDrop registers fn to run after a channel is removed because it could not
// take an event. Hooks run outside the hub lock.
func (h *Hub) OnDrop(fn func(userID string)) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	h.onDrop = append(h.onDrop, fn)
}

// Register installs a new channel for userID and returns it along with the
// channel it replaced, if any. The replaced channel's Done is closed.
func (h *Hub) Register(userID string) (client *Client, superseded *Client) {
	client = newClient(userID, h.bufferSize)

	h.mu.Lock()
	superseded = h.clients[userID]
	h.clients[userID] = client
	total := len(h.clients)
	h.mu.Unlock()

	if superseded != nil {
		superseded.close()
	}

	log.Info().
		Str("userId", userID).
		Bool("superseded", superseded != nil).
		Int("totalClients", total).
		Msg("event channel registered")

	return client, superseded
}

// Unregister removes client if it is still the current channel for its user.
// It reports whether anything was removed.
func (h *Hub) Unregister(client *Client) bool {
	h.mu.Lock()
	current, ok := h.clients[client.UserID]
	removed := ok && current == client
	if removed {
		delete(h.clients, client.UserID)
	}
	h.mu.Unlock()

	client.close()

	if removed {
		log.Info().
			Str("userId", client.UserID).
			Msg("event channel unregistered")
	}
	return removed
}

// Send queues ev on the user's channel without blocking. A full buffer counts
// as a broken sink: the channel is dropped and false is returned.
func (h *Hub) Send(userID string, ev events.Event) bool {
	h.mu.RLock()
	client, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case client.Events <- ev:
		return true
	case <-client.Done:
		return false
	default:
	}

	log.Warn().
		Str("userId", userID).
		Str("eventType", string(ev.Type())).
		Msg("event buffer full, dropping channel")

	if h.Unregister(client) {
		h.runDropHooks(userID)
	}
	return false
}

func (h *Hub) runDropHooks(userID string) {
	h.hooksMu.RLock()
	hooks := make([]func(string), len(h.onDrop))
	copy(hooks, h.onDrop)
	h.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(userID)
	}
}

func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// Connected returns the ids of users with a live channel, sorted.
func (h *Hub) Connected() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close releases every channel. Drop hooks are not run.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
}
