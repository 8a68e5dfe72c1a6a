// Package socket is the persistent signaling binding: one websocket per user
// with read and write pumps.
package socket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/vibely/realtime-server-go/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

var (
	ErrBackpressure = errors.New("socket send buffer full")
	ErrClosed       = errors.New("socket closed")
)

// FrameHandler processes one inbound text frame.
type FrameHandler func(ctx context.Context, c *Conn, data []byte)

type Conn struct {
	UserID string

	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// draining is closed by SendAndClose; last is written once queued frames flush.
	draining   chan struct{}
	drainOnce  sync.Once
	last       []byte
	writerDone chan struct{}
}

func newConn(userID string, ws *websocket.Conn) *Conn {
	return &Conn{
		UserID: userID,
		ws:     ws,
		send:       make(chan []byte, sendBufferSize),
		done:       make(chan struct{}),
		draining:   make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// Send queues ev without blocking.
func (c *Conn) Send(ev events.Event) error {
	data, err := events.Marshal(ev, time.Now())
	if err != nil {
		return err
	}
	return c.trySend(data)
}

func (c *Conn) trySend(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// SendAndClose writes ev after every frame already queued, then closes the
// socket with a policy violation status. Reads stop immediately.
func (c *Conn) SendAndClose(ev events.Event) error {
	data, err := events.Marshal(ev, time.Now())
	if err != nil {
		c.Close()
		return err
	}
	c.drainOnce.Do(func() {
		c.last = data
		close(c.draining)
	})
	return nil
}

// Close stops both pumps. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Hub keeps at most one socket per user.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn

	hooksMu      sync.RWMutex
	onDisconnect []func(userID string)
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]*Conn)}
}

// OnDisconnect registers fn to run when a user's current socket goes away.
func (h *Hub) OnDisconnect(fn func(userID string)) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	h.onDisconnect = append(h.onDisconnect, fn)
}

// Attach makes ws the user's socket, closing any earlier one.
func (h *Hub) Attach(userID string, ws *websocket.Conn) (conn *Conn, superseded *Conn) {
	conn = newConn(userID, ws)

	h.mu.Lock()
	superseded = h.conns[userID]
	h.conns[userID] = conn
	h.mu.Unlock()

	if superseded != nil {
		superseded.Close()
	}

	log.Info().
		Str("userId", userID).
		Bool("superseded", superseded != nil).
		Msg("signal socket attached")

	return conn, superseded
}

// Serve runs the pumps until the socket closes, then detaches it.
func (h *Hub) Serve(ctx context.Context, c *Conn, handle FrameHandler) {
	go c.writePump()
	c.readPump(ctx, handle)

	select {
	case <-c.draining:
		select {
		case <-c.writerDone:
		case <-time.After(writeWait):
		}
	default:
	}

	c.Close()
	if h.detach(c) {
		h.runDisconnectHooks(c.UserID)
	}
}

func (h *Hub) Reachable(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[userID]
	return ok
}

// Deliver pushes ev to the user's socket. A full buffer closes the socket.
func (h *Hub) Deliver(userID string, ev events.Event) bool {
	h.mu.RLock()
	c, ok := h.conns[userID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	err := c.Send(ev)
	if err == nil {
		return true
	}

	log.Warn().
		Err(err).
		Str("userId", userID).
		Str("eventType", string(ev.Type())).
		Msg("signal socket send failed, closing")
	c.Close()
	return false
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close shuts every socket. Disconnect hooks still fire as pumps exit.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
}

func (h *Hub) detach(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.conns[c.UserID]; ok && current == c {
		delete(h.conns, c.UserID)
		return true
	}
	return false
}

func (h *Hub) runDisconnectHooks(userID string) {
	h.hooksMu.RLock()
	hooks := make([]func(string), len(h.onDisconnect))
	copy(hooks, h.onDisconnect)
	h.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(userID)
	}

	log.Info().Str("userId", userID).Msg("signal socket detached")
}
