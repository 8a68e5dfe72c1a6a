package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vibely/realtime-server-go/internal/audit"
	"github.com/vibely/realtime-server-go/internal/events"
	"github.com/vibely/realtime-server-go/internal/presence"
	"github.com/vibely/realtime-server-go/internal/sse"
)

// ChannelService owns the event channel lifecycle: registration, the
// heartbeat timer, presence, and disconnect notification.
type ChannelService struct {
	hub       *sse.Hub
	presence  *presence.Registry
	heartbeat time.Duration

	hooksMu      sync.RWMutex
	onDisconnect []func(userID string)
	onHeartbeat  []func(userID string)
}

func NewChannelService(hub *sse.Hub, registry *presence.Registry, heartbeat time.Duration) *ChannelService {
	s := &ChannelService{
		hub:       hub,
		presence:  registry,
		heartbeat: heartbeat,
	}
	hub.OnDrop(s.disconnected)
	return s
}

// OnDisconnect registers fn to run once a user's channel is gone for good.
// It does not run when a channel is superseded by a newer one.
func (s *ChannelService) OnDisconnect(fn func(userID string)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onDisconnect = append(s.onDisconnect, fn)
}

// OnHeartbeat registers fn to run after every heartbeat a live channel takes.
func (s *ChannelService) OnHeartbeat(fn func(userID string)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onHeartbeat = append(s.onHeartbeat, fn)
}

// Open registers a channel for userID, greets it with the online snapshot,
// marks the user online and starts its heartbeat.
func (s *ChannelService) Open(ctx context.Context, userID string) *sse.Client {
	client, superseded := s.hub.Register(userID)
	if superseded != nil {
		audit.Log(ctx, audit.Event{
			Type:   audit.EventChannelSuperseded,
			UserID: userID,
		})
	}

	s.hub.Send(userID, events.Connected{
		UserID:      userID,
		OnlineUsers: without(s.presence.OnlineUsers(), userID),
	})
	s.presence.MarkOnline(userID)

	go s.runHeartbeat(client)

	return client
}

// Close tears down client. Nothing happens if client was already replaced.
func (s *ChannelService) Close(client *sse.Client) {
	if !s.hub.Unregister(client) {
		return
	}
	s.disconnected(client.UserID)
}

// Send pushes ev to the user's channel and reports whether it was accepted.
func (s *ChannelService) Send(userID string, ev events.Event) bool {
	return s.hub.Send(userID, ev)
}

func (s *ChannelService) IsOnline(userID string) bool {
	return s.presence.IsOnline(userID)
}

func (s *ChannelService) runHeartbeat(client *sse.Client) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-client.Done:
			return
		case <-ticker.C:
			if !s.hub.Send(client.UserID, events.Heartbeat{}) {
				return
			}
			s.presence.Touch(client.UserID)
			s.runHooks(&s.onHeartbeat, client.UserID)
		}
	}
}

// disconnected runs after a channel left the hub. A newer channel for the
// same user may already be registered, in which case the user stays online.
func (s *ChannelService) disconnected(userID string) {
	connected := func() bool { return s.hub.IsConnected(userID) }
	s.presence.MarkOfflineUnless(userID, connected)
	if connected() {
		log.Debug().Str("userId", userID).Msg("event channel replaced before teardown")
		return
	}

	s.runHooks(&s.onDisconnect, userID)

	log.Info().Str("userId", userID).Msg("event channel disconnected")
}

func (s *ChannelService) runHooks(registered *[]func(string), userID string) {
	s.hooksMu.RLock()
	hooks := make([]func(string), len(*registered))
	copy(hooks, *registered)
	s.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(userID)
	}
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
