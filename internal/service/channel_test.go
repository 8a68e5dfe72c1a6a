package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibely/realtime-server-go/internal/events"
	"github.com/vibely/realtime-server-go/internal/presence"
	"github.com/vibely/realtime-server-go/internal/sse"
)

func newTestChannelService(buffer int) (*ChannelService, *sse.Hub, *presence.Registry) {
	hub := sse.NewHubWithBuffer(buffer)
	registry := presence.NewRegistry(hub, nil)
	return NewChannelService(hub, registry, time.Hour), hub, registry
}

func nextEvent(t *testing.T, client *sse.Client) events.Event {
	t.Helper()
	select {
	case ev := <-client.Events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestChannelService_OpenClose(t *testing.T) {
	ctx := context.Background()
	svc, hub, registry := newTestChannelService(16)

	var mu sync.Mutex
	var disconnected []string
	svc.OnDisconnect(func(userID string) {
		mu.Lock()
		defer mu.Unlock()
		disconnected = append(disconnected, userID)
	})

	alice := svc.Open(ctx, "alice")
	assert.Equal(t, events.Connected{UserID: "alice", OnlineUsers: []string{}}, nextEvent(t, alice))
	assert.True(t, svc.IsOnline("alice"))

	bob := svc.Open(ctx, "bob")
	assert.Equal(t, events.Connected{UserID: "bob", OnlineUsers: []string{"alice"}}, nextEvent(t, bob))
	assert.Equal(t, events.UserOnline{UserID: "bob"}, nextEvent(t, alice))

	svc.Close(bob)

	assert.False(t, registry.IsOnline("bob"))
	assert.False(t, hub.IsConnected("bob"))
	assert.False(t, svc.Send("bob", events.Heartbeat{}))
	assert.Equal(t, events.UserOffline{UserID: "bob"}, nextEvent(t, alice))

	mu.Lock()
	assert.Equal(t, []string{"bob"}, disconnected)
	mu.Unlock()
}

func TestChannelService_Supersede(t *testing.T) {
	ctx := context.Background()
	svc, hub, registry := newTestChannelService(16)

	calls := 0
	svc.OnDisconnect(func(string) { calls++ })

	first := svc.Open(ctx, "alice")
	second := svc.Open(ctx, "alice")

	select {
	case <-first.Done:
	default:
		t.Fatal("superseded channel should be closed")
	}

	svc.Close(first)

	assert.Equal(t, 0, calls)
	assert.True(t, registry.IsOnline("alice"))
	assert.Equal(t, 1, hub.TotalClients())

	svc.Close(second)
	assert.Equal(t, 1, calls)
	assert.False(t, registry.IsOnline("alice"))
}

func TestChannelService_FullBufferDisconnects(t *testing.T) {
	ctx := context.Background()
	svc, _, registry := newTestChannelService(1)

	done := make(chan string, 1)
	svc.OnDisconnect(func(userID string) { done <- userID })

	// Connected fills the single slot.
	svc.Open(ctx, "alice")
	require.True(t, registry.IsOnline("alice"))

	assert.False(t, svc.Send("alice", events.Heartbeat{}))

	select {
	case userID := <-done:
		assert.Equal(t, "alice", userID)
	case <-time.After(time.Second):
		t.Fatal("disconnect hook did not run")
	}
	assert.False(t, registry.IsOnline("alice"))
}

func TestChannelService_ReconnectDuringTeardown(t *testing.T) {
	ctx := context.Background()
	svc, hub, registry := newTestChannelService(16)

	calls := 0
	svc.OnDisconnect(func(string) { calls++ })

	first := svc.Open(ctx, "alice")

	// Close is interrupted after the hub released the channel and before
	// presence is torn down; a reconnect lands in between.
	require.True(t, hub.Unregister(first))
	svc.Open(ctx, "alice")
	svc.disconnected("alice")

	assert.True(t, registry.IsOnline("alice"))
	assert.True(t, hub.IsConnected("alice"))
	assert.Equal(t, 0, calls)
}

func TestChannelService_HeartbeatHooks(t *testing.T) {
	hub := sse.NewHub()
	registry := presence.NewRegistry(hub, nil)
	svc := NewChannelService(hub, registry, 10*time.Millisecond)

	beats := make(chan string, 16)
	svc.OnHeartbeat(func(userID string) {
		select {
		case beats <- userID:
		default:
		}
	})

	client := svc.Open(context.Background(), "alice")
	defer svc.Close(client)
	go drain(client)

	select {
	case userID := <-beats:
		assert.Equal(t, "alice", userID)
	case <-time.After(time.Second):
		t.Fatal("heartbeat hook did not run")
	}
}

func TestChannelService_HeartbeatKeepsWaiterFresh(t *testing.T) {
	ctx := context.Background()
	hub := sse.NewHub()
	registry := presence.NewRegistry(hub, nil)
	channels := NewChannelService(hub, registry, 10*time.Millisecond)

	clock := newFakeClock()
	match := NewMatchService(channels, new(stubMessenger), new(mockChatSessionRepo), 5*time.Minute, time.Hour)
	match.now = clock.Now

	touched := make(chan struct{}, 16)
	channels.OnHeartbeat(match.Touch)
	channels.OnHeartbeat(func(string) {
		select {
		case touched <- struct{}{}:
		default:
		}
	})

	client := channels.Open(ctx, "alice")
	defer channels.Close(client)
	go drain(client)

	match.Join("alice")
	clock.Advance(4 * time.Minute)

	// Hooks run in order on one goroutine, so the second signal seen after
	// draining belongs to a beat that started after the clock moved.
	for len(touched) > 0 {
		<-touched
	}
	for i := 0; i < 2; i++ {
		select {
		case <-touched:
		case <-time.After(time.Second):
			t.Fatal("heartbeat did not run")
		}
	}
	clock.Advance(4 * time.Minute)

	purged, err := match.PurgeStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, purged)
	assert.Equal(t, MatchStateSearching, match.Status("alice").State)
}

func drain(client *sse.Client) {
	for {
		select {
		case <-client.Events:
		case <-client.Done:
			return
		}
	}
}

func TestWithout(t *testing.T) {
	assert.Equal(t, []string{"a", "c"}, without([]string{"a", "b", "c"}, "b"))
	assert.Equal(t, []string{}, without(nil, "b"))
}
