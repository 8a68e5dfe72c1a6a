package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/vibely/realtime-server-go/internal/events"
)

type sent struct {
	to string
	ev events.Event
}

type recordingSender struct {
	mu     sync.Mutex
	sent   []sent
	broken map[string]bool
}

func (s *recordingSender) Send(userID string, ev events.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken[userID] {
		return false
	}
	s.sent = append(s.sent, sent{to: userID, ev: ev})
	return true
}

func (s *recordingSender) to(userID string) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, m := range s.sent {
		if m.to == userID {
			out = append(out, m.ev)
		}
	}
	return out
}

type MockLastSeenStore struct {
	mock.Mock
}

func (m *MockLastSeenStore) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}

func TestRegistry_MarkOnline(t *testing.T) {
	t.Run("broadcasts to other online users only", func(t *testing.T) {
		sender := &recordingSender{}
		reg := NewRegistry(sender, nil)

		reg.MarkOnline("alice")
		reg.MarkOnline("bob")

		assert.Equal(t, []events.Event{events.UserOnline{UserID: "bob"}}, sender.to("alice"))
		assert.Empty(t, sender.to("bob"))
		assert.True(t, reg.IsOnline("alice"))
		assert.True(t, reg.IsOnline("bob"))
	})

	t.Run("is idempotent", func(t *testing.T) {
		sender := &recordingSender{}
		reg := NewRegistry(sender, nil)

		reg.MarkOnline("alice")
		reg.MarkOnline("bob")
		assert.False(t, reg.MarkOnline("bob"))

		assert.Len(t, sender.to("alice"), 1)
		assert.Equal(t, 2, reg.Count())
	})

	t.Run("failed sink is removed and the broadcast continues", func(t *testing.T) {
		sender := &recordingSender{broken: map[string]bool{}}
		reg := NewRegistry(sender, nil)
		reg.MarkOnline("alice")
		reg.MarkOnline("carol")
		sender.broken["alice"] = true

		reg.MarkOnline("bob")

		assert.False(t, reg.IsOnline("alice"))
		assert.Contains(t, sender.to("carol"), events.Event(events.UserOnline{UserID: "bob"}))
		assert.Contains(t, sender.to("carol"), events.Event(events.UserOffline{UserID: "alice"}))
	})
}

func TestRegistry_MarkOffline(t *testing.T) {
	sender := &recordingSender{}
	reg := NewRegistry(sender, nil)
	reg.MarkOnline("alice")
	reg.MarkOnline("bob")

	assert.True(t, reg.MarkOffline("bob"))
	assert.False(t, reg.MarkOffline("bob"))

	assert.False(t, reg.IsOnline("bob"))
	assert.Equal(t, []string{"alice"}, reg.OnlineUsers())
	assert.Contains(t, sender.to("alice"), events.Event(events.UserOffline{UserID: "bob"}))
}

func TestRegistry_MarkOfflineUnless(t *testing.T) {
	sender := &recordingSender{}
	reg := NewRegistry(sender, nil)
	reg.MarkOnline("alice")
	reg.MarkOnline("bob")

	assert.False(t, reg.MarkOfflineUnless("bob", func() bool { return true }))
	assert.True(t, reg.IsOnline("bob"))
	assert.NotContains(t, sender.to("alice"), events.Event(events.UserOffline{UserID: "bob"}))

	assert.True(t, reg.MarkOfflineUnless("bob", func() bool { return false }))
	assert.False(t, reg.IsOnline("bob"))
}

func TestRegistry_Touch(t *testing.T) {
	t.Run("refreshes and persists last seen", func(t *testing.T) {
		store := new(MockLastSeenStore)
		reg := NewRegistry(&recordingSender{}, store)

		start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		reg.now = func() time.Time { return start }
		reg.MarkOnline("alice")

		later := start.Add(30 * time.Second)
		reg.now = func() time.Time { return later }

		done := make(chan struct{})
		store.On("TouchLastSeen", mock.Anything, "alice", later).
			Return(nil).
			Run(func(mock.Arguments) { close(done) })

		reg.Touch("alice")

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("last seen was not persisted")
		}
		entry, ok := reg.Get("alice")
		assert.True(t, ok)
		assert.Equal(t, later, entry.LastActiveAt)
	})

	t.Run("store failure is not fatal", func(t *testing.T) {
		store := new(MockLastSeenStore)
		reg := NewRegistry(&recordingSender{}, store)
		reg.MarkOnline("alice")

		done := make(chan struct{})
		store.On("TouchLastSeen", mock.Anything, "alice", mock.Anything).
			Return(errors.New("db down")).
			Run(func(mock.Arguments) { close(done) })

		reg.Touch("alice")
		<-done
		assert.True(t, reg.IsOnline("alice"))
	})

	t.Run("ignores offline users", func(t *testing.T) {
		store := new(MockLastSeenStore)
		reg := NewRegistry(&recordingSender{}, store)

		reg.Touch("ghost")

		store.AssertNotCalled(t, "TouchLastSeen", mock.Anything, mock.Anything, mock.Anything)
	})
}
