package service

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/vibely/realtime-server-go/internal/events"
	"github.com/vibely/realtime-server-go/internal/model"
)

// recordingPusher stands in for the event channel. Only users marked online
// accept pushes.
type recordingPusher struct {
	mu     sync.Mutex
	online map[string]bool
	sent   []delivery
}

func newRecordingPusher(online ...string) *recordingPusher {
	p := &recordingPusher{online: make(map[string]bool)}
	for _, id := range online {
		p.online[id] = true
	}
	return p
}

func (p *recordingPusher) Send(userID string, ev events.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.online[userID] {
		return false
	}
	p.sent = append(p.sent, delivery{to: userID, ev: ev})
	return true
}

func (p *recordingPusher) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID]
}

func (p *recordingPusher) setOnline(userID string, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = online
}

func (p *recordingPusher) eventsFor(userID string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, d := range p.sent {
		if d.to == userID {
			out = append(out, d.ev)
		}
	}
	return out
}

func (p *recordingPusher) countFor(userID string, typ events.Type) int {
	n := 0
	for _, ev := range p.eventsFor(userID) {
		if ev.Type() == typ {
			n++
		}
	}
	return n
}

// recordingTransport stands in for a signaling binding.
type recordingTransport struct {
	*recordingPusher
	refuse map[string]bool
}

func newRecordingTransport(reachable ...string) *recordingTransport {
	return &recordingTransport{recordingPusher: newRecordingPusher(reachable...), refuse: make(map[string]bool)}
}

func (t *recordingTransport) Reachable(userID string) bool {
	return t.IsOnline(userID)
}

func (t *recordingTransport) Deliver(userID string, ev events.Event) bool {
	t.mu.Lock()
	refused := t.refuse[userID]
	t.mu.Unlock()
	if refused {
		return false
	}
	return t.Send(userID, ev)
}

type mockMessageRepo struct {
	mock.Mock
}

func (m *mockMessageRepo) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *mockMessageRepo) FindByID(ctx context.Context, id string) (*model.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *mockMessageRepo) MarkDelivered(ctx context.Context, id, userID string) error {
	args := m.Called(ctx, id, userID)
	return args.Error(0)
}

func (m *mockMessageRepo) MarkSeen(ctx context.Context, ids []string, userID string) (int64, error) {
	args := m.Called(ctx, ids, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockMessageRepo) FindConversation(ctx context.Context, userID, peerID string, limit, offset int) ([]model.Message, error) {
	args := m.Called(ctx, userID, peerID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *mockMessageRepo) FindByGroup(ctx context.Context, groupID string, limit, offset int) ([]model.Message, error) {
	args := m.Called(ctx, groupID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *mockMessageRepo) FindBySession(ctx context.Context, sessionID string, limit, offset int) ([]model.Message, error) {
	args := m.Called(ctx, sessionID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

type mockProfileRepo struct {
	mock.Mock
}

func (m *mockProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Profile), args.Error(1)
}

func (m *mockProfileRepo) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}

func (m *mockProfileRepo) FindGroup(ctx context.Context, groupID string) (*model.Group, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Group), args.Error(1)
}

func (m *mockProfileRepo) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	args := m.Called(ctx, groupID, userID)
	return args.Bool(0), args.Error(1)
}

type mockChatSessionRepo struct {
	mock.Mock
}

func (m *mockChatSessionRepo) Archive(ctx context.Context, session *model.ChatSession) (*model.ChatSession, error) {
	args := m.Called(ctx, session)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ChatSession), args.Error(1)
}

func (m *mockChatSessionRepo) FindByID(ctx context.Context, id string) (*model.ChatSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ChatSession), args.Error(1)
}

func (m *mockChatSessionRepo) FindSavedByUser(ctx context.Context, userID string, limit, offset int) ([]model.ChatSession, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ChatSession), args.Error(1)
}

func strPtr(s string) *string { return &s }
