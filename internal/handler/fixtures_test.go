package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/vibely/realtime-server-go/internal/middleware"
	"github.com/vibely/realtime-server-go/internal/model"
	"github.com/vibely/realtime-server-go/internal/presence"
	"github.com/vibely/realtime-server-go/internal/service"
	"github.com/vibely/realtime-server-go/internal/socket"
	"github.com/vibely/realtime-server-go/internal/sse"
)

const testUserHeader = "X-Test-User"

// withTestUser stands in for the auth middleware.
func withTestUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(testUserHeader)
		if userID == "" {
			userID = r.URL.Query().Get("user")
		}
		if userID != "" {
			r = r.WithContext(middleware.WithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

// memoryMessages is an in-memory message store.
type memoryMessages struct {
	mu   sync.Mutex
	seq  int
	msgs []model.Message
}

func (m *memoryMessages) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	msg := model.Message{
		ID:             fmt.Sprintf("m%d", m.seq),
		FromUserID:     params.FromUserID,
		ToUserID:       params.ToUserID,
		GroupID:        params.GroupID,
		SessionID:      params.SessionID,
		Text:           params.Text,
		MediaRef:       params.MediaRef,
		SenderUsername: params.FromUserID,
		CreatedAt:      time.Now(),
	}
	m.msgs = append(m.msgs, msg)
	return &msg, nil
}

func (m *memoryMessages) FindByID(ctx context.Context, id string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.msgs {
		if m.msgs[i].ID == id {
			msg := m.msgs[i]
			return &msg, nil
		}
	}
	return nil, nil
}

func (m *memoryMessages) MarkDelivered(ctx context.Context, id, userID string) error {
	return nil
}

func (m *memoryMessages) MarkSeen(ctx context.Context, ids []string, userID string) (int64, error) {
	return int64(len(ids)), nil
}

func (m *memoryMessages) FindConversation(ctx context.Context, userID, peerID string, limit, offset int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Message
	for i := len(m.msgs) - 1; i >= 0; i-- {
		msg := m.msgs[i]
		if msg.ToUserID == nil {
			continue
		}
		if (msg.FromUserID == userID && *msg.ToUserID == peerID) || (msg.FromUserID == peerID && *msg.ToUserID == userID) {
			out = append(out, msg)
		}
	}
	return paginate(out, limit, offset), nil
}

func (m *memoryMessages) FindByGroup(ctx context.Context, groupID string, limit, offset int) ([]model.Message, error) {
	return m.filter(func(msg model.Message) bool { return msg.GroupID != nil && *msg.GroupID == groupID }, limit, offset), nil
}

func (m *memoryMessages) FindBySession(ctx context.Context, sessionID string, limit, offset int) ([]model.Message, error) {
	return m.filter(func(msg model.Message) bool { return msg.SessionID != nil && *msg.SessionID == sessionID }, limit, offset), nil
}

func (m *memoryMessages) filter(keep func(model.Message) bool, limit, offset int) []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Message
	for i := len(m.msgs) - 1; i >= 0; i-- {
		if keep(m.msgs[i]) {
			out = append(out, m.msgs[i])
		}
	}
	return paginate(out, limit, offset)
}

func paginate(msgs []model.Message, limit, offset int) []model.Message {
	if offset >= len(msgs) {
		return nil
	}
	msgs = msgs[offset:]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs
}

// memoryProfiles knows alice, bob and carol, and one group.
type memoryProfiles struct{}

var knownUsers = map[string]bool{"alice": true, "bob": true, "carol": true}

func (memoryProfiles) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	if !knownUsers[id] {
		return nil, nil
	}
	return &model.Profile{ID: id, Username: id}, nil
}

func (memoryProfiles) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	return nil
}

func (memoryProfiles) FindGroup(ctx context.Context, groupID string) (*model.Group, error) {
	if groupID != "g1" {
		return nil, nil
	}
	return &model.Group{ID: "g1", Name: "Climbers", MemberIDs: []string{"alice", "bob"}}, nil
}

func (memoryProfiles) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	return groupID == "g1" && (userID == "alice" || userID == "bob"), nil
}

type memoryArchive struct {
	mu       sync.Mutex
	sessions map[string]*model.ChatSession
}

func (a *memoryArchive) Archive(ctx context.Context, session *model.ChatSession) (*model.ChatSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessions == nil {
		a.sessions = make(map[string]*model.ChatSession)
	}
	stored := *session
	a.sessions[session.ID] = &stored
	out := stored
	return &out, nil
}

func (a *memoryArchive) FindByID(ctx context.Context, id string) (*model.ChatSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[id]; ok {
		out := *s
		return &out, nil
	}
	return nil, nil
}

func (a *memoryArchive) FindSavedByUser(ctx context.Context, userID string, limit, offset int) ([]model.ChatSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []model.ChatSession
	for _, s := range a.sessions {
		for _, id := range s.SavedBy {
			if id == userID {
				out = append(out, *s)
			}
		}
	}
	return out, nil
}

// testApp wires the real services over in-memory stores.
type testApp struct {
	hub       *sse.Hub
	registry  *presence.Registry
	channels  *service.ChannelService
	messages  *service.MessageService
	match     *service.MatchService
	calls     *service.CallService
	queue     *service.SignalQueue
	socketHub *socket.Hub
	router    chi.Router
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	app := &testApp{}
	app.hub = sse.NewHub()
	app.registry = presence.NewRegistry(app.hub, memoryProfiles{})
	app.channels = service.NewChannelService(app.hub, app.registry, time.Hour)
	app.messages = service.NewMessageService(&memoryMessages{}, memoryProfiles{}, app.channels, 50*time.Millisecond)
	app.match = service.NewMatchService(app.channels, app.messages, &memoryArchive{}, time.Minute, time.Hour)
	app.socketHub = socket.NewHub()
	app.queue = service.NewSignalQueue(app.channels, 30*time.Second)
	app.calls = service.NewCallService(service.NewFallbackTransport(app.socketHub, app.queue), time.Minute)
	t.Cleanup(app.calls.Shutdown)

	app.channels.OnDisconnect(app.match.Leave)
	app.channels.OnHeartbeat(app.match.Touch)
	app.channels.OnDisconnect(app.calls.HandleChannelDisconnect)
	app.socketHub.OnDisconnect(app.calls.HandleSocketDisconnect)
	t.Cleanup(app.messages.StopTyping)

	r := chi.NewRouter()
	r.Use(withTestUser)
	r.Get("/v1/events/{userId}", NewEventsHandler(app.channels).ServeHTTP)
	r.Mount("/v1/presence", NewPresenceHandler(app.registry).Routes())

	messages := NewMessagesHandler(app.messages)
	r.Mount("/v1/messages", messages.Routes())
	r.Post("/v1/typing", messages.Typing)
	r.Get("/v1/groups/{groupId}/messages", messages.GroupHistory)

	r.Mount("/v1/match", NewMatchHandler(app.match).Routes())
	r.Mount("/v1/signals", NewSignalsHandler(app.calls, app.queue).Routes())
	r.Get("/ws/signal", NewSignalSocketHandler(app.socketHub, app.calls, middleware.NewRateLimiter(), 5).ServeHTTP)
	app.router = r

	return app
}

// open registers an event channel directly, bypassing HTTP.
func (a *testApp) open(t *testing.T, userID string) *sse.Client {
	t.Helper()
	client := a.channels.Open(context.Background(), userID)
	t.Cleanup(func() { a.channels.Close(client) })
	return client
}

func (a *testApp) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	}

	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set(testUserHeader, userID)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}
