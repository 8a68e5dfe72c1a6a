package service

import (
	"context"
	"math/rand"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/vibely/realtime-server-go/internal/errors"
	"github.com/vibely/realtime-server-go/internal/events"
	"github.com/vibely/realtime-server-go/internal/model"
	"github.com/vibely/realtime-server-go/internal/repository"
)

const (
	MatchStateIdle      = "idle"
	MatchStateSearching = "searching"
	MatchStateMatched   = "matched"

	PartnerLeftSkipped = "skipped"
	PartnerLeftEnded   = "ended"
	PartnerLeftLeft    = "left"
)

type waitingEntry struct {
	UserID       string
	JoinedAt     time.Time
	LastActiveAt time.Time
}

type MatchStatus struct {
	State     string             `json:"state"`
	SessionID string             `json:"sessionId,omitempty"`
	PartnerID string             `json:"partnerId,omitempty"`
	Session   *model.ChatSession `json:"session,omitempty"`
}

// SessionMessenger persists and reads random-chat messages.
type SessionMessenger interface {
	SendSession(ctx context.Context, sessionID, from, to, text, mediaRef string) (*model.Message, error)
	SessionHistory(ctx context.Context, sessionID string, page Page) ([]model.Message, error)
}

// MatchService pairs anonymous users at random. The waiting pool and the
// session table share one lock because pairing moves users between them.
type MatchService struct {
	mu       sync.Mutex
	waiting  map[string]*waitingEntry
	sessions map[string]*model.ChatSession
	active   map[string]string // userID -> sessionID

	pusher     Pusher
	messenger  SessionMessenger
	archive    repository.ChatSessionRepository
	staleAfter time.Duration
	retention  time.Duration

	now     func() time.Time
	intN    func(n int) int
	shuffle func(n int, swap func(i, j int))
}

func NewMatchService(
	pusher Pusher,
	messenger SessionMessenger,
	archive repository.ChatSessionRepository,
	staleAfter time.Duration,
	retention time.Duration,
) *MatchService {
	return &MatchService{
		waiting:    make(map[string]*waitingEntry),
		sessions:   make(map[string]*model.ChatSession),
		active:     make(map[string]string),
		pusher:     pusher,
		messenger:  messenger,
		archive:    archive,
		staleAfter: staleAfter,
		retention:  retention,
		now:        time.Now,
		intN:       rand.Intn,
		shuffle:    rand.Shuffle,
	}
}

// Join drops whatever the user was doing, queues them and tries an immediate
// match against a random waiter.
func (s *MatchService) Join(userID string) MatchStatus {
	s.mu.Lock()
	var out []delivery
	out = s.detachLocked(userID, model.ChatSessionStatusSkipped, PartnerLeftSkipped, out)
	status, out := s.enqueueLocked(userID, out)
	s.mu.Unlock()

	deliverAll(s.pusher, out)
	return status
}

// Leave removes the user from the pool and ends any live session. It is
// also the disconnect path.
func (s *MatchService) Leave(userID string) {
	s.mu.Lock()
	delete(s.waiting, userID)
	out := s.detachLocked(userID, model.ChatSessionStatusEnded, PartnerLeftLeft, nil)
	s.mu.Unlock()

	deliverAll(s.pusher, out)
}

// Skip abandons the session and puts the user straight back in the pool.
func (s *MatchService) Skip(userID, sessionID string) (MatchStatus, error) {
	s.mu.Lock()
	session, err := s.activeSessionLocked(userID, sessionID)
	if err != nil {
		s.mu.Unlock()
		return MatchStatus{}, err
	}

	out := s.finishLocked(session, userID, model.ChatSessionStatusSkipped, PartnerLeftSkipped, nil)
	status, out := s.enqueueLocked(userID, out)
	s.mu.Unlock()

	deliverAll(s.pusher, out)

	log.Info().
		Str("userId", userID).
		Str("sessionId", sessionID).
		Str("state", status.State).
		Msg("chat session skipped")

	return status, nil
}

// End closes the session for good and clears the user's matchmaking state.
func (s *MatchService) End(userID, sessionID string) error {
	s.mu.Lock()
	session, err := s.activeSessionLocked(userID, sessionID)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	delete(s.waiting, userID)
	out := s.finishLocked(session, userID, model.ChatSessionStatusEnded, PartnerLeftEnded, nil)
	s.mu.Unlock()

	deliverAll(s.pusher, out)

	log.Info().
		Str("userId", userID).
		Str("sessionId", sessionID).
		Msg("chat session ended")

	return nil
}

// Status reports where the user stands. A searching user counts as active.
func (s *MatchService) Status(userID string) MatchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.waiting[userID]; ok {
		entry.LastActiveAt = s.now()
		return MatchStatus{State: MatchStateSearching}
	}
	if sessionID, ok := s.active[userID]; ok {
		session := s.sessions[sessionID]
		partner, _ := session.Partner(userID)
		snapshot := *session
		return MatchStatus{
			State:     MatchStateMatched,
			SessionID: sessionID,
			PartnerID: partner,
			Session:   &snapshot,
		}
	}
	return MatchStatus{State: MatchStateIdle}
}

// Touch keeps a waiting entry from going stale.
func (s *MatchService) Touch(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.waiting[userID]; ok {
		entry.LastActiveAt = s.now()
	}
}

// Sweep shuffles the pool and pairs neighbours. It returns the number of
// sessions created.
func (s *MatchService) Sweep(ctx context.Context) (int64, error) {
	s.mu.Lock()
	ids := s.waitingIDsLocked()
	s.shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	var out []delivery
	var created int64
	for i := 0; i+1 < len(ids); i += 2 {
		out = s.pairLocked(ids[i], ids[i+1], out)
		created++
	}
	s.mu.Unlock()

	deliverAll(s.pusher, out)
	return created, nil
}

// PurgeStale drops waiting entries idle for longer than the stale window.
func (s *MatchService) PurgeStale(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.staleAfter)

	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, entry := range s.waiting {
		if entry.LastActiveAt.Before(cutoff) {
			delete(s.waiting, id)
			purged++
		}
	}
	return purged, nil
}

// PurgeFinished forgets sessions that finished before the retention window.
func (s *MatchService) PurgeFinished(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, session := range s.sessions {
		if session.Status.Finished() && session.EndedAt != nil && session.EndedAt.Before(cutoff) {
			delete(s.sessions, id)
			purged++
		}
	}
	return purged, nil
}

// SendMessage relays a chat line to the partner. The first line moves the
// session from matched to chatting.
func (s *MatchService) SendMessage(ctx context.Context, userID, sessionID, text, mediaRef string) (*model.Message, error) {
	s.mu.Lock()
	session, err := s.activeSessionLocked(userID, sessionID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if session.Status == model.ChatSessionStatusMatched {
		session.Transition(model.ChatSessionStatusChatting, s.now())
	}
	partner, _ := session.Partner(userID)
	s.mu.Unlock()

	return s.messenger.SendSession(ctx, sessionID, userID, partner, text, mediaRef)
}

// History pages through a session's messages, newest last. Archived
// sessions stay readable after they leave memory.
func (s *MatchService) History(ctx context.Context, userID, sessionID string, page Page) ([]model.Message, error) {
	if _, err := s.findParticipantSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.messenger.SessionHistory(ctx, sessionID, page)
}

// Save archives a finished session on behalf of one participant.
func (s *MatchService) Save(ctx context.Context, userID, sessionID string) (*model.ChatSession, error) {
	now := s.now()

	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return s.saveArchived(ctx, userID, sessionID, now)
	}
	if !session.HasParticipant(userID) {
		s.mu.Unlock()
		return nil, apperrors.Forbidden("Not a participant of this session")
	}
	if !session.Status.Finished() {
		s.mu.Unlock()
		return nil, apperrors.Conflict("Session must end before it can be saved")
	}

	snapshot := *session
	if slices.Contains(session.SavedBy, userID) {
		s.mu.Unlock()
		return &snapshot, nil
	}
	snapshot.SavedBy = append(slices.Clone(session.SavedBy), userID)
	if snapshot.Status != model.ChatSessionStatusSaved {
		snapshot.Transition(model.ChatSessionStatusSaved, now)
	}
	s.mu.Unlock()

	archived, err := s.archive.Archive(ctx, &snapshot)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	s.mu.Lock()
	if current, ok := s.sessions[sessionID]; ok {
		current.Status = archived.Status
		current.SavedBy = archived.SavedBy
		current.SavedAt = archived.SavedAt
	}
	s.mu.Unlock()

	log.Info().
		Str("userId", userID).
		Str("sessionId", sessionID).
		Msg("chat session saved")

	return archived, nil
}

// SavedSessions lists sessions the user archived, most recent first.
func (s *MatchService) SavedSessions(ctx context.Context, userID string, page Page) ([]model.ChatSession, error) {
	sessions, err := s.archive.FindSavedByUser(ctx, userID, page.Limit, page.Skip)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if sessions == nil {
		sessions = []model.ChatSession{}
	}
	return sessions, nil
}

func (s *MatchService) saveArchived(ctx context.Context, userID, sessionID string, now time.Time) (*model.ChatSession, error) {
	existing, err := s.archive.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if existing == nil {
		return nil, apperrors.NotFound("Session")
	}
	if !existing.HasParticipant(userID) {
		return nil, apperrors.Forbidden("Not a participant of this session")
	}
	if slices.Contains(existing.SavedBy, userID) {
		return existing, nil
	}

	existing.SavedBy = append(existing.SavedBy, userID)
	existing.SavedAt = &now
	archived, err := s.archive.Archive(ctx, existing)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return archived, nil
}

func (s *MatchService) findParticipantSession(ctx context.Context, userID, sessionID string) (*model.ChatSession, error) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	var snapshot model.ChatSession
	if ok {
		snapshot = *session
	}
	s.mu.Unlock()

	if !ok {
		archived, err := s.archive.FindByID(ctx, sessionID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if archived == nil {
			return nil, apperrors.NotFound("Session")
		}
		snapshot = *archived
	}

	if !snapshot.HasParticipant(userID) {
		return nil, apperrors.Forbidden("Not a participant of this session")
	}
	return &snapshot, nil
}

func (s *MatchService) activeSessionLocked(userID, sessionID string) (*model.ChatSession, error) {
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, apperrors.NotFound("Session")
	}
	if !session.HasParticipant(userID) {
		return nil, apperrors.Forbidden("Not a participant of this session")
	}
	if !session.Status.Active() {
		return nil, apperrors.Conflict("Session is no longer active")
	}
	return session, nil
}

// enqueueLocked inserts the user into the pool and attempts a random match.
func (s *MatchService) enqueueLocked(userID string, out []delivery) (MatchStatus, []delivery) {
	now := s.now()
	s.waiting[userID] = &waitingEntry{UserID: userID, JoinedAt: now, LastActiveAt: now}

	candidates := s.waitingIDsLocked()
	candidates = slices.DeleteFunc(candidates, func(id string) bool { return id == userID })
	if len(candidates) == 0 {
		return MatchStatus{State: MatchStateSearching}, out
	}

	partner := candidates[s.intN(len(candidates))]
	out = s.pairLocked(userID, partner, out)

	sessionID := s.active[userID]
	snapshot := *s.sessions[sessionID]
	return MatchStatus{
		State:     MatchStateMatched,
		SessionID: sessionID,
		PartnerID: partner,
		Session:   &snapshot,
	}, out
}

func (s *MatchService) pairLocked(a, b string, out []delivery) []delivery {
	delete(s.waiting, a)
	delete(s.waiting, b)

	session := &model.ChatSession{
		ID:        uuid.NewString(),
		UserA:     a,
		UserB:     b,
		Status:    model.ChatSessionStatusMatched,
		MatchedAt: s.now(),
	}
	s.sessions[session.ID] = session
	s.active[a] = session.ID
	s.active[b] = session.ID

	log.Info().
		Str("sessionId", session.ID).
		Str("userA", a).
		Str("userB", b).
		Msg("chat session matched")

	return append(out,
		delivery{to: a, ev: events.MatchFound{SessionID: session.ID, PartnerID: b}},
		delivery{to: b, ev: events.MatchFound{SessionID: session.ID, PartnerID: a}},
	)
}

// detachLocked finishes the user's live session, if any, with the given status.
func (s *MatchService) detachLocked(userID string, status model.ChatSessionStatus, reason string, out []delivery) []delivery {
	sessionID, ok := s.active[userID]
	if !ok {
		return out
	}
	return s.finishLocked(s.sessions[sessionID], userID, status, reason, out)
}

func (s *MatchService) finishLocked(session *model.ChatSession, userID string, status model.ChatSessionStatus, reason string, out []delivery) []delivery {
	session.Transition(status, s.now())
	delete(s.active, session.UserA)
	delete(s.active, session.UserB)

	partner, _ := session.Partner(userID)
	return append(out, delivery{
		to: partner,
		ev: events.PartnerLeft{SessionID: session.ID, Reason: reason},
	})
}

func (s *MatchService) waitingIDsLocked() []string {
	ids := make([]string, 0, len(s.waiting))
	for id := range s.waiting {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WaitingCount is the size of the pool.
func (s *MatchService) WaitingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiting)
}
