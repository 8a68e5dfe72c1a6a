package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vibely/realtime-server-go/internal/events"
)

// PendingSignal is one queued envelope waiting for its owner to poll.
type PendingSignal struct {
	Event     events.Event
	Timestamp time.Time
	ExpiresAt time.Time
}

func (p PendingSignal) MarshalJSON() ([]byte, error) {
	payload, err := events.Payload(p.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type      events.Type     `json:"type"`
		Payload   json.RawMessage `json:"payload"`
		Timestamp int64           `json:"timestamp"`
		ExpiresAt int64           `json:"expiresAt"`
	}{
		Type:      p.Event.Type(),
		Payload:   payload,
		Timestamp: p.Timestamp.UnixMilli(),
		ExpiresAt: p.ExpiresAt.UnixMilli(),
	})
}

// OnlineChecker reports whether a user has an event channel open.
type OnlineChecker interface {
	IsOnline(userID string) bool
}

// SignalQueue is the polling binding: per-user queues that are emptied on
// read and whose entries lapse after the TTL.
type SignalQueue struct {
	mu     sync.Mutex
	queues map[string][]PendingSignal
	ttl    time.Duration
	online OnlineChecker
	now    func() time.Time
}

func NewSignalQueue(online OnlineChecker, ttl time.Duration) *SignalQueue {
	return &SignalQueue{
		queues: make(map[string][]PendingSignal),
		ttl:    ttl,
		online: online,
		now:    time.Now,
	}
}

// Reachable treats any user holding an event channel as a poller.
func (q *SignalQueue) Reachable(userID string) bool {
	return q.online.IsOnline(userID)
}

func (q *SignalQueue) Deliver(userID string, ev events.Event) bool {
	q.Enqueue(userID, ev)
	return true
}

func (q *SignalQueue) Enqueue(userID string, ev events.Event) {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[userID] = append(q.queues[userID], PendingSignal{
		Event:     ev,
		Timestamp: now,
		ExpiresAt: now.Add(q.ttl),
	})
}

// Drain returns the user's unexpired signals in insertion order and empties
// the queue.
func (q *SignalQueue) Drain(userID string) []PendingSignal {
	now := q.now()

	q.mu.Lock()
	pending := q.queues[userID]
	delete(q.queues, userID)
	q.mu.Unlock()

	live := make([]PendingSignal, 0, len(pending))
	for _, p := range pending {
		if now.Before(p.ExpiresAt) {
			live = append(live, p)
		}
	}
	return live
}

// PurgeExpired drops lapsed entries for users who never polled.
func (q *SignalQueue) PurgeExpired(ctx context.Context) (int64, error) {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	var purged int64
	for userID, pending := range q.queues {
		kept := pending[:0]
		for _, p := range pending {
			if now.Before(p.ExpiresAt) {
				kept = append(kept, p)
			} else {
				purged++
			}
		}
		if len(kept) == 0 {
			delete(q.queues, userID)
		} else {
			q.queues[userID] = kept
		}
	}

	if purged > 0 {
		log.Debug().Int64("count", purged).Msg("expired pending signals purged")
	}
	return purged, nil
}

func (q *SignalQueue) Len(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[userID])
}
