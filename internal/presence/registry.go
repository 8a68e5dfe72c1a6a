// Package presence tracks which users hold an open event channel.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vibely/realtime-server-go/internal/events"
)

const lastSeenTimeout = 5 * time.Second

type Sender interface {
	Send(userID string, ev events.Event) bool
}

// LastSeenStore persists "last seen" on the user profile.
type LastSeenStore interface {
	TouchLastSeen(ctx context.Context, userID string, at time.Time) error
}

type Entry struct {
	UserID       string    `json:"userId"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	Connected    bool      `json:"connected"`
}

type Registry struct {
	entries map[string]*Entry
	mu      sync.RWMutex
	sender  Sender
	store   LastSeenStore
	now     func() time.Time
}

func NewRegistry(sender Sender, store LastSeenStore) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		sender:  sender,
		store:   store,
		now:     time.Now,
	}
}

// MarkOnline inserts or refreshes the user's entry. user_online goes out to
// everyone else only when the user was not already online.
func (r *Registry) MarkOnline(userID string) bool {
	now := r.now()

	r.mu.Lock()
	if entry, ok := r.entries[userID]; ok {
		entry.LastActiveAt = now
		r.mu.Unlock()
		return false
	}
	r.entries[userID] = &Entry{UserID: userID, LastActiveAt: now, Connected: true}
	recipients := r.othersLocked(userID)
	r.mu.Unlock()

	log.Debug().Str("userId", userID).Msg("user online")
	r.broadcast(recipients, events.UserOnline{UserID: userID})
	return true
}

// MarkOffline removes the user's entry and tells everyone else.
func (r *Registry) MarkOffline(userID string) bool {
	return r.MarkOfflineUnless(userID, nil)
}

// MarkOfflineUnless is MarkOffline, skipped when keep reports true. keep is
// evaluated under the registry lock, so a concurrent MarkOnline that follows
// the caller's own registration cannot be undone.
func (r *Registry) MarkOfflineUnless(userID string, keep func() bool) bool {
	r.mu.Lock()
	if _, ok := r.entries[userID]; !ok || (keep != nil && keep()) {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, userID)
	recipients := r.othersLocked(userID)
	r.mu.Unlock()

	log.Debug().Str("userId", userID).Msg("user offline")
	r.broadcast(recipients, events.UserOffline{UserID: userID})
	return true
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[userID]
	return ok
}

// Get returns a copy of the user's entry.
func (r *Registry) Get(userID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[userID]
	if !ok {
		return Entry{UserID: userID}, false
	}
	return *entry, true
}

// Refresh bumps lastActiveAt in memory only.
func (r *Registry) Refresh(userID string) bool {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[userID]
	if ok {
		entry.LastActiveAt = now
	}
	return ok
}

// Touch refreshes lastActiveAt and persists it as last seen in the background.
// Store failures are logged.
func (r *Registry) Touch(userID string) {
	if !r.Refresh(userID) {
		return
	}
	if r.store == nil {
		return
	}

	at := r.now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), lastSeenTimeout)
		defer cancel()

		if err := r.store.TouchLastSeen(ctx, userID, at); err != nil {
			log.Warn().Err(err).Str("userId", userID).Msg("failed to persist last seen")
		}
	}()
}

// OnlineUsers returns online user ids, sorted.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) othersLocked(userID string) []string {
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		if id != userID {
			ids = append(ids, id)
		}
	}
	return ids
}

// broadcast keeps going past failed sinks and treats each failure as a
// disconnect of that recipient.
func (r *Registry) broadcast(recipients []string, ev events.Event) {
	var stale []string
	for _, id := range recipients {
		if !r.sender.Send(id, ev) {
			stale = append(stale, id)
		}
	}

	for _, id := range stale {
		log.Debug().
			Str("userId", id).
			Str("eventType", string(ev.Type())).
			Msg("broadcast failed, removing presence")
		r.MarkOffline(id)
	}
}
