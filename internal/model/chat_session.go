package model

import (
	"time"

	"github.com/lib/pq"
)

type ChatSession struct {
	ID        string            `db:"id" json:"id"`
	UserA     string            `db:"user_a" json:"userA"`
	UserB     string            `db:"user_b" json:"userB"`
	Status    ChatSessionStatus `db:"status" json:"status"`
	MatchedAt time.Time         `db:"matched_at" json:"matchedAt"`
	EndedAt   *time.Time        `db:"ended_at" json:"endedAt,omitempty"`
	SavedBy   pq.StringArray    `db:"saved_by" json:"savedBy,omitempty"`
	SavedAt   *time.Time        `db:"saved_at" json:"savedAt,omitempty"`
}

// Partner returns the other participant. ok is false when userID is not in the session.
func (s *ChatSession) Partner(userID string) (partner string, ok bool) {
	switch userID {
	case s.UserA:
		return s.UserB, true
	case s.UserB:
		return s.UserA, true
	default:
		return "", false
	}
}

func (s *ChatSession) HasParticipant(userID string) bool {
	_, ok := s.Partner(userID)
	return ok
}

// Transition moves the session to the given status if the move is allowed.
func (s *ChatSession) Transition(to ChatSessionStatus, now time.Time) bool {
	if !s.Status.CanTransition(to) {
		return false
	}
	s.Status = to
	if to.Finished() && s.EndedAt == nil {
		s.EndedAt = &now
	}
	if to == ChatSessionStatusSaved {
		s.SavedAt = &now
	}
	return true
}
