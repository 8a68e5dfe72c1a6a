package model

import (
	"time"
)

type Call struct {
	ID         string     `json:"id"`
	CallerID   string     `json:"callerId"`
	CalleeID   string     `json:"calleeId"`
	Type       CallType   `json:"type"`
	Status     CallStatus `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	AnsweredAt *time.Time `json:"answeredAt,omitempty"`
}

// Peer returns the other party of the call. ok is false for non-participants.
func (c *Call) Peer(userID string) (peer string, ok bool) {
	switch userID {
	case c.CallerID:
		return c.CalleeID, true
	case c.CalleeID:
		return c.CallerID, true
	default:
		return "", false
	}
}
