package service

import (
	"github.com/vibely/realtime-server-go/internal/events"
)

// SignalTransport is how call envelopes reach a client.
type SignalTransport interface {
	Reachable(userID string) bool
	Deliver(userID string, ev events.Event) bool
}

// FallbackTransport tries each transport in order and uses the first one
// that can reach the user.
type FallbackTransport struct {
	transports []SignalTransport
}

func NewFallbackTransport(transports ...SignalTransport) *FallbackTransport {
	return &FallbackTransport{transports: transports}
}

func (t *FallbackTransport) Reachable(userID string) bool {
	for _, tr := range t.transports {
		if tr.Reachable(userID) {
			return true
		}
	}
	return false
}

func (t *FallbackTransport) Deliver(userID string, ev events.Event) bool {
	for _, tr := range t.transports {
		if !tr.Reachable(userID) {
			continue
		}
		if tr.Deliver(userID, ev) {
			return true
		}
	}
	return false
}
