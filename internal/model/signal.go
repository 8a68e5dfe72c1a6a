package model

import (
	"encoding/json"
)

// Signal is an inbound signaling command. Both the polling and the socket
// bindings decode into this shape.
type Signal struct {
	Type      SignalType      `json:"type"`
	To        string          `json:"to,omitempty"`
	CallID    string          `json:"callId,omitempty"`
	CallType  CallType        `json:"callType,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}
