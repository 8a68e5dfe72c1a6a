// Package events defines every envelope pushed to clients. Each kind is its own
// struct so producers and consumers switch over concrete types.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vibely/realtime-server-go/internal/model"
)

type Type string

const (
	TypeConnected        Type = "connected"
	TypeHeartbeat        Type = "heartbeat"
	TypeUserOnline       Type = "user_online"
	TypeUserOffline      Type = "user_offline"
	TypeNewMessage       Type = "new_message"
	TypeMessageDelivered Type = "message_delivered"
	TypeMessageSeen      Type = "message_seen"
	TypeTypingStart      Type = "typing_start"
	TypeTypingStop       Type = "typing_stop"
	TypeGroupTypingStart Type = "group_typing_start"
	TypeGroupTypingStop  Type = "group_typing_stop"
	TypeMatchFound       Type = "match_found"
	TypePartnerLeft      Type = "partner_left"
	TypeIncomingCall     Type = "incoming-call"
	TypeCallAnswer       Type = "call-answer"
	TypeCallRejected     Type = "call-rejected"
	TypeCallEnded        Type = "call-ended"
	TypeICECandidate     Type = "ice-candidate"
	TypeUserUnavailable  Type = "user-unavailable"
	TypeWelcome          Type = "welcome"
	TypeError            Type = "error"
)

var ErrUnknownType = errors.New("unknown event type")

type Event interface {
	Type() Type
}

type Connected struct {
	UserID      string   `json:"userId"`
	OnlineUsers []string `json:"onlineUsers"`
}

type Heartbeat struct{}

type UserOnline struct {
	UserID string `json:"userId"`
}

type UserOffline struct {
	UserID string `json:"userId"`
}

type Notification struct {
	Title  string  `json:"title"`
	Body   string  `json:"body"`
	From   string  `json:"from"`
	Avatar *string `json:"avatar,omitempty"`
}

type NewMessage struct {
	Message      *model.Message `json:"message"`
	Notification Notification   `json:"notification"`
}

type MessageDelivered struct {
	MessageID string `json:"messageId"`
	To        string `json:"to"`
}

type MessageSeen struct {
	MessageIDs []string `json:"messageIds"`
	By         string   `json:"by"`
}

type TypingStart struct {
	From string `json:"from"`
}

type TypingStop struct {
	From string `json:"from"`
}

type GroupTypingStart struct {
	GroupID string `json:"groupId"`
	From    string `json:"from"`
}

type GroupTypingStop struct {
	GroupID string `json:"groupId"`
	From    string `json:"from"`
}

type MatchFound struct {
	SessionID string `json:"sessionId"`
	PartnerID string `json:"partnerId"`
}

type PartnerLeft struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

type IncomingCall struct {
	CallID   string          `json:"callId"`
	From     string          `json:"from"`
	CallType model.CallType  `json:"callType"`
	SDP      json.RawMessage `json:"sdp,omitempty"`
}

type CallAnswer struct {
	CallID string          `json:"callId"`
	From   string          `json:"from"`
	SDP    json.RawMessage `json:"sdp,omitempty"`
}

type CallRejected struct {
	CallID string `json:"callId"`
	From   string `json:"from"`
	Reason string `json:"reason"`
}

type CallEnded struct {
	CallID string `json:"callId"`
	From   string `json:"from,omitempty"`
	Reason string `json:"reason"`
}

type ICECandidate struct {
	CallID    string          `json:"callId"`
	From      string          `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
}

type UserUnavailable struct {
	UserID string `json:"userId"`
	CallID string `json:"callId,omitempty"`
}

type Welcome struct {
	UserID string `json:"userId"`
}

// Error reports a rejected inbound frame on the socket binding.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	CallID  string `json:"callId,omitempty"`
}

func (Connected) Type() Type        { return TypeConnected }
func (Heartbeat) Type() Type        { return TypeHeartbeat }
func (UserOnline) Type() Type       { return TypeUserOnline }
func (UserOffline) Type() Type      { return TypeUserOffline }
func (NewMessage) Type() Type       { return TypeNewMessage }
func (MessageDelivered) Type() Type { return TypeMessageDelivered }
func (MessageSeen) Type() Type      { return TypeMessageSeen }
func (TypingStart) Type() Type      { return TypeTypingStart }
func (TypingStop) Type() Type       { return TypeTypingStop }
func (GroupTypingStart) Type() Type { return TypeGroupTypingStart }
func (GroupTypingStop) Type() Type  { return TypeGroupTypingStop }
func (MatchFound) Type() Type       { return TypeMatchFound }
func (PartnerLeft) Type() Type      { return TypePartnerLeft }
func (IncomingCall) Type() Type     { return TypeIncomingCall }
func (CallAnswer) Type() Type       { return TypeCallAnswer }
func (CallRejected) Type() Type     { return TypeCallRejected }
func (CallEnded) Type() Type        { return TypeCallEnded }
func (ICECandidate) Type() Type     { return TypeICECandidate }
func (UserUnavailable) Type() Type  { return TypeUserUnavailable }
func (Welcome) Type() Type          { return TypeWelcome }
func (Error) Type() Type            { return TypeError }

// Payload returns the event body without the envelope fields.
func Payload(ev Event) (json.RawMessage, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", ev.Type(), err)
	}
	return data, nil
}

// Marshal renders the wire envelope: the payload fields flattened next to
// "type" and "timestamp" (unix millis).
func Marshal(ev Event, now time.Time) ([]byte, error) {
	payload, err := Payload(ev)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]json.RawMessage)
	if !bytes.Equal(payload, []byte("{}")) {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, fmt.Errorf("flatten %s: %w", ev.Type(), err)
		}
	}

	typ, _ := json.Marshal(ev.Type())
	ts, _ := json.Marshal(now.UnixMilli())
	fields["type"] = typ
	fields["timestamp"] = ts

	return json.Marshal(fields)
}

// Decode parses a wire envelope into its concrete event.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var ev Event
	var err error
	switch head.Type {
	case TypeConnected:
		ev, err = decodeAs[Connected](data)
	case TypeHeartbeat:
		ev, err = decodeAs[Heartbeat](data)
	case TypeUserOnline:
		ev, err = decodeAs[UserOnline](data)
	case TypeUserOffline:
		ev, err = decodeAs[UserOffline](data)
	case TypeNewMessage:
		ev, err = decodeAs[NewMessage](data)
	case TypeMessageDelivered:
		ev, err = decodeAs[MessageDelivered](data)
	case TypeMessageSeen:
		ev, err = decodeAs[MessageSeen](data)
	case TypeTypingStart:
		ev, err = decodeAs[TypingStart](data)
	case TypeTypingStop:
		ev, err = decodeAs[TypingStop](data)
	case TypeGroupTypingStart:
		ev, err = decodeAs[GroupTypingStart](data)
	case TypeGroupTypingStop:
		ev, err = decodeAs[GroupTypingStop](data)
	case TypeMatchFound:
		ev, err = decodeAs[MatchFound](data)
	case TypePartnerLeft:
		ev, err = decodeAs[PartnerLeft](data)
	case TypeIncomingCall:
		ev, err = decodeAs[IncomingCall](data)
	case TypeCallAnswer:
		ev, err = decodeAs[CallAnswer](data)
	case TypeCallRejected:
		ev, err = decodeAs[CallRejected](data)
	case TypeCallEnded:
		ev, err = decodeAs[CallEnded](data)
	case TypeICECandidate:
		ev, err = decodeAs[ICECandidate](data)
	case TypeUserUnavailable:
		ev, err = decodeAs[UserUnavailable](data)
	case TypeWelcome:
		ev, err = decodeAs[Welcome](data)
	case TypeError:
		ev, err = decodeAs[Error](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return ev, nil
}

func decodeAs[T Event](data []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}
