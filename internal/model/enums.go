package model

type ChatSessionStatus string

const (
	ChatSessionStatusMatched  ChatSessionStatus = "matched"
	ChatSessionStatusChatting ChatSessionStatus = "chatting"
	ChatSessionStatusSkipped  ChatSessionStatus = "skipped"
	ChatSessionStatusEnded    ChatSessionStatus = "ended"
	ChatSessionStatusSaved    ChatSessionStatus = "saved"
)

var chatSessionTransitions = map[ChatSessionStatus][]ChatSessionStatus{
	ChatSessionStatusMatched:  {ChatSessionStatusChatting, ChatSessionStatusSkipped, ChatSessionStatusEnded},
	ChatSessionStatusChatting: {ChatSessionStatusSkipped, ChatSessionStatusEnded},
	ChatSessionStatusSkipped:  {ChatSessionStatusSaved},
	ChatSessionStatusEnded:    {ChatSessionStatusSaved},
}

func (s ChatSessionStatus) CanTransition(to ChatSessionStatus) bool {
	for _, next := range chatSessionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Active reports whether participants can still exchange messages.
func (s ChatSessionStatus) Active() bool {
	return s == ChatSessionStatusMatched || s == ChatSessionStatusChatting
}

func (s ChatSessionStatus) Finished() bool {
	return s == ChatSessionStatusSkipped || s == ChatSessionStatusEnded || s == ChatSessionStatusSaved
}

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

type CallStatus string

const (
	CallStatusCalling   CallStatus = "calling"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusAnswered  CallStatus = "answered"
	CallStatusConnected CallStatus = "connected"
	CallStatusEnded     CallStatus = "ended"
	CallStatusRejected  CallStatus = "rejected"
)

var callTransitions = map[CallStatus][]CallStatus{
	CallStatusCalling:   {CallStatusRinging, CallStatusAnswered, CallStatusRejected, CallStatusEnded},
	CallStatusRinging:   {CallStatusAnswered, CallStatusRejected, CallStatusEnded},
	CallStatusAnswered:  {CallStatusConnected, CallStatusEnded},
	CallStatusConnected: {CallStatusEnded},
}

func (s CallStatus) CanTransition(to CallStatus) bool {
	for _, next := range callTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Pending reports whether the callee has not answered yet.
func (s CallStatus) Pending() bool {
	return s == CallStatusCalling || s == CallStatusRinging
}

type SignalType string

const (
	SignalTypeOffer        SignalType = "offer"
	SignalTypeAnswer       SignalType = "answer"
	SignalTypeICECandidate SignalType = "ice-candidate"
	SignalTypeReject       SignalType = "reject"
	SignalTypeEnd          SignalType = "end"
)

const (
	EndReasonPeerDisconnected = "peer-disconnected"
	EndReasonNoAnswer         = "no-answer"
	EndReasonHangup           = "hangup"
	RejectReasonDeclined      = "declined"
)
