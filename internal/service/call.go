package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vibely/realtime-server-go/internal/audit"
	apperrors "github.com/vibely/realtime-server-go/internal/errors"
	"github.com/vibely/realtime-server-go/internal/events"
	"github.com/vibely/realtime-server-go/internal/model"
)

const (
	SignalStatusSent        = "sent"
	SignalStatusUnavailable = "unavailable"

	offerLimitScope  = "offer"
	offerLimitWindow = time.Minute
)

// OfferLimiter throttles call offers per caller.
type OfferLimiter interface {
	CheckLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) LimitResult
}

type OfferParams struct {
	CallerID string
	CalleeID string
	CallID   string
	CallType model.CallType
	SDP      json.RawMessage
}

// SignalResult is what either binding reports back to the sender.
type SignalResult struct {
	Status string      `json:"status"`
	CallID string      `json:"callId,omitempty"`
	Call   *model.Call `json:"call,omitempty"`
}

// Binding names the signaling transport a party drives a call through.
type Binding string

const (
	BindingSocket Binding = "socket"
	BindingPoll   Binding = "poll"
)

type bindingKey struct{}

// WithBinding tags ctx with the binding an inbound signal arrived on.
func WithBinding(ctx context.Context, b Binding) context.Context {
	return context.WithValue(ctx, bindingKey{}, b)
}

func bindingFrom(ctx context.Context) Binding {
	b, _ := ctx.Value(bindingKey{}).(Binding)
	return b
}

type activeCall struct {
	call     model.Call
	timer    *time.Timer
	bindings map[string]Binding // userID -> binding seen on offer/answer
}

func (a *activeCall) bind(userID string, b Binding) {
	if b != "" {
		a.bindings[userID] = b
	}
}

// CallService is the single call state machine behind both signaling
// bindings. It routes payloads by call id and never looks inside them.
type CallService struct {
	mu    sync.Mutex
	calls map[string]*activeCall

	transport   SignalTransport
	ringTimeout time.Duration
	limiter     OfferLimiter
	offerLimit  int
	now         func() time.Time
}

func NewCallService(transport SignalTransport, ringTimeout time.Duration) *CallService {
	return &CallService{
		calls:       make(map[string]*activeCall),
		transport:   transport,
		ringTimeout: ringTimeout,
		now:         time.Now,
	}
}

// WithOfferLimit caps offers per caller per minute. A zero limit disables it.
func (s *CallService) WithOfferLimit(limiter OfferLimiter, perMinute int) *CallService {
	s.limiter = limiter
	s.offerLimit = perMinute
	return s
}

// Dispatch runs one inbound signal through the state machine. An
// unreachable callee is a normal outcome, reported as status "unavailable".
func (s *CallService) Dispatch(ctx context.Context, from string, sig model.Signal) (*SignalResult, error) {
	switch sig.Type {
	case model.SignalTypeOffer:
		call, err := s.Offer(ctx, OfferParams{
			CallerID: from,
			CalleeID: sig.To,
			CallID:   sig.CallID,
			CallType: sig.CallType,
			SDP:      sig.SDP,
		})
		if apperrors.Is(err, apperrors.ErrCodeUserUnavailable) {
			return &SignalResult{Status: SignalStatusUnavailable, CallID: sig.CallID}, nil
		}
		if err != nil {
			return nil, err
		}
		return &SignalResult{Status: SignalStatusSent, CallID: call.ID, Call: call}, nil

	case model.SignalTypeAnswer:
		call, err := s.Answer(ctx, from, sig.CallID, sig.SDP)
		if err != nil {
			return nil, err
		}
		return &SignalResult{Status: SignalStatusSent, CallID: call.ID, Call: call}, nil

	case model.SignalTypeICECandidate:
		if err := s.ICECandidate(ctx, from, sig.CallID, sig.Candidate); err != nil {
			return nil, err
		}
		return &SignalResult{Status: SignalStatusSent, CallID: sig.CallID}, nil

	case model.SignalTypeReject:
		if err := s.Reject(ctx, from, sig.CallID, sig.Reason); err != nil {
			return nil, err
		}
		return &SignalResult{Status: SignalStatusSent, CallID: sig.CallID}, nil

	case model.SignalTypeEnd:
		if err := s.End(ctx, from, sig.CallID, sig.Reason); err != nil {
			return nil, err
		}
		return &SignalResult{Status: SignalStatusSent, CallID: sig.CallID}, nil

	default:
		return nil, apperrors.InvalidInput("type", "unknown signal type")
	}
}

// Offer creates a ringing call and forwards incoming-call to the callee.
// No record survives when the callee cannot be reached.
func (s *CallService) Offer(ctx context.Context, params OfferParams) (*model.Call, error) {
	if params.CalleeID == "" {
		return nil, apperrors.MissingRequired("to")
	}
	if params.CalleeID == params.CallerID {
		return nil, apperrors.InvalidInput("to", "cannot call yourself")
	}
	if params.CallType == "" {
		params.CallType = model.CallTypeAudio
	}
	if !params.CallType.Valid() {
		return nil, apperrors.InvalidInput("callType", "must be audio or video")
	}
	if params.CallID == "" {
		params.CallID = uuid.NewString()
	}

	if s.limiter != nil && s.offerLimit > 0 {
		res := s.limiter.CheckLimit(ctx, offerLimitScope, params.CallerID, s.offerLimit, offerLimitWindow)
		if !res.Allowed {
			audit.Log(ctx, audit.Event{
				Type:    audit.EventOfferThrottled,
				UserID:  params.CallerID,
				Details: map[string]any{"callee": params.CalleeID},
			})
			return nil, apperrors.RateLimitExceeded()
		}
	}

	if !s.transport.Reachable(params.CalleeID) {
		return nil, apperrors.UserUnavailable(params.CalleeID)
	}

	s.mu.Lock()
	if _, exists := s.calls[params.CallID]; exists {
		s.mu.Unlock()
		return nil, apperrors.Conflict("Call already exists")
	}
	entry := &activeCall{call: model.Call{
		ID:        params.CallID,
		CallerID:  params.CallerID,
		CalleeID:  params.CalleeID,
		Type:      params.CallType,
		Status:    model.CallStatusCalling,
		CreatedAt: s.now(),
	}, bindings: make(map[string]Binding)}
	entry.bind(params.CallerID, bindingFrom(ctx))
	if s.ringTimeout > 0 {
		entry.timer = time.AfterFunc(s.ringTimeout, func() { s.expire(params.CallID, entry) })
	}
	s.calls[params.CallID] = entry
	call := entry.call
	s.mu.Unlock()

	delivered := s.transport.Deliver(params.CalleeID, events.IncomingCall{
		CallID:   call.ID,
		From:     call.CallerID,
		CallType: call.Type,
		SDP:      params.SDP,
	})
	if !delivered {
		s.remove(call.ID, entry)
		return nil, apperrors.UserUnavailable(params.CalleeID)
	}

	s.mu.Lock()
	if current, ok := s.calls[call.ID]; ok && current == entry && entry.call.Status == model.CallStatusCalling {
		entry.call.Status = model.CallStatusRinging
	}
	call = entry.call
	s.mu.Unlock()

	log.Info().
		Str("callId", call.ID).
		Str("callerId", call.CallerID).
		Str("calleeId", call.CalleeID).
		Str("callType", string(call.Type)).
		Msg("call offered")

	return &call, nil
}

// Answer connects a ringing call and forwards the answer to the caller.
func (s *CallService) Answer(ctx context.Context, calleeID, callID string, sdp json.RawMessage) (*model.Call, error) {
	s.mu.Lock()
	entry, err := s.lookupLocked(callID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if entry.call.CalleeID != calleeID {
		s.mu.Unlock()
		return nil, apperrors.Forbidden("Only the callee can answer")
	}
	if !entry.call.Status.CanTransition(model.CallStatusAnswered) {
		s.mu.Unlock()
		return nil, apperrors.Conflict("Call is not ringing")
	}

	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.bind(calleeID, bindingFrom(ctx))
	now := s.now()
	entry.call.Status = model.CallStatusConnected
	entry.call.AnsweredAt = &now
	call := entry.call
	s.mu.Unlock()

	s.transport.Deliver(call.CallerID, events.CallAnswer{CallID: call.ID, From: calleeID, SDP: sdp})

	log.Info().Str("callId", call.ID).Msg("call answered")
	return &call, nil
}

// ICECandidate forwards a candidate to the other party. The call state is
// left untouched.
func (s *CallService) ICECandidate(ctx context.Context, senderID, callID string, candidate json.RawMessage) error {
	if len(candidate) == 0 {
		return apperrors.MissingRequired("candidate")
	}

	s.mu.Lock()
	entry, err := s.lookupLocked(callID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	peer, ok := entry.call.Peer(senderID)
	s.mu.Unlock()
	if !ok {
		return apperrors.Forbidden("Not a participant of this call")
	}

	s.transport.Deliver(peer, events.ICECandidate{CallID: callID, From: senderID, Candidate: candidate})
	return nil
}

// Reject declines a ringing call. Rejecting an unknown call does nothing.
func (s *CallService) Reject(ctx context.Context, calleeID, callID, reason string) error {
	if reason == "" {
		reason = model.RejectReasonDeclined
	}

	s.mu.Lock()
	entry, ok := s.calls[callID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if entry.call.CalleeID != calleeID {
		s.mu.Unlock()
		return apperrors.Forbidden("Only the callee can reject")
	}
	if !entry.call.Status.CanTransition(model.CallStatusRejected) {
		s.mu.Unlock()
		return apperrors.Conflict("Call is not ringing")
	}
	entry.call.Status = model.CallStatusRejected
	s.deleteLocked(callID, entry)
	call := entry.call
	s.mu.Unlock()

	s.transport.Deliver(call.CallerID, events.CallRejected{CallID: callID, From: calleeID, Reason: reason})

	log.Info().
		Str("callId", callID).
		Str("status", string(call.Status)).
		Str("reason", reason).
		Msg("call rejected")
	return nil
}

// End hangs up from either side. Ending an unknown call does nothing.
func (s *CallService) End(ctx context.Context, userID, callID, reason string) error {
	if reason == "" {
		reason = model.EndReasonHangup
	}

	s.mu.Lock()
	entry, ok := s.calls[callID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	peer, participant := entry.call.Peer(userID)
	if !participant {
		s.mu.Unlock()
		return apperrors.Forbidden("Not a participant of this call")
	}
	entry.call.Status = model.CallStatusEnded
	s.deleteLocked(callID, entry)
	s.mu.Unlock()

	s.transport.Deliver(peer, events.CallEnded{CallID: callID, From: userID, Reason: reason})

	log.Info().
		Str("callId", callID).
		Str("status", string(model.CallStatusEnded)).
		Str("reason", reason).
		Msg("call ended")
	return nil
}

// HandleSocketDisconnect ends the user's calls unless they drove a call over
// the polling binding. Deliveries prefer the socket, so a party with no
// recorded binding was being served by it.
func (s *CallService) HandleSocketDisconnect(userID string) {
	s.handleDisconnect(userID, BindingSocket)
}

// HandleChannelDisconnect ends the user's polling-bound calls, and calls with
// no recorded binding once nothing reaches the user anymore.
func (s *CallService) HandleChannelDisconnect(userID string) {
	s.handleDisconnect(userID, BindingPoll)
}

func (s *CallService) handleDisconnect(userID string, lost Binding) {
	reachable := lost == BindingPoll && s.transport.Reachable(userID)

	var out []delivery
	s.mu.Lock()
	for callID, entry := range s.calls {
		peer, ok := entry.call.Peer(userID)
		if !ok {
			continue
		}
		if b, known := entry.bindings[userID]; known {
			if b != lost {
				continue
			}
		} else if lost == BindingPoll && reachable {
			continue
		}
		entry.call.Status = model.CallStatusEnded
		s.deleteLocked(callID, entry)
		out = append(out, delivery{
			to: peer,
			ev: events.CallEnded{CallID: callID, From: userID, Reason: model.EndReasonPeerDisconnected},
		})
	}
	s.mu.Unlock()

	for _, d := range out {
		s.transport.Deliver(d.to, d.ev)
	}

	if len(out) > 0 {
		log.Info().
			Str("userId", userID).
			Str("binding", string(lost)).
			Int("calls", len(out)).
			Msg("calls ended on disconnect")
	}
}

// Get returns a copy of the call record.
func (s *CallService) Get(callID string) (*model.Call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.calls[callID]
	if !ok {
		return nil, false
	}
	call := entry.call
	return &call, true
}

func (s *CallService) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Shutdown stops all ring timers.
func (s *CallService) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.calls {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
}

func (s *CallService) expire(callID string, entry *activeCall) {
	s.mu.Lock()
	current, ok := s.calls[callID]
	if !ok || current != entry || !entry.call.Status.Pending() {
		s.mu.Unlock()
		return
	}
	entry.call.Status = model.CallStatusEnded
	delete(s.calls, callID)
	call := entry.call
	s.mu.Unlock()

	ev := events.CallEnded{CallID: callID, Reason: model.EndReasonNoAnswer}
	s.transport.Deliver(call.CallerID, ev)
	s.transport.Deliver(call.CalleeID, ev)

	log.Info().Str("callId", callID).Msg("call timed out ringing")
}

func (s *CallService) remove(callID string, entry *activeCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.calls[callID]; ok && current == entry {
		s.deleteLocked(callID, entry)
	}
}

func (s *CallService) deleteLocked(callID string, entry *activeCall) {
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(s.calls, callID)
}

func (s *CallService) lookupLocked(callID string) (*activeCall, error) {
	if callID == "" {
		return nil, apperrors.MissingRequired("callId")
	}
	entry, ok := s.calls[callID]
	if !ok {
		return nil, apperrors.NotFound("Call")
	}
	return entry, nil
}
