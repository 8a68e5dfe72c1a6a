package service

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/vibely/realtime-server-go/internal/errors"
	"github.com/vibely/realtime-server-go/internal/events"
	"github.com/vibely/realtime-server-go/internal/model"
	"github.com/vibely/realtime-server-go/internal/repository"
)

// Pusher delivers events to live channels. ChannelService implements it.
type Pusher interface {
	Send(userID string, ev events.Event) bool
	IsOnline(userID string) bool
}

type SendMessageParams struct {
	From     string
	To       string
	GroupID  string
	Text     string
	MediaRef string
}

type TypingParams struct {
	From    string
	To      string
	GroupID string
	Typing  bool
}

type typingKey struct {
	groupID string
	userID  string
}

type typingEntry struct {
	gen        uint64
	timer      *time.Timer
	recipients []string
}

type MessageService struct {
	messages repository.MessageRepository
	profiles repository.ProfileRepository
	pusher   Pusher

	typingTimeout time.Duration
	typingMu      sync.Mutex
	typing        map[typingKey]*typingEntry
	typingGen     uint64
}

func NewMessageService(
	messages repository.MessageRepository,
	profiles repository.ProfileRepository,
	pusher Pusher,
	typingTimeout time.Duration,
) *MessageService {
	return &MessageService{
		messages:      messages,
		profiles:      profiles,
		pusher:        pusher,
		typingTimeout: typingTimeout,
		typing:        make(map[typingKey]*typingEntry),
	}
}

// Send persists a direct or group message and then pushes it to every
// recipient with a live channel. A failed push never fails the send.
func (s *MessageService) Send(ctx context.Context, params SendMessageParams) (*model.Message, error) {
	params.Text = strings.TrimSpace(params.Text)
	params.MediaRef = strings.TrimSpace(params.MediaRef)

	if err := validateTarget(params.To, params.GroupID); err != nil {
		return nil, err
	}
	if params.Text == "" && params.MediaRef == "" {
		return nil, apperrors.MissingRequired("text or mediaRef")
	}

	if params.GroupID != "" {
		return s.sendGroup(ctx, params)
	}
	return s.sendDirect(ctx, params)
}

func (s *MessageService) sendDirect(ctx context.Context, params SendMessageParams) (*model.Message, error) {
	if err := s.checkRecipient(ctx, params.From, params.To); err != nil {
		return nil, err
	}

	online := s.pusher.IsOnline(params.To)

	msg, err := s.messages.Create(ctx, model.CreateMessageParams{
		FromUserID: params.From,
		ToUserID:   &params.To,
		Text:       params.Text,
		MediaRef:   params.MediaRef,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	s.deliver(ctx, msg, []string{params.To}, events.Notification{
		Title:  msg.SenderUsername,
		Body:   msg.Preview(),
		From:   msg.FromUserID,
		Avatar: msg.SenderAvatar,
	})

	if online {
		s.pusher.Send(params.From, events.MessageDelivered{MessageID: msg.ID, To: params.To})
	}

	log.Info().
		Str("messageId", msg.ID).
		Str("from", params.From).
		Str("to", params.To).
		Int("delivered", len(msg.DeliveredTo)).
		Msg("direct message sent")

	return msg, nil
}

func (s *MessageService) sendGroup(ctx context.Context, params SendMessageParams) (*model.Message, error) {
	group, err := s.groupForMember(ctx, params.GroupID, params.From)
	if err != nil {
		return nil, err
	}

	msg, err := s.messages.Create(ctx, model.CreateMessageParams{
		FromUserID: params.From,
		GroupID:    &params.GroupID,
		Text:       params.Text,
		MediaRef:   params.MediaRef,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	s.deliver(ctx, msg, without(group.MemberIDs, params.From), events.Notification{
		Title:  group.Name,
		Body:   msg.SenderUsername + ": " + msg.Preview(),
		From:   msg.FromUserID,
		Avatar: msg.SenderAvatar,
	})

	log.Info().
		Str("messageId", msg.ID).
		Str("from", params.From).
		Str("groupId", params.GroupID).
		Int("delivered", len(msg.DeliveredTo)).
		Msg("group message sent")

	return msg, nil
}

// SendSession persists a random-chat message tagged with its session and
// pushes it to the partner. Participants stay anonymous in the notification.
func (s *MessageService) SendSession(ctx context.Context, sessionID, from, to, text, mediaRef string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	mediaRef = strings.TrimSpace(mediaRef)
	if text == "" && mediaRef == "" {
		return nil, apperrors.MissingRequired("text or mediaRef")
	}

	msg, err := s.messages.Create(ctx, model.CreateMessageParams{
		FromUserID: from,
		ToUserID:   &to,
		SessionID:  &sessionID,
		Text:       text,
		MediaRef:   mediaRef,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	s.deliver(ctx, msg, []string{to}, events.Notification{
		Title: "Stranger",
		Body:  msg.Preview(),
		From:  from,
	})

	return msg, nil
}

// deliver pushes msg to each recipient and records who got it.
func (s *MessageService) deliver(ctx context.Context, msg *model.Message, recipients []string, notification events.Notification) {
	ev := events.NewMessage{Message: msg, Notification: notification}

	for _, userID := range recipients {
		if !s.pusher.Send(userID, ev) {
			continue
		}
		if err := s.messages.MarkDelivered(ctx, msg.ID, userID); err != nil {
			log.Warn().Err(err).
				Str("messageId", msg.ID).
				Str("userId", userID).
				Msg("failed to record delivery")
			continue
		}
		if !slices.Contains(msg.DeliveredTo, userID) {
			msg.DeliveredTo = append(msg.DeliveredTo, userID)
		}
	}
}

// MarkSeen flags messages as seen by userID and tells the sender.
func (s *MessageService) MarkSeen(ctx context.Context, userID string, messageIDs []string, from string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, apperrors.MissingRequired("messageIds")
	}

	n, err := s.messages.MarkSeen(ctx, messageIDs, userID)
	if err != nil {
		return 0, apperrors.Database(err)
	}

	if n > 0 && from != "" && from != userID {
		s.pusher.Send(from, events.MessageSeen{MessageIDs: messageIDs, By: userID})
	}
	return n, nil
}

// Typing forwards a typing indicator. Group indicators stop on their own
// after the typing timeout unless a stop or a fresh start arrives first.
func (s *MessageService) Typing(ctx context.Context, params TypingParams) error {
	if err := validateTarget(params.To, params.GroupID); err != nil {
		return err
	}

	if params.To != "" {
		if err := s.checkRecipient(ctx, params.From, params.To); err != nil {
			return err
		}
		if params.Typing {
			s.pusher.Send(params.To, events.TypingStart{From: params.From})
		} else {
			s.pusher.Send(params.To, events.TypingStop{From: params.From})
		}
		return nil
	}

	key := typingKey{groupID: params.GroupID, userID: params.From}
	if !params.Typing {
		s.stopGroupTyping(key)
		return nil
	}

	group, err := s.groupForMember(ctx, params.GroupID, params.From)
	if err != nil {
		return err
	}
	s.startGroupTyping(key, without(group.MemberIDs, params.From))
	return nil
}

func (s *MessageService) startGroupTyping(key typingKey, recipients []string) {
	s.typingMu.Lock()
	defer s.typingMu.Unlock()

	if prev, ok := s.typing[key]; ok {
		prev.timer.Stop()
	}

	s.typingGen++
	gen := s.typingGen
	entry := &typingEntry{gen: gen, recipients: recipients}
	entry.timer = time.AfterFunc(s.typingTimeout, func() {
		s.expireGroupTyping(key, gen)
	})
	s.typing[key] = entry

	s.fanout(recipients, events.GroupTypingStart{GroupID: key.groupID, From: key.userID})
}

func (s *MessageService) stopGroupTyping(key typingKey) {
	s.typingMu.Lock()
	defer s.typingMu.Unlock()

	entry, ok := s.typing[key]
	if !ok {
		return
	}
	entry.timer.Stop()
	delete(s.typing, key)

	s.fanout(entry.recipients, events.GroupTypingStop{GroupID: key.groupID, From: key.userID})
}

func (s *MessageService) expireGroupTyping(key typingKey, gen uint64) {
	s.typingMu.Lock()
	defer s.typingMu.Unlock()

	entry, ok := s.typing[key]
	if !ok || entry.gen != gen {
		return
	}
	delete(s.typing, key)

	s.fanout(entry.recipients, events.GroupTypingStop{GroupID: key.groupID, From: key.userID})
}

// StopTyping cancels every pending group typing timer without notifying anyone.
func (s *MessageService) StopTyping() {
	s.typingMu.Lock()
	defer s.typingMu.Unlock()

	for key, entry := range s.typing {
		entry.timer.Stop()
		delete(s.typing, key)
	}
}

func (s *MessageService) fanout(recipients []string, ev events.Event) {
	for _, userID := range recipients {
		s.pusher.Send(userID, ev)
	}
}

// History returns one page of a direct conversation, oldest first.
func (s *MessageService) History(ctx context.Context, userID, peerID string, page Page) ([]model.Message, error) {
	msgs, err := s.messages.FindConversation(ctx, userID, peerID, page.Limit, page.Skip)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return newestLast(msgs), nil
}

func (s *MessageService) GroupHistory(ctx context.Context, userID, groupID string, page Page) ([]model.Message, error) {
	if _, err := s.groupForMember(ctx, groupID, userID); err != nil {
		return nil, err
	}

	msgs, err := s.messages.FindByGroup(ctx, groupID, page.Limit, page.Skip)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return newestLast(msgs), nil
}

func (s *MessageService) SessionHistory(ctx context.Context, sessionID string, page Page) ([]model.Message, error) {
	msgs, err := s.messages.FindBySession(ctx, sessionID, page.Limit, page.Skip)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return newestLast(msgs), nil
}

// checkRecipient rejects self-addressed and unknown direct recipients.
func (s *MessageService) checkRecipient(ctx context.Context, from, to string) error {
	if to == from {
		return apperrors.InvalidInput("to", "cannot message yourself")
	}

	recipient, err := s.profiles.FindByID(ctx, to)
	if err != nil {
		return apperrors.Database(err)
	}
	if recipient == nil {
		return apperrors.NotFound("User")
	}
	return nil
}

func (s *MessageService) groupForMember(ctx context.Context, groupID, userID string) (*model.Group, error) {
	group, err := s.profiles.FindGroup(ctx, groupID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if group == nil {
		return nil, apperrors.NotFound("Group")
	}

	member, err := s.profiles.IsMember(ctx, groupID, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if !member {
		return nil, apperrors.Forbidden("Not a member of this group")
	}
	return group, nil
}

func validateTarget(to, groupID string) error {
	if to == "" && groupID == "" {
		return apperrors.ValidationError("Either to or groupId is required")
	}
	if to != "" && groupID != "" {
		return apperrors.ValidationError("Only one of to or groupId may be set")
	}
	return nil
}

// newestLast flips a newest-first page so the latest message is last.
func newestLast(msgs []model.Message) []model.Message {
	if msgs == nil {
		return []model.Message{}
	}
	slices.Reverse(msgs)
	return msgs
}
