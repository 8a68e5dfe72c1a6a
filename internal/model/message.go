package model

import (
	"time"

	"github.com/lib/pq"
)

// Message mirrors the messages table. Exactly one of ToUserID and GroupID is set.
// Sender fields are denormalized at insert time so a pushed record is complete.
type Message struct {
	ID             string         `db:"id" json:"id"`
	FromUserID     string         `db:"from_user_id" json:"from_user_id"`
	ToUserID       *string        `db:"to_user_id" json:"to_user_id,omitempty"`
	GroupID        *string        `db:"group_id" json:"group_id,omitempty"`
	SessionID      *string        `db:"session_id" json:"session_id,omitempty"`
	Text           string         `db:"text" json:"text,omitempty"`
	MediaRef       string         `db:"media_ref" json:"media_ref,omitempty"`
	SenderUsername string         `db:"sender_username" json:"sender_username"`
	SenderAvatar   *string        `db:"sender_avatar" json:"sender_avatar,omitempty"`
	Seen           bool           `db:"seen" json:"seen"`
	DeliveredTo    pq.StringArray `db:"delivered_to" json:"delivered_to"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// IsGroup reports whether the message is addressed to a group.
func (m *Message) IsGroup() bool {
	return m.GroupID != nil
}

// Preview returns the notification body for the message.
func (m *Message) Preview() string {
	if m.Text != "" {
		return m.Text
	}
	if m.MediaRef != "" {
		return "Sent an attachment"
	}
	return ""
}

type CreateMessageParams struct {
	FromUserID string
	ToUserID   *string
	GroupID    *string
	SessionID  *string
	Text       string
	MediaRef   string
}
