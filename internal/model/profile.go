package model

import (
	"time"

	"github.com/lib/pq"
)

type Profile struct {
	ID          string     `db:"id" json:"id"`
	Username    string     `db:"username" json:"username"`
	DisplayName *string    `db:"display_name" json:"displayName,omitempty"`
	AvatarURL   *string    `db:"avatar_url" json:"avatarUrl,omitempty"`
	LastSeenAt  *time.Time `db:"last_seen_at" json:"lastSeenAt,omitempty"`
}

// Name prefers the display name and falls back to the username.
func (p *Profile) Name() string {
	if p.DisplayName != nil && *p.DisplayName != "" {
		return *p.DisplayName
	}
	return p.Username
}

type Group struct {
	ID        string         `db:"id" json:"id"`
	Name      string         `db:"name" json:"name"`
	MemberIDs pq.StringArray `db:"member_ids" json:"memberIds"`
}
