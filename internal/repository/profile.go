package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vibely/realtime-server-go/internal/model"
)

type ProfileRepository interface {
	FindByID(ctx context.Context, id string) (*model.Profile, error)
	TouchLastSeen(ctx context.Context, userID string, at time.Time) error
	FindGroup(ctx context.Context, groupID string) (*model.Group, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

type profileRepo struct {
	db *sqlx.DB
}

func NewProfileRepository(db *sqlx.DB) ProfileRepository {
	return &profileRepo{db: db}
}

func (r *profileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	var profile model.Profile
	err := r.db.GetContext(ctx, &profile, `
		SELECT id, username, display_name, avatar_url, last_seen_at
		FROM users WHERE id = $1
	`, id)
	return HandleNotFound(&profile, err)
}

func (r *profileRepo) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET last_seen_at = $2
		WHERE id = $1 AND (last_seen_at IS NULL OR last_seen_at < $2)
	`, userID, at)
	return err
}

func (r *profileRepo) FindGroup(ctx context.Context, groupID string) (*model.Group, error) {
	var group model.Group
	err := r.db.GetContext(ctx, &group, `
		SELECT
			g.id,
			g.name,
			COALESCE(array_agg(gm.user_id ORDER BY gm.joined_at) FILTER (WHERE gm.user_id IS NOT NULL), '{}') AS member_ids
		FROM groups g
		LEFT JOIN group_members gm ON gm.group_id = g.id
		WHERE g.id = $1
		GROUP BY g.id, g.name
	`, groupID)
	return HandleNotFound(&group, err)
}

func (r *profileRepo) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2
		)
	`, groupID, userID)
	return exists, err
}
