package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vibely/realtime-server-go/internal/model"
)

type MessageRepository interface {
	Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error)
	FindByID(ctx context.Context, id string) (*model.Message, error)
	MarkDelivered(ctx context.Context, id, userID string) error
	MarkSeen(ctx context.Context, ids []string, userID string) (int64, error)
	FindConversation(ctx context.Context, userID, peerID string, limit, offset int) ([]model.Message, error)
	FindByGroup(ctx context.Context, groupID string, limit, offset int) ([]model.Message, error)
	FindBySession(ctx context.Context, sessionID string, limit, offset int) ([]model.Message, error)
}

// Sender profile columns are joined in on every read so callers get a
// complete record.
const messageColumns = `
	m.*,
	COALESCE(u.username, '') AS sender_username,
	u.avatar_url AS sender_avatar
`

type messageRepo struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `
		WITH m AS (
			INSERT INTO messages (from_user_id, to_user_id, group_id, session_id, text, media_ref)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING *
		)
		SELECT `+messageColumns+`
		FROM m
		LEFT JOIN users u ON u.id = m.from_user_id
	`, params.FromUserID, params.ToUserID, params.GroupID, params.SessionID,
		params.Text, params.MediaRef)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepo) FindByID(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.from_user_id
		WHERE m.id = $1
	`, id)
	return HandleNotFound(&msg, err)
}

func (r *messageRepo) MarkDelivered(ctx context.Context, id, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET
			delivered_to = array_append(delivered_to, $2)
		WHERE id = $1 AND NOT ($2 = ANY(delivered_to))
	`, id, userID)
	return err
}

// MarkSeen flags messages addressed to userID, directly or through a group.
func (r *messageRepo) MarkSeen(ctx context.Context, ids []string, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE messages SET seen = TRUE
		WHERE id::text = ANY($1)
		AND seen = FALSE
		AND (
			to_user_id = $2
			OR group_id IN (SELECT group_id FROM group_members WHERE user_id = $2)
		)
	`, pq.Array(ids), userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *messageRepo) FindConversation(ctx context.Context, userID, peerID string, limit, offset int) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.from_user_id
		WHERE m.session_id IS NULL
		AND (
			(m.from_user_id = $1 AND m.to_user_id = $2)
			OR (m.from_user_id = $2 AND m.to_user_id = $1)
		)
		ORDER BY m.created_at DESC
		LIMIT $3 OFFSET $4
	`, userID, peerID, limit, offset)
	return msgs, err
}

func (r *messageRepo) FindByGroup(ctx context.Context, groupID string, limit, offset int) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.from_user_id
		WHERE m.group_id = $1
		ORDER BY m.created_at DESC
		LIMIT $2 OFFSET $3
	`, groupID, limit, offset)
	return msgs, err
}

func (r *messageRepo) FindBySession(ctx context.Context, sessionID string, limit, offset int) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.from_user_id
		WHERE m.session_id = $1
		ORDER BY m.created_at DESC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	return msgs, err
}
