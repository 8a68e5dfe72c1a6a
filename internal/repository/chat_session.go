package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/vibely/realtime-server-go/internal/model"
)

type ChatSessionRepository interface {
	Archive(ctx context.Context, session *model.ChatSession) (*model.ChatSession, error)
	FindByID(ctx context.Context, id string) (*model.ChatSession, error)
	FindSavedByUser(ctx context.Context, userID string, limit, offset int) ([]model.ChatSession, error)
}

type chatSessionRepo struct {
	db *sqlx.DB
}

func NewChatSessionRepository(db *sqlx.DB) ChatSessionRepository {
	return &chatSessionRepo{db: db}
}

// Archive upserts the session. A second save by the other participant merges
// into saved_by.
func (r *chatSessionRepo) Archive(ctx context.Context, session *model.ChatSession) (*model.ChatSession, error) {
	var archived model.ChatSession
	err := r.db.GetContext(ctx, &archived, `
		INSERT INTO chat_sessions (id, user_a, user_b, status, matched_at, ended_at, saved_by, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			saved_by = ARRAY(
				SELECT DISTINCT unnest(chat_sessions.saved_by || EXCLUDED.saved_by)
			),
			saved_at = EXCLUDED.saved_at
		RETURNING *
	`, session.ID, session.UserA, session.UserB, session.Status, session.MatchedAt,
		session.EndedAt, session.SavedBy, session.SavedAt)
	if err != nil {
		return nil, err
	}
	return &archived, nil
}

func (r *chatSessionRepo) FindByID(ctx context.Context, id string) (*model.ChatSession, error) {
	var session model.ChatSession
	err := r.db.GetContext(ctx, &session, `SELECT * FROM chat_sessions WHERE id = $1`, id)
	return HandleNotFound(&session, err)
}

func (r *chatSessionRepo) FindSavedByUser(ctx context.Context, userID string, limit, offset int) ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM chat_sessions
		WHERE $1 = ANY(saved_by)
		ORDER BY saved_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return sessions, err
}
