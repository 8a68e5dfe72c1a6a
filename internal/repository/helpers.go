package repository

import (
	"database/sql"
	"errors"
)

// HandleNotFound maps sql.ErrNoRows from a single-row lookup to (nil, nil),
// so callers decide whether a missing user, group or session is an error.
func HandleNotFound[T any](row *T, err error) (*T, error) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, err
	default:
		return row, nil
	}
}
