package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/vibely/realtime-server-go/internal/errors"
	"github.com/vibely/realtime-server-go/internal/httputil"
	"github.com/vibely/realtime-server-go/internal/middleware"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// writeError logs anything that is not a client mistake before answering.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.GetCode(err)
	if httputil.StatusFromCode(code) >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("path", r.URL.Path).
			Str("userId", middleware.GetUserID(r.Context())).
			Msg("request failed")
	}
	httputil.WriteError(w, err)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.ValidationError("Request body is required")
		}
		return apperrors.ValidationError("Invalid request body")
	}
	return nil
}

// requireUser returns the authenticated user or answers 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		httputil.WriteError(w, apperrors.Unauthorized("Unauthorized"))
		return "", false
	}
	return userID, true
}
