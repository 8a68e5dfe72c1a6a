package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vibely/realtime-server-go/internal/service"
)

type MatchHandler struct {
	match *service.MatchService
}

func NewMatchHandler(match *service.MatchService) *MatchHandler {
	return &MatchHandler{match: match}
}

func (h *MatchHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/join", h.Join)
	r.Post("/leave", h.Leave)
	r.Get("/status", h.Status)
	r.Get("/saved", h.Saved)

	r.Route("/sessions/{sessionId}", func(r chi.Router) {
		r.Post("/skip", h.Skip)
		r.Post("/end", h.End)
		r.Post("/save", h.Save)
		r.Post("/messages", h.SendMessage)
		r.Get("/messages", h.History)
	})

	return r
}

// POST /v1/match/join
func (h *MatchHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.match.Join(userID))
}

// POST /v1/match/leave
func (h *MatchHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	h.match.Leave(userID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// GET /v1/match/status
// Polling status also keeps a waiting entry fresh.
func (h *MatchHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.match.Status(userID))
}

// POST /v1/match/sessions/{sessionId}/skip
func (h *MatchHandler) Skip(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	status, err := h.match.Skip(userID, chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// POST /v1/match/sessions/{sessionId}/end
func (h *MatchHandler) End(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.match.End(userID, chi.URLParam(r, "sessionId")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// POST /v1/match/sessions/{sessionId}/save
func (h *MatchHandler) Save(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	session, err := h.match.Save(r.Context(), userID, chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"session": session,
	})
}

// GET /v1/match/saved
func (h *MatchHandler) Saved(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	page := ParsePage(r)
	sessions, err := h.match.SavedSessions(r.Context(), userID, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"skip":     page.Skip,
		"limit":    page.Limit,
	})
}

// POST /v1/match/sessions/{sessionId}/messages
func (h *MatchHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Text     string `json:"text"`
		MediaRef string `json:"mediaRef"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	msg, err := h.match.SendMessage(r.Context(), userID, chi.URLParam(r, "sessionId"), req.Text, req.MediaRef)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": msg,
	})
}

// GET /v1/match/sessions/{sessionId}/messages
func (h *MatchHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	page := ParsePage(r)
	msgs, err := h.match.History(r.Context(), userID, chi.URLParam(r, "sessionId"), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"skip":     page.Skip,
		"limit":    page.Limit,
	})
}
