package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vibely/realtime-server-go/internal/service"
)

type MessagesHandler struct {
	messages *service.MessageService
}

func NewMessagesHandler(messages *service.MessageService) *MessagesHandler {
	return &MessagesHandler{messages: messages}
}

func (h *MessagesHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Send)
	r.Post("/seen", h.Seen)
	r.Get("/{peerId}", h.History)

	return r
}

// POST /v1/messages
func (h *MessagesHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		To       string `json:"to"`
		GroupID  string `json:"groupId"`
		Text     string `json:"text"`
		MediaRef string `json:"mediaRef"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	msg, err := h.messages.Send(r.Context(), service.SendMessageParams{
		From:     userID,
		To:       req.To,
		GroupID:  req.GroupID,
		Text:     req.Text,
		MediaRef: req.MediaRef,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": msg,
	})
}

// POST /v1/messages/seen
func (h *MessagesHandler) Seen(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		MessageIDs []string `json:"messageIds"`
		From       string   `json:"from"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := h.messages.MarkSeen(r.Context(), userID, req.MessageIDs, req.From)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"updated": updated,
	})
}

// GET /v1/messages/{peerId}
func (h *MessagesHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	page := ParsePage(r)
	msgs, err := h.messages.History(r.Context(), userID, chi.URLParam(r, "peerId"), page)
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

// GET /v1/groups/{groupId}/messages
func (h *MessagesHandler) GroupHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	page := ParsePage(r)
	msgs, err := h.messages.GroupHistory(r.Context(), userID, chi.URLParam(r, "groupId"), page)
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

// POST /v1/typing
func (h *MessagesHandler) Typing(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		To      string `json:"to"`
		GroupID string `json:"groupId"`
		Typing  bool   `json:"typing"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	err := h.messages.Typing(r.Context(), service.TypingParams{
		From:    userID,
		To:      req.To,
		GroupID: req.GroupID,
		Typing:  req.Typing,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
