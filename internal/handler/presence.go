package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vibely/realtime-server-go/internal/presence"
)

type PresenceHandler struct {
	registry *presence.Registry
}

func NewPresenceHandler(registry *presence.Registry) *PresenceHandler {
	return &PresenceHandler{registry: registry}
}

func (h *PresenceHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.Online)
	r.Get("/{userId}", h.User)

	return r
}

// GET /v1/presence
func (h *PresenceHandler) Online(w http.ResponseWriter, r *http.Request) {
	users := h.registry.OnlineUsers()
	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// GET /v1/presence/{userId}
func (h *PresenceHandler) User(w http.ResponseWriter, r *http.Request) {
	entry, online := h.registry.Get(chi.URLParam(r, "userId"))

	var lastActiveAt any
	if online {
		lastActiveAt = entry.LastActiveAt.UnixMilli()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userId":       entry.UserID,
		"online":       online,
		"lastActiveAt": lastActiveAt,
	})
}
