package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vibely/realtime-server-go/internal/model"
	"github.com/vibely/realtime-server-go/internal/service"
)

// SignalsHandler is the polling signaling binding.
type SignalsHandler struct {
	calls *service.CallService
	queue *service.SignalQueue
}

func NewSignalsHandler(calls *service.CallService, queue *service.SignalQueue) *SignalsHandler {
	return &SignalsHandler{calls: calls, queue: queue}
}

func (h *SignalsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Send)
	r.Get("/", h.Poll)

	return r
}

// POST /v1/signals
// An unreachable callee is answered with 200 and status "unavailable".
func (h *SignalsHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var sig model.Signal
	if err := decodeJSON(r, &sig); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.calls.Dispatch(service.WithBinding(r.Context(), service.BindingPoll), userID, sig)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": res.Status == service.SignalStatusSent,
		"status":  res.Status,
		"callId":  res.CallID,
		"call":    res.Call,
	})
}

// GET /v1/signals
// Returns and clears the caller's pending signals.
func (h *SignalsHandler) Poll(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"signals": h.queue.Drain(userID),
	})
}
