package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/vibely/realtime-server-go/internal/audit"
	apperrors "github.com/vibely/realtime-server-go/internal/errors"
	"github.com/vibely/realtime-server-go/internal/events"
	"github.com/vibely/realtime-server-go/internal/service"
)

type EventsHandler struct {
	channels *service.ChannelService
}

func NewEventsHandler(channels *service.ChannelService) *EventsHandler {
	return &EventsHandler{channels: channels}
}

// GET /v1/events/{userId}
// Opens the user's event channel. Only the token owner may open it.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if pathUser := chi.URLParam(r, "userId"); pathUser != userID {
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventForbiddenChannel,
			UserID:  userID,
			Details: map[string]any{"requested": pathUser},
		})
		writeError(w, r, apperrors.Forbidden("Cannot open another user's event channel"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	client := h.channels.Open(ctx, userID)
	defer h.channels.Close(client)

	log.Info().Str("userId", userID).Msg("sse connection established")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("userId", userID).Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().Str("userId", userID).Msg("sse connection closed by server")
			return

		case ev := <-client.Events:
			if err := writeEvent(w, flusher, ev); err != nil {
				log.Debug().Err(err).Str("userId", userID).Msg("sse write failed, closing connection")
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev events.Event) error {
	data, err := events.Marshal(ev, time.Now())
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type(), data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
