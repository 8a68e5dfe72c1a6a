package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/vibely/realtime-server-go/internal/audit"
	apperrors "github.com/vibely/realtime-server-go/internal/errors"
	"github.com/vibely/realtime-server-go/internal/events"
	"github.com/vibely/realtime-server-go/internal/middleware"
	"github.com/vibely/realtime-server-go/internal/model"
	"github.com/vibely/realtime-server-go/internal/service"
	"github.com/vibely/realtime-server-go/internal/socket"
)

// SignalSocketHandler is the persistent signaling binding.
type SignalSocketHandler struct {
	hub      *socket.Hub
	calls    *service.CallService
	limiter  *middleware.RateLimiter
	perMin   int
	upgrader websocket.Upgrader
}

func NewSignalSocketHandler(hub *socket.Hub, calls *service.CallService, limiter *middleware.RateLimiter, perMin int) *SignalSocketHandler {
	return &SignalSocketHandler{
		hub:     hub,
		calls:   calls,
		limiter: limiter,
		perMin:  perMin,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients authenticate with a bearer token, not cookies.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// GET /ws/signal
func (h *SignalSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Str("userId", userID).Msg("websocket upgrade failed")
		return
	}

	conn, superseded := h.hub.Attach(userID, ws)
	if superseded != nil {
		audit.LogFromRequest(r, audit.Event{Type: audit.EventSocketSuperseded, UserID: userID})
	}

	if err := conn.Send(events.Welcome{UserID: userID}); err != nil {
		conn.Close()
	}

	h.hub.Serve(r.Context(), conn, h.handleFrame)
	h.limiter.Forget(frameLimitKey(userID))
}

func (h *SignalSocketHandler) handleFrame(ctx context.Context, c *socket.Conn, data []byte) {
	if h.perMin > 0 {
		if allowed, _, _ := h.limiter.Check(frameLimitKey(c.UserID), h.perMin); !allowed {
			audit.Log(ctx, audit.Event{Type: audit.EventSocketFlood, UserID: c.UserID})
			if err := c.SendAndClose(events.Error{
				Code:    string(apperrors.ErrCodeRateLimitExceeded),
				Message: "Too many messages",
			}); err != nil {
				log.Debug().Err(err).Str("userId", c.UserID).Msg("flood notice not sent")
			}
			return
		}
	}

	var sig model.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		_ = c.Send(events.Error{
			Code:    string(apperrors.ErrCodeValidation),
			Message: "Invalid frame",
		})
		return
	}

	res, err := h.calls.Dispatch(service.WithBinding(ctx, service.BindingSocket), c.UserID, sig)
	if err != nil {
		appErr, ok := apperrors.AsAppError(err)
		if !ok {
			appErr = apperrors.Internal("An unexpected error occurred")
		}
		_ = c.Send(events.Error{
			Code:    string(appErr.Code),
			Message: appErr.Message,
			CallID:  sig.CallID,
		})
		return
	}

	if res.Status == service.SignalStatusUnavailable {
		_ = c.Send(events.UserUnavailable{UserID: sig.To, CallID: sig.CallID})
	}
}

func frameLimitKey(userID string) string {
	return "socket:" + userID
}
