package endpoints

import (
	"context"
	"net/http"
	"strings"
	"time"

	"support-dispatch-backend/internal/api"
	"support-dispatch-backend/internal/service/dispatch"
	"support-dispatch-backend/internal/websocket"
)

type StreamEndpoints interface {
	Events(http.ResponseWriter, *http.Request) error
	Rooms(http.ResponseWriter, *http.Request) error
}

type streamEndpoints struct {
	dispatcher *dispatch.Dispatcher
	handler    *websocket.Handler
}

func NewStreamEndpoints(d *dispatch.Dispatcher, handler *websocket.Handler) StreamEndpoints {
	return &streamEndpoints{dispatcher: d, handler: handler}
}

// Events upgrades to a websocket that receives dispatcher events, either
// all of them or those of one session when sessionId is given.
func (h *streamEndpoints) Events(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
			if h.handler == nil {
				return api.NewHTTPError(http.StatusServiceUnavailable, "Event stream not available", "event stream handler missing")
			}

			room := websocket.AllEventsRoom
			if sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId")); sessionID != "" {
				if _, err := h.dispatcher.GetSession(r.Context(), sessionID); err != nil {
					return serviceError(err)
				}
				room = sessionID
			}

			h.handler.JoinRoom(w, r, room)
			return nil
		},
	})
}

func (h *streamEndpoints) Rooms(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
			if h.handler == nil {
				return api.NewHTTPError(http.StatusServiceUnavailable, "Event stream not available", "event stream handler missing")
			}
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			rooms, err := h.handler.Hub().RoomsSnapshot(ctx)
			if err != nil {
				return api.NewHTTPError(http.StatusServiceUnavailable, "Event stream not available", "rooms snapshot: %v", err)
			}
			return WriteJSON(w, http.StatusOK, rooms)
		},
	})
}
