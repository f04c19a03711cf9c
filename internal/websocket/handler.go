package websocket

import (
	"log"
	"net/http"

	"support-dispatch-backend/internal/events"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler accepts upgrades from the given origins; an empty list or
// "*" accepts any origin.
func NewHandler(h *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowedOrigins) == 0 {
					return true
				}
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// Emit fans a dispatcher event out to the all-events room and to the
// session's room. It never blocks; a saturated hub drops the event.
func (h *Handler) Emit(name string, payload events.Payload) {
	ts := payload.Timestamp.Unix()
	for _, room := range []string{AllEventsRoom, payload.SessionID} {
		if room == "" {
			continue
		}
		msg := &WSMessage{Event: name, RoomID: room, Payload: payload, Timestamp: ts}
		select {
		case h.hub.Broadcast <- msg:
		default:
			incDropped()
		}
	}
}

func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request, roomID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WEBSOCKET] upgrade failed: %v", err)
		return
	}

	cl := &WSClient{
		Conn:    conn,
		Message: make(chan *WSMessage, 32),
		ID:      uuid.NewString(),
		RoomID:  roomID,
		done:    make(chan struct{}),
	}

	if !h.hub.register(cl) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go cl.keepAlive()
	go cl.writeMessage()
	go cl.readMessage(h.hub)
	log.Printf("[WEBSOCKET] client %s joined room %s", cl.ID, roomID)
}

func (h *Handler) Hub() *Hub {
	return h.hub
}
