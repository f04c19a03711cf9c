package websocket

import "support-dispatch-backend/internal/events"

// AllEventsRoom receives every dispatcher event; every other room is
// keyed by session id.
const AllEventsRoom = "support:events"

type Room struct {
	Id      string               `json:"id"`
	Clients map[string]*WSClient `json:"clients"`
}

type WSMessage struct {
	Event     string         `json:"event"`
	RoomID    string         `json:"roomId"`
	Payload   events.Payload `json:"payload"`
	Timestamp int64          `json:"timestamp"`
}

type RoomRes struct {
	ID      string `json:"id"`
	Clients int    `json:"clients"`
}
