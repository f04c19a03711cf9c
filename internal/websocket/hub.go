package websocket

import "context"

type Hub struct {
	Rooms      map[string]*Room
	Register   chan *WSClient
	Unregister chan *WSClient
	Broadcast  chan *WSMessage
	snapshot   chan chan []RoomRes
	stopped    chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		Rooms:      make(map[string]*Room),
		Register:   make(chan *WSClient),
		Unregister: make(chan *WSClient),
		Broadcast:  make(chan *WSMessage, 256),
		snapshot:   make(chan chan []RoomRes),
		stopped:    make(chan struct{}),
	}
}

// Run owns Rooms; nothing else may touch the map while it runs.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			close(h.stopped)
			for id, room := range h.Rooms {
				for _, client := range room.Clients {
					close(client.Message)
					decConnections()
				}
				delete(h.Rooms, id)
			}
			setRooms(0)
			return ctx.Err()

		case client := <-h.Register:
			room, ok := h.Rooms[client.RoomID]
			if !ok {
				room = &Room{Id: client.RoomID, Clients: make(map[string]*WSClient)}
				h.Rooms[client.RoomID] = room
				setRooms(len(h.Rooms))
			}
			room.Clients[client.ID] = client
			incConnections()

		case client := <-h.Unregister:
			room, ok := h.Rooms[client.RoomID]
			if !ok {
				continue
			}
			if _, ok := room.Clients[client.ID]; ok {
				delete(room.Clients, client.ID)
				close(client.Message)
				decConnections()
			}
			h.dropIfEmpty(room)

		case message := <-h.Broadcast:
			room, ok := h.Rooms[message.RoomID]
			if !ok {
				continue
			}
			delivered := 0
			for _, client := range room.Clients {
				select {
				case client.Message <- message:
					delivered++
				default:
					close(client.Message)
					delete(room.Clients, client.ID)
					decConnections()
				}
			}
			if delivered > 0 {
				addDelivered(delivered)
			}
			h.dropIfEmpty(room)

		case reply := <-h.snapshot:
			rooms := make([]RoomRes, 0, len(h.Rooms))
			for _, room := range h.Rooms {
				rooms = append(rooms, RoomRes{ID: room.Id, Clients: len(room.Clients)})
			}
			reply <- rooms
		}
	}
}

func (h *Hub) register(cl *WSClient) bool {
	select {
	case h.Register <- cl:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) unregister(cl *WSClient) {
	select {
	case h.Unregister <- cl:
	case <-h.stopped:
	}
}

func (h *Hub) dropIfEmpty(room *Room) {
	if len(room.Clients) == 0 {
		delete(h.Rooms, room.Id)
		setRooms(len(h.Rooms))
	}
}

// RoomsSnapshot asks the running hub for its rooms.
func (h *Hub) RoomsSnapshot(ctx context.Context) ([]RoomRes, error) {
	reply := make(chan []RoomRes, 1)
	select {
	case h.snapshot <- reply:
	case <-h.stopped:
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case rooms := <-reply:
		return rooms, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
