package websocket

import (
	"context"
	"log/slog"

	"support-chat-backend/internal/model"
)

type scope int

const (
	// scopeRoom reaches every connection in the room.
	scopeRoom scope = iota
	// scopeCounterpart reaches room connections whose role differs from the sender's.
	scopeCounterpart
	// scopeClient reaches the sender only.
	scopeClient
	// scopeOperators reaches every operator connection, lobby included.
	scopeOperators
	// scopeOperatorsOutsideRoom reaches operator connections not joined to the room.
	scopeOperatorsOutsideRoom
)

type delivery struct {
	scope   scope
	roomID  string
	from    *WSClient
	message *WSMessage
}

// Hub owns the room and operator registries. All of its state is touched
// only from the Run goroutine; nothing in here waits on the store.
type Hub struct {
	Rooms      map[string]*Room
	Register   chan *WSClient
	Unregister chan *WSClient
	broadcast  chan *delivery

	clients   map[*WSClient]struct{}
	operators map[*WSClient]struct{}
	logger    *slog.Logger
	done      chan struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		Rooms:      make(map[string]*Room),
		Register:   make(chan *WSClient),
		Unregister: make(chan *WSClient),
		broadcast:  make(chan *delivery),
		clients:    make(map[*WSClient]struct{}),
		operators:  make(map[*WSClient]struct{}),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.Register:
			h.add(client)

		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}

		case d := <-h.broadcast:
			h.dispatch(d)
		}
	}
}

// BroadcastToRoom sends an event to every connection joined to sessionID.
func (h *Hub) BroadcastToRoom(sessionID, eventType string, data interface{}) {
	h.deliver(&delivery{scope: scopeRoom, roomID: sessionID, message: newMessage(eventType, sessionID, data)})
}

// NotifyOperators sends an event to every operator connection.
func (h *Hub) NotifyOperators(eventType string, data interface{}) {
	h.deliver(&delivery{scope: scopeOperators, message: newMessage(eventType, "", data)})
}

func (h *Hub) register(client *WSClient) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(client *WSClient) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) deliver(d *delivery) {
	select {
	case h.broadcast <- d:
	case <-h.done:
	}
}

func (h *Hub) add(client *WSClient) {
	h.clients[client] = struct{}{}
	incConnections()

	if client.Role == model.SenderAdmin {
		h.operators[client] = struct{}{}
	}
	if client.RoomID != "" {
		room, ok := h.Rooms[client.RoomID]
		if !ok {
			room = &Room{ID: client.RoomID, Clients: make(map[*WSClient]struct{})}
			h.Rooms[client.RoomID] = room
			setRooms(len(h.Rooms))
		}
		room.Clients[client] = struct{}{}
	}

	h.send(client, newMessage(EventConnected, client.RoomID, ConnectedPayload{
		ConnectionID: client.ID,
		Role:         string(client.Role),
		ID:           client.UserID,
	}))
}

// drop removes the client everywhere and closes its outbound channel. A
// visitor leaving a room without another visitor tab open is announced.
func (h *Hub) drop(client *WSClient) {
	delete(h.clients, client)
	delete(h.operators, client)
	close(client.Message)
	decConnections()

	room, ok := h.Rooms[client.RoomID]
	if !ok {
		return
	}
	delete(room.Clients, client)
	if len(room.Clients) == 0 {
		delete(h.Rooms, room.ID)
		setRooms(len(h.Rooms))
		return
	}

	if client.Role != model.SenderVisitor {
		return
	}
	for other := range room.Clients {
		if other.Role == model.SenderVisitor {
			return
		}
	}
	left := newMessage(EventVisitorLeft, room.ID, LeftPayload{VisitorID: client.UserID, SessionID: room.ID})
	for other := range room.Clients {
		h.send(other, left)
	}
}

func (h *Hub) dispatch(d *delivery) {
	var targets []*WSClient

	switch d.scope {
	case scopeClient:
		if _, ok := h.clients[d.from]; ok {
			targets = append(targets, d.from)
		}
	case scopeRoom, scopeCounterpart:
		room, ok := h.Rooms[d.roomID]
		if !ok {
			return
		}
		for client := range room.Clients {
			if d.scope == scopeCounterpart && d.from != nil && client.Role == d.from.Role {
				continue
			}
			targets = append(targets, client)
		}
	case scopeOperators, scopeOperatorsOutsideRoom:
		for client := range h.operators {
			if d.scope == scopeOperatorsOutsideRoom && client.RoomID == d.roomID {
				continue
			}
			targets = append(targets, client)
		}
	}

	delivered := 0
	for _, client := range targets {
		if h.send(client, d.message) {
			delivered++
		}
	}
	if delivered > 0 {
		addDelivered(delivered)
	}
}

// send never blocks: a client whose buffer is full is evicted.
func (h *Hub) send(client *WSClient, message *WSMessage) bool {
	if _, ok := h.clients[client]; !ok {
		return false
	}
	select {
	case client.Message <- message:
		return true
	default:
		h.logger.Warn("websocket: evicting slow client", "connectionId", client.ID, "room", client.RoomID)
		incEvicted()
		h.drop(client)
		return false
	}
}
