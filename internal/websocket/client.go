package websocket

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"support-chat-backend/internal/model"

	"github.com/gorilla/websocket"
)

const (
	pingInterval   = 30 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024
	sendBuffer     = 32
)

type WSClient struct {
	Conn    *websocket.Conn
	Message chan *WSMessage
	// ID identifies the connection; UserID the visitor or operator behind it.
	ID     string
	UserID string
	Role   model.SenderRole
	Info   model.SenderInfo
	// RoomID is the session the connection is bound to, empty for the
	// operator lobby.
	RoomID string

	logger   *slog.Logger
	done     chan struct{}
	mu       sync.Mutex
	isClosed bool
}

func (cl *WSClient) keepAlive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.done:
			return
		case <-ticker.C:
			cl.mu.Lock()
			if cl.isClosed {
				cl.mu.Unlock()
				return
			}
			err := cl.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			cl.mu.Unlock()

			if err != nil {
				cl.logger.Debug("websocket: ping failed", "connectionId", cl.ID, "error", err)
				return
			}
		}
	}
}

func (cl *WSClient) writeMessage() {
	defer func() {
		cl.mu.Lock()
		cl.isClosed = true
		cl.Conn.Close()
		cl.mu.Unlock()
	}()

	for {
		select {
		case <-cl.done:
			return
		case msg, ok := <-cl.Message:
			if !ok {
				cl.mu.Lock()
				if !cl.isClosed {
					cl.Conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				}
				cl.mu.Unlock()
				return
			}

			cl.mu.Lock()
			if cl.isClosed {
				cl.mu.Unlock()
				return
			}
			cl.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := cl.Conn.WriteJSON(msg)
			cl.mu.Unlock()

			if err != nil {
				cl.logger.Debug("websocket: write failed", "connectionId", cl.ID, "error", err)
				return
			}
		}
	}
}

// readMessage pumps inbound frames into handle until the connection fails,
// then unregisters the client.
func (cl *WSClient) readMessage(hub *Hub, handle func(*WSClient, []byte)) {
	defer func() {
		if r := recover(); r != nil {
			cl.logger.Error("websocket: recovered from panic in reader", "connectionId", cl.ID, "panic", r)
		}
		close(cl.done)
		hub.unregister(cl)
		cl.logger.Info("websocket: client disconnected", "connectionId", cl.ID, "room", cl.RoomID, "role", cl.Role)
	}()

	cl.Conn.SetReadLimit(maxMessageSize)

	for {
		_, message, err := cl.Conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && (closeErr.Code == websocket.CloseNormalClosure ||
				closeErr.Code == websocket.CloseGoingAway ||
				closeErr.Code == websocket.CloseNoStatusReceived) {
				return
			}
			cl.logger.Debug("websocket: read failed", "connectionId", cl.ID, "error", err)
			return
		}
		handle(cl, message)
	}
}
