package websocket

import (
	"encoding/json"
	"time"
)

// Inbound event types.
const (
	EventSendMessage    = "send-message"
	EventTypingStart    = "typing-start"
	EventTypingStop     = "typing-stop"
	EventMarkRead       = "mark-read"
	EventAssignOperator = "assign-operator"
	EventCloseSession   = "close-session"
)

// Outbound event types.
const (
	EventConnected         = "connected"
	EventAck               = "ack"
	EventError             = "error"
	EventNewMessage        = "new-message"
	EventNewVisitorMessage = "new-visitor-message"
	EventMessagesRead      = "messages-read"
	EventOperatorAssigned  = "operator-assigned"
	EventSessionClosed     = "session-closed"
	EventVisitorLeft       = "visitor-left"
	EventQueueUpdated      = "queue-updated"
)

// Envelope is the frame clients send.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// WSMessage is the frame the server sends.
type WSMessage struct {
	Type      string      `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func newMessage(eventType, sessionID string, data interface{}) *WSMessage {
	return &WSMessage{
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

type Room struct {
	ID      string
	Clients map[*WSClient]struct{}
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type TypingPayload struct {
	Role string `json:"role"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// LeftPayload announces that the last visitor connection of a room closed.
type LeftPayload struct {
	VisitorID string `json:"visitorId"`
	SessionID string `json:"sessionId"`
}

type ReadPayload struct {
	ReaderRole string `json:"readerRole"`
	Count      int    `json:"count"`
}

type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
	Role         string `json:"role"`
	ID           string `json:"id"`
}

// QueuePayload tells operators which session moved in the queue and why.
type QueuePayload struct {
	SessionID string      `json:"sessionId"`
	Reason    string      `json:"reason"`
	Session   interface{} `json:"session,omitempty"`
}
