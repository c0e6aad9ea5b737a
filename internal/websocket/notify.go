package websocket

import (
	"support-chat-backend/internal/dto"
	"support-chat-backend/internal/model"
)

// Queue update reasons.
const (
	ReasonCreated  = "created"
	ReasonReopened = "reopened"
	ReasonAssigned = "assigned"
	ReasonClosed   = "closed"
)

type AssignedPayload struct {
	Session  dto.SessionResponse `json:"session"`
	Operator dto.SenderResponse  `json:"operator"`
}

type ClosedPayload struct {
	Session dto.SessionResponse `json:"session"`
}

// SessionAssigned tells the room who took the session and refreshes every
// operator's queue.
func (h *Hub) SessionAssigned(session model.SessionItem, operator model.SenderInfo) {
	h.BroadcastToRoom(session.SessionID, EventOperatorAssigned, AssignedPayload{
		Session:  dto.ToSessionResponse(session),
		Operator: dto.SenderResponse{ID: operator.ID, Name: operator.Name, Avatar: operator.Avatar},
	})
	h.QueueUpdated(session, ReasonAssigned)
}

func (h *Hub) SessionClosed(session model.SessionItem) {
	h.BroadcastToRoom(session.SessionID, EventSessionClosed, ClosedPayload{Session: dto.ToSessionResponse(session)})
	h.QueueUpdated(session, ReasonClosed)
}

func (h *Hub) QueueUpdated(session model.SessionItem, reason string) {
	resp := dto.ToSessionResponse(session)
	h.NotifyOperators(EventQueueUpdated, QueuePayload{
		SessionID: session.SessionID,
		Reason:    reason,
		Session:   &resp,
	})
}
