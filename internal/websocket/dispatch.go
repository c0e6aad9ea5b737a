package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"support-chat-backend/internal/dto"
	"support-chat-backend/internal/model"
	"support-chat-backend/internal/service/conversation"
)

const eventTimeout = 10 * time.Second

// eventError is an error reported back to the sender of an event.
type eventError struct {
	code    string
	message string
}

func (e *eventError) Error() string {
	return e.message
}

var (
	errInvalidEvent  = &eventError{code: "validation_error", message: "Invalid event payload"}
	errUnsupported   = &eventError{code: "validation_error", message: "Unsupported event type"}
	errNotInSession  = &eventError{code: "validation_error", message: "Connection is not joined to a session"}
	errWrongSession  = &eventError{code: "forbidden", message: "Connection is bound to another session"}
	errOperatorsOnly = &eventError{code: "forbidden", message: "Only operators can do that"}
	errRateLimited   = &eventError{code: "rate_limited", message: "Too many messages, slow down"}
)

func (h *Handler) handle(cl *WSClient, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		observeEvent("invalid", errInvalidEvent)
		h.replyError(cl, env.RequestID, errInvalidEvent)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	var (
		result interface{}
		err    error
	)
	label := env.Type
	switch env.Type {
	case EventSendMessage:
		result, err = h.sendMessage(ctx, cl, env)
	case EventTypingStart, EventTypingStop:
		err = h.typing(cl, env)
	case EventMarkRead:
		result, err = h.markRead(ctx, cl, env)
	case EventAssignOperator:
		result, err = h.assign(ctx, cl, env)
	case EventCloseSession:
		result, err = h.closeSession(ctx, cl, env)
	default:
		label = "unknown"
		err = errUnsupported
	}
	observeEvent(label, err)

	if err != nil {
		h.replyError(cl, env.RequestID, err)
		return
	}
	ack := newMessage(EventAck, cl.RoomID, result)
	ack.RequestID = env.RequestID
	h.hub.deliver(&delivery{scope: scopeClient, from: cl, message: ack})
}

// roomSession returns the session an in-room event applies to.
func roomSession(cl *WSClient, env Envelope) (string, error) {
	if cl.RoomID == "" {
		return "", errNotInSession
	}
	if env.SessionID != "" && env.SessionID != cl.RoomID {
		return "", errWrongSession
	}
	return cl.RoomID, nil
}

// operatorSession lets lobby connections name the session they act on.
func operatorSession(cl *WSClient, env Envelope) (string, error) {
	if cl.Role != model.SenderAdmin {
		return "", errOperatorsOnly
	}
	if cl.RoomID == "" {
		if env.SessionID == "" {
			return "", errNotInSession
		}
		return env.SessionID, nil
	}
	return roomSession(cl, env)
}

func (h *Handler) sendMessage(ctx context.Context, cl *WSClient, env Envelope) (interface{}, error) {
	sessionID, err := roomSession(cl, env)
	if err != nil {
		return nil, err
	}

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(ctx, string(cl.Role)+":"+cl.UserID)
		if err != nil {
			h.logger.Warn("websocket: rate limiter unavailable", "error", err)
		} else if !allowed {
			return nil, errRateLimited
		}
	}

	var payload dto.SendMessagePayload
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, errInvalidEvent
		}
	}

	unlock := h.lanes.Lock(sessionID)
	defer unlock()

	message, err := h.conversations.AppendMessage(ctx, conversation.AppendParams{
		SessionID:  sessionID,
		Sender:     cl.Role,
		SenderInfo: cl.Info,
		Type:       model.MessageType(payload.MessageType),
		Content: conversation.MessageContent{
			Text:               payload.Text,
			VoiceURL:           payload.VoiceURL,
			VoiceTranscription: payload.VoiceTranscription,
			Duration:           payload.Duration,
			FileURL:            payload.FileURL,
			FileName:           payload.FileName,
			FileSize:           payload.FileSize,
		},
	})
	if err != nil {
		return nil, err
	}

	body := dto.ToMessageResponse(message)
	h.hub.deliver(&delivery{scope: scopeRoom, roomID: sessionID, message: newMessage(EventNewMessage, sessionID, body)})
	if cl.Role == model.SenderVisitor {
		h.hub.deliver(&delivery{
			scope:   scopeOperatorsOutsideRoom,
			roomID:  sessionID,
			message: newMessage(EventNewVisitorMessage, sessionID, body),
		})
	}
	return body, nil
}

func (h *Handler) typing(cl *WSClient, env Envelope) error {
	sessionID, err := roomSession(cl, env)
	if err != nil {
		return err
	}
	h.hub.deliver(&delivery{
		scope:   scopeCounterpart,
		roomID:  sessionID,
		from:    cl,
		message: newMessage(env.Type, sessionID, TypingPayload{
			Role: string(cl.Role),
			ID:   cl.UserID,
			Name: cl.Info.Name,
		}),
	})
	return nil
}

func (h *Handler) markRead(ctx context.Context, cl *WSClient, env Envelope) (interface{}, error) {
	sessionID, err := roomSession(cl, env)
	if err != nil {
		return nil, err
	}
	count, err := h.conversations.MarkRead(ctx, sessionID, cl.Role)
	if err != nil {
		return nil, err
	}
	payload := ReadPayload{ReaderRole: string(cl.Role), Count: count}
	if count > 0 {
		h.hub.BroadcastToRoom(sessionID, EventMessagesRead, payload)
	}
	return payload, nil
}

func (h *Handler) assign(ctx context.Context, cl *WSClient, env Envelope) (interface{}, error) {
	sessionID, err := operatorSession(cl, env)
	if err != nil {
		return nil, err
	}
	session, err := h.conversations.Assign(ctx, sessionID, cl.UserID)
	if err != nil {
		return nil, err
	}
	h.hub.SessionAssigned(session, cl.Info)
	return dto.ToSessionResponse(session), nil
}

func (h *Handler) closeSession(ctx context.Context, cl *WSClient, env Envelope) (interface{}, error) {
	sessionID, err := operatorSession(cl, env)
	if err != nil {
		return nil, err
	}
	session, err := h.conversations.Close(ctx, sessionID, cl.UserID)
	if err != nil {
		return nil, err
	}
	h.hub.SessionClosed(session)
	return dto.ToSessionResponse(session), nil
}

func (h *Handler) replyError(cl *WSClient, requestID string, err error) {
	payload := ErrorPayload{Code: string(conversation.ErrorCodeInternal), Message: "Internal server error"}

	var evErr *eventError
	var svcErr *conversation.Error
	switch {
	case errors.As(err, &evErr):
		payload = ErrorPayload{Code: evErr.code, Message: evErr.message}
	case errors.As(err, &svcErr) && svcErr.Code != conversation.ErrorCodeInternal:
		payload = ErrorPayload{Code: string(svcErr.Code), Message: svcErr.Message}
	default:
		h.logger.Error("websocket: event failed", "connectionId", cl.ID, "room", cl.RoomID, "error", err)
	}

	msg := newMessage(EventError, cl.RoomID, payload)
	msg.RequestID = requestID
	h.hub.deliver(&delivery{scope: scopeClient, from: cl, message: msg})
}
