package endpoints

import (
	"context"
	"net/http"
	"strings"

	"support-chat-backend/internal/api"
	"support-chat-backend/internal/api/middleware"
	"support-chat-backend/internal/dto"
	"support-chat-backend/internal/model"
	"support-chat-backend/internal/service/conversation"
	"support-chat-backend/internal/websocket"
	"support-chat-backend/utils"
)

// SessionService is the part of the conversation service the HTTP surface uses.
type SessionService interface {
	FindOrCreateForVisitor(ctx context.Context, params conversation.FindOrCreateParams) (conversation.SessionResult, error)
	GetSession(ctx context.Context, sessionID string) (*model.SessionItem, error)
	GetSessionByVisitor(ctx context.Context, visitorID string) (*model.SessionItem, error)
	RecentSession(ctx context.Context, visitorID string) (*model.SessionItem, error)
	ListMessages(ctx context.Context, sessionID string, limit int, order conversation.Order) ([]model.MessageItem, error)
	RateSession(ctx context.Context, sessionID, visitorID string, rating int, feedback string) (model.SessionItem, error)
	ListQueue(ctx context.Context) ([]model.SessionItem, error)
	Assign(ctx context.Context, sessionID, operatorID string) (model.SessionItem, error)
	Close(ctx context.Context, sessionID, operatorID string) (model.SessionItem, error)
	UnreadCountForOperator(ctx context.Context, operatorID string) (int, error)
}

// Notifier pushes session changes to connected websocket clients.
type Notifier interface {
	SessionAssigned(session model.SessionItem, operator model.SenderInfo)
	SessionClosed(session model.SessionItem)
	QueueUpdated(session model.SessionItem, reason string)
}

type SessionEndpoints interface {
	PublicSessions(http.ResponseWriter, *http.Request) error
	PublicSessionResource(http.ResponseWriter, *http.Request) error
	Queue(http.ResponseWriter, *http.Request) error
	SessionResource(http.ResponseWriter, *http.Request) error
}

type SessionPaths struct {
	PublicSessionPrefix string
	ClientSessionPrefix string
}

type sessionEndpoints struct {
	sessions SessionService
	visitors VisitorLookup
	notifier Notifier
	paths    SessionPaths
}

func NewSessionEndpoints(sessions SessionService, visitors VisitorLookup, notifier Notifier, paths SessionPaths) SessionEndpoints {
	return &sessionEndpoints{
		sessions: sessions,
		visitors: visitors,
		notifier: notifier,
		paths:    paths,
	}
}

func (h *sessionEndpoints) PublicSessions(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handleCreateSession,
	})
}

// PublicSessionResource serves /sessions/recent, /sessions/visitor/{id},
// /sessions/{id}/messages and /sessions/{id}/satisfaction.
func (h *sessionEndpoints) PublicSessionResource(w http.ResponseWriter, r *http.Request) error {
	segments := pathSegments(r.URL.Path, h.paths.PublicSessionPrefix)

	switch {
	case len(segments) == 1 && segments[0] == "recent":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodGet: h.handleRecentSession,
		})
	case len(segments) == 2 && segments[0] == "visitor":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleSessionByVisitor(w, r, segments[1])
			},
		})
	case len(segments) == 2 && segments[1] == "messages":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleListMessages(w, r, segments[0])
			},
		})
	case len(segments) == 2 && segments[1] == "satisfaction":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleRateSession(w, r, segments[0])
			},
		})
	}
	return notFound("Route not found")
}

func (h *sessionEndpoints) Queue(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: h.handleListQueue,
	})
}

// SessionResource serves the operator routes below /sessions/.
func (h *sessionEndpoints) SessionResource(w http.ResponseWriter, r *http.Request) error {
	segments := pathSegments(r.URL.Path, h.paths.ClientSessionPrefix)

	switch {
	case len(segments) == 1 && segments[0] == "unread":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodGet: h.handleUnreadCount,
		})
	case len(segments) == 2 && segments[1] == "messages":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleListMessages(w, r, segments[0])
			},
		})
	case len(segments) == 2 && segments[1] == "assign":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleAssign(w, r, segments[0])
			},
		})
	case len(segments) == 2 && segments[1] == "close":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleClose(w, r, segments[0])
			},
		})
	}
	return notFound("Route not found")
}

func (h *sessionEndpoints) handleCreateSession(w http.ResponseWriter, r *http.Request) error {
	var req dto.CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	req.VisitorID = strings.TrimSpace(req.VisitorID)
	if req.VisitorID == "" {
		return badRequest("visitorId is required")
	}

	visitor, err := h.visitors.GetVisitor(r.Context(), req.VisitorID)
	if err != nil {
		return serviceError(err)
	}
	if visitor == nil {
		return notFound("Visitor not found")
	}

	result, err := h.sessions.FindOrCreateForVisitor(r.Context(), conversation.FindOrCreateParams{
		VisitorID:    req.VisitorID,
		VisitorName:  req.VisitorName,
		VisitorEmail: req.VisitorEmail,
	})
	if err != nil {
		return serviceError(err)
	}

	status := http.StatusOK
	switch {
	case result.Created:
		status = http.StatusCreated
		h.notifier.QueueUpdated(result.Session, websocket.ReasonCreated)
	case result.Reopened:
		h.notifier.QueueUpdated(result.Session, websocket.ReasonReopened)
	}

	return WriteJSON(w, status, dto.CreateSessionResponse{
		Session:  dto.ToSessionResponse(result.Session),
		Created:  result.Created,
		Reopened: result.Reopened,
	})
}

func (h *sessionEndpoints) handleSessionByVisitor(w http.ResponseWriter, r *http.Request, visitorID string) error {
	session, err := h.sessions.GetSessionByVisitor(r.Context(), visitorID)
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, dto.SessionEnvelope{Session: dto.ToSessionPointer(session)})
}

// handleRecentSession answers whether the caller's IP belongs to a visitor
// with a session updated within the reopen window.
func (h *sessionEndpoints) handleRecentSession(w http.ResponseWriter, r *http.Request) error {
	visitor, err := h.visitors.LatestByIP(r.Context(), utils.RealClientIP(r))
	if err != nil {
		return serviceError(err)
	}
	if visitor == nil {
		return WriteJSON(w, http.StatusOK, dto.RecentSessionResponse{})
	}

	session, err := h.sessions.RecentSession(r.Context(), visitor.VisitorID)
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, dto.RecentSessionResponse{
		HasRecentSession: session != nil,
		Session:          dto.ToSessionPointer(session),
	})
}

func (h *sessionEndpoints) handleListMessages(w http.ResponseWriter, r *http.Request, sessionID string) error {
	limit, _, err := queryInt(r, "limit")
	if err != nil {
		return err
	}
	order, ok := conversation.ParseOrder(r.URL.Query().Get("order"))
	if !ok {
		return badRequest("order must be asc or desc")
	}

	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		return serviceError(err)
	}
	if session == nil {
		return notFound("Session not found")
	}

	messages, err := h.sessions.ListMessages(r.Context(), sessionID, limit, order)
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, dto.ListMessagesResponse{Messages: dto.ToMessageList(messages)})
}

func (h *sessionEndpoints) handleRateSession(w http.ResponseWriter, r *http.Request, sessionID string) error {
	var req dto.RateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}

	visitorID := strings.TrimSpace(req.VisitorID)
	if visitorID == "" {
		visitor, err := h.visitors.FindByToken(r.Context(), r.Header.Get("X-Session-Token"))
		if err != nil {
			return serviceError(err)
		}
		if visitor == nil {
			return &api.HTTPError{StatusCode: http.StatusUnauthorized, Message: "visitorId or session token is required"}
		}
		visitorID = visitor.VisitorID
	}

	session, err := h.sessions.RateSession(r.Context(), sessionID, visitorID, req.Rating, req.Feedback)
	if err != nil {
		return serviceError(err)
	}
	resp := dto.ToSessionResponse(session)
	return WriteJSON(w, http.StatusOK, dto.SessionEnvelope{Session: &resp})
}

func (h *sessionEndpoints) handleListQueue(w http.ResponseWriter, r *http.Request) error {
	sessions, err := h.sessions.ListQueue(r.Context())
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, dto.ListSessionsResponse{Sessions: dto.ToSessionList(sessions)})
}

func (h *sessionEndpoints) handleAssign(w http.ResponseWriter, r *http.Request, sessionID string) error {
	operator, ok := middleware.OperatorFromContext(r.Context())
	if !ok {
		return &api.HTTPError{StatusCode: http.StatusUnauthorized, Message: "Unauthorized"}
	}

	var req dto.AssignSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}

	info := model.SenderInfo{ID: operator.ID, Name: operator.Name, Avatar: operator.Avatar}
	if id := strings.TrimSpace(req.OperatorID); id != "" && id != operator.ID {
		info = model.SenderInfo{ID: id}
	}

	session, err := h.sessions.Assign(r.Context(), sessionID, info.ID)
	if err != nil {
		return serviceError(err)
	}
	h.notifier.SessionAssigned(session, info)

	resp := dto.ToSessionResponse(session)
	return WriteJSON(w, http.StatusOK, dto.SessionEnvelope{Session: &resp})
}

func (h *sessionEndpoints) handleClose(w http.ResponseWriter, r *http.Request, sessionID string) error {
	operator, ok := middleware.OperatorFromContext(r.Context())
	if !ok {
		return &api.HTTPError{StatusCode: http.StatusUnauthorized, Message: "Unauthorized"}
	}

	session, err := h.sessions.Close(r.Context(), sessionID, operator.ID)
	if err != nil {
		return serviceError(err)
	}
	h.notifier.SessionClosed(session)

	resp := dto.ToSessionResponse(session)
	return WriteJSON(w, http.StatusOK, dto.SessionEnvelope{Session: &resp})
}

func (h *sessionEndpoints) handleUnreadCount(w http.ResponseWriter, r *http.Request) error {
	operator, ok := middleware.OperatorFromContext(r.Context())
	if !ok {
		return &api.HTTPError{StatusCode: http.StatusUnauthorized, Message: "Unauthorized"}
	}

	count, err := h.sessions.UnreadCountForOperator(r.Context(), operator.ID)
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, dto.UnreadCountResponse{OperatorID: operator.ID, UnreadCount: count})
}
