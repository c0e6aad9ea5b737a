package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"support-chat-backend/internal/jwt"
	"support-chat-backend/internal/limiter"
	"support-chat-backend/internal/model"
	"support-chat-backend/internal/service/conversation"
	"support-chat-backend/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conversations is the slice of the conversation service the router drives.
type Conversations interface {
	GetSession(ctx context.Context, sessionID string) (*model.SessionItem, error)
	AppendMessage(ctx context.Context, params conversation.AppendParams) (model.MessageItem, error)
	MarkRead(ctx context.Context, sessionID string, reader model.SenderRole) (int, error)
	Assign(ctx context.Context, sessionID, operatorID string) (model.SessionItem, error)
	Close(ctx context.Context, sessionID, operatorID string) (model.SessionItem, error)
}

type Visitors interface {
	FindByToken(ctx context.Context, sessionToken string) (*model.VisitorItem, error)
}

type Authenticator interface {
	ParseToken(token string) (jwt.Operator, error)
}

type HandlerOptions struct {
	Conversations  Conversations
	Visitors       Visitors
	Auth           Authenticator
	Limiter        limiter.Limiter
	AllowedOrigins []string
	Logger         *slog.Logger
}

type Handler struct {
	hub           *Hub
	conversations Conversations
	visitors      Visitors
	auth          Authenticator
	limiter       limiter.Limiter
	logger        *slog.Logger
	upgrader      websocket.Upgrader
	// lanes serialises append-then-broadcast per session so fan-out order
	// matches seq order.
	lanes *utils.KeyLock
}

func NewHandler(hub *Hub, opts HandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Handler{
		hub:           hub,
		conversations: opts.Conversations,
		visitors:      opts.Visitors,
		auth:          opts.Auth,
		limiter:       opts.Limiter,
		logger:        opts.Logger,
		lanes:         utils.NewKeyLock(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, candidate := range allowed {
			if candidate == "*" || strings.EqualFold(candidate, origin) {
				return true
			}
		}
		return false
	}
}

// ServeSession authenticates the caller against sessionID and joins the
// connection to the session room. role=visitor requires the visitor's
// session token; role=admin requires an operator bearer token.
func (h *Handler) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	session, err := h.conversations.GetSession(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("websocket: load session failed", "sessionId", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	query := r.URL.Query()
	client := &WSClient{RoomID: sessionID}

	switch model.SenderRole(query.Get("role")) {
	case model.SenderVisitor:
		token := strings.TrimSpace(query.Get("sessionToken"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Missing session token")
			return
		}
		visitor, err := h.visitors.FindByToken(r.Context(), token)
		if err != nil {
			h.logger.Error("websocket: visitor lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if visitor == nil || visitor.VisitorID != session.VisitorID {
			writeError(w, http.StatusForbidden, "Session belongs to another visitor")
			return
		}
		client.Role = model.SenderVisitor
		client.UserID = visitor.VisitorID
		client.Info = model.SenderInfo{ID: visitor.VisitorID, Name: session.VisitorName}

	case model.SenderAdmin:
		operator, ok := h.authenticateOperator(w, r)
		if !ok {
			return
		}
		client.Role = model.SenderAdmin
		client.UserID = operator.ID
		client.Info = model.SenderInfo{ID: operator.ID, Name: operator.Name, Avatar: operator.Avatar}

	default:
		writeError(w, http.StatusBadRequest, "Missing or invalid role parameter")
		return
	}

	h.join(w, r, client)
}

// ServeOperators opens an operator lobby connection that only receives
// queue notifications.
func (h *Handler) ServeOperators(w http.ResponseWriter, r *http.Request) {
	operator, ok := h.authenticateOperator(w, r)
	if !ok {
		return
	}
	h.join(w, r, &WSClient{
		Role:   model.SenderAdmin,
		UserID: operator.ID,
		Info:   model.SenderInfo{ID: operator.ID, Name: operator.Name, Avatar: operator.Avatar},
	})
}

func (h *Handler) authenticateOperator(w http.ResponseWriter, r *http.Request) (jwt.Operator, bool) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Missing token")
		return jwt.Operator{}, false
	}
	operator, err := h.auth.ParseToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return jwt.Operator{}, false
	}
	return operator, true
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request, client *WSClient) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.logger.Warn("websocket: upgrade failed", "error", err)
		return
	}

	client.Conn = conn
	client.ID = uuid.NewString()
	client.Message = make(chan *WSMessage, sendBuffer)
	client.done = make(chan struct{})
	client.logger = h.logger

	if !h.hub.register(client) {
		conn.Close()
		return
	}
	h.logger.Info("websocket: client connected", "connectionId", client.ID, "room", client.RoomID, "role", client.Role)

	go client.keepAlive()
	go client.writeMessage()
	go client.readMessage(h.hub, h.handle)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
