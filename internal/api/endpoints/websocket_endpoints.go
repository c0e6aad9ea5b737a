package endpoints

import (
	"net/http"
)

// SocketServer upgrades authenticated requests to websocket connections.
type SocketServer interface {
	ServeSession(w http.ResponseWriter, r *http.Request, sessionID string)
	ServeOperators(w http.ResponseWriter, r *http.Request)
}

type WebsocketEndpoints interface {
	Session(http.ResponseWriter, *http.Request) error
	Operators(http.ResponseWriter, *http.Request) error
}

type websocketEndpoints struct {
	sockets       SocketServer
	sessionPrefix string
}

func NewWebsocketEndpoints(sockets SocketServer, sessionPrefix string) WebsocketEndpoints {
	return &websocketEndpoints{sockets: sockets, sessionPrefix: sessionPrefix}
}

// Session replies on its own when the handshake is rejected, so it never
// returns an error.
func (h *websocketEndpoints) Session(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
			segments := pathSegments(r.URL.Path, h.sessionPrefix)
			if len(segments) != 1 {
				return notFound("Session not found")
			}
			h.sockets.ServeSession(w, r, segments[0])
			return nil
		},
	})
}

func (h *websocketEndpoints) Operators(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
			h.sockets.ServeOperators(w, r)
			return nil
		},
	})
}
