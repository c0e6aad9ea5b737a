package router

import (
	"net/http"
	"strings"

	"support-chat-backend/internal/api"
	"support-chat-backend/internal/api/endpoints"
)

// WebsocketRoutes registers the session and operator lobby sockets. The
// socket handler authenticates during the handshake.
func WebsocketRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		base := strings.TrimRight(prefix, "/")
		wsEndpoints := endpoints.NewWebsocketEndpoints(s.Sockets(), base+"/sessions/")

		mux.HandleFunc(base+"/sessions/", s.MakeHTTPHandleFunc(wsEndpoints.Session))
		mux.HandleFunc(base+"/operators", s.MakeHTTPHandleFunc(wsEndpoints.Operators))
	}
}
