package router

import (
	"net/http"
	"strings"

	"support-chat-backend/internal/api"
	"support-chat-backend/internal/api/endpoints"
	"support-chat-backend/internal/api/middleware"
)

// ClientRoutes registers the operator API; every route needs an operator JWT.
func ClientRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		base := strings.TrimRight(prefix, "/")
		auth := middleware.OperatorAuth(s.Verifier())

		visitorEndpoints := endpoints.NewVisitorEndpoints(s.Visitors())
		sessionEndpoints := endpoints.NewSessionEndpoints(s.Conversations(), s.Visitors(), s.Hub(), endpoints.SessionPaths{
			ClientSessionPrefix: base + "/sessions/",
		})

		mux.HandleFunc(base+"/sessions", s.MakeHTTPHandleFunc(sessionEndpoints.Queue, auth))
		mux.HandleFunc(base+"/sessions/", s.MakeHTTPHandleFunc(sessionEndpoints.SessionResource, auth))
		mux.HandleFunc(base+"/visitors/active", s.MakeHTTPHandleFunc(visitorEndpoints.Active, auth))
	}
}
