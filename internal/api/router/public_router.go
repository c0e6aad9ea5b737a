package router

import (
	"net/http"
	"strings"

	"support-chat-backend/internal/api"
	"support-chat-backend/internal/api/endpoints"
)

// PublicRoutes registers the unauthenticated visitor-facing API.
func PublicRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		base := strings.TrimRight(prefix, "/")

		visitorEndpoints := endpoints.NewVisitorEndpoints(s.Visitors())
		sessionEndpoints := endpoints.NewSessionEndpoints(s.Conversations(), s.Visitors(), s.Hub(), endpoints.SessionPaths{
			PublicSessionPrefix: base + "/sessions/",
		})

		mux.HandleFunc(base+"/visitors/track", s.MakeHTTPHandleFunc(visitorEndpoints.Track))
		mux.HandleFunc(base+"/visitors/page", s.MakeHTTPHandleFunc(visitorEndpoints.Page))
		mux.HandleFunc(base+"/sessions", s.MakeHTTPHandleFunc(sessionEndpoints.PublicSessions))
		mux.HandleFunc(base+"/sessions/", s.MakeHTTPHandleFunc(sessionEndpoints.PublicSessionResource))
	}
}
