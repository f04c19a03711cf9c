package router

import (
	"net/http"
	"strings"

	"support-dispatch-backend/internal/api"
	"support-dispatch-backend/internal/api/endpoints"
	"support-dispatch-backend/internal/api/middleware"
)

// SupportAdminRoutes mounts the read-only dispatcher views behind the
// admin token.
func SupportAdminRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		base := strings.TrimRight(prefix, "/")
		supportEndpoints := endpoints.NewSupportEndpoints(s.Dispatcher(), s.Archive(), base)

		mux.HandleFunc(base+"/metrics", s.MakeHTTPHandleFunc(supportEndpoints.Metrics, middleware.ValidateAdminJWT))
		mux.HandleFunc(base+"/queue", s.MakeHTTPHandleFunc(supportEndpoints.Queue, middleware.ValidateAdminJWT))
		mux.HandleFunc(base+"/match", s.MakeHTTPHandleFunc(supportEndpoints.MatchPreview, middleware.ValidateAdminJWT))
		mux.HandleFunc(base+"/agents", s.MakeHTTPHandleFunc(supportEndpoints.Agents, middleware.ValidateAdminJWT))
		mux.HandleFunc(base+"/agents/", s.MakeHTTPHandleFunc(supportEndpoints.Agent, middleware.ValidateAdminJWT))
		mux.HandleFunc(base+"/sessions/", s.MakeHTTPHandleFunc(supportEndpoints.Session, middleware.ValidateAdminJWT))
		mux.HandleFunc(base+"/requesters/", s.MakeHTTPHandleFunc(supportEndpoints.RequesterSessions, middleware.ValidateAdminJWT))
	}
}

// EventStreamRoutes mounts the admin websocket event stream.
func EventStreamRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		base := strings.TrimRight(prefix, "/")
		streamEndpoints := endpoints.NewStreamEndpoints(s.Dispatcher(), s.Handler())

		mux.HandleFunc(base+"/events", s.MakeHTTPHandleFunc(streamEndpoints.Events, middleware.ValidateAdminJWT))
		mux.HandleFunc(base+"/events/rooms", s.MakeHTTPHandleFunc(streamEndpoints.Rooms, middleware.ValidateAdminJWT))
	}
}
