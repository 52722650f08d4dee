package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Research configurations
	mux.HandleFunc("/api/configs", s.app.ConfigHandler.HandleConfigs)     // GET (list), POST (create)
	mux.HandleFunc("/api/configs/", s.app.ConfigHandler.HandleConfigByID) // GET/PUT/DELETE /{id}

	// API routes - Research sessions
	mux.HandleFunc("/api/research/trigger", s.app.ResearchHandler.TriggerHandler) // POST - start a session
	mux.HandleFunc("/api/research/sessions", s.app.ResearchHandler.ListSessionsHandler)
	mux.HandleFunc("/api/research/sessions/stats", s.app.ResearchHandler.StatsHandler)
	mux.HandleFunc("/api/research/sessions/", s.app.ResearchHandler.HandleSessionRoutes) // GET /{id}, POST /{id}/cancel, GET /{id}/results, GET /{id}/raw
	mux.HandleFunc("/api/research/active", s.app.StatusHandler.ActiveHandler)

	// API routes - System
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)
	mux.HandleFunc("/api/version", s.app.StatusHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.StatusHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.StatusHandler.NotFoundHandler)

	return mux
}
