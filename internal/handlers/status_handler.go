package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/services/research"
	"github.com/ternarybob/indago/internal/supervisor"
)

// StatusHandler serves health, version, and supervisor status endpoints
type StatusHandler struct {
	research   *research.Service
	supervisor *supervisor.Supervisor
	logger     arbor.ILogger
	startedAt  time.Time
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(researchService *research.Service, sup *supervisor.Supervisor, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		research:   researchService,
		supervisor: sup,
		logger:     logger,
		startedAt:  time.Now().UTC(),
	}
}

// HealthHandler reports process liveness.
// GET /api/health
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// VersionHandler reports the build version.
// GET /api/version
func (h *StatusHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
	})
}

// GetStatusHandler reports session stats, active stage leases, and uptime.
// GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := h.research.Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute session stats")
		WriteError(w, http.StatusInternalServerError, "Failed to compute status")
		return
	}

	leases, err := h.supervisor.ListActive(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list active leases")
		WriteError(w, http.StatusInternalServerError, "Failed to compute status")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version":       common.GetVersion(),
		"uptime":        time.Since(h.startedAt).Round(time.Second).String(),
		"sessions":      stats,
		"active_stages": leases,
	})
}

// ActiveHandler reports the live stage leases.
// GET /api/research/active
func (h *StatusHandler) ActiveHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	leases, err := h.supervisor.ListActive(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list active leases")
		WriteError(w, http.StatusInternalServerError, "Failed to list active stages")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"active": leases,
		"count":  len(leases),
	})
}

// NotFoundHandler handles unmatched API routes.
func (h *StatusHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, "Not found")
}
