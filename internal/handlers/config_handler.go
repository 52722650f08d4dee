package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
	"github.com/ternarybob/indago/internal/services/research"
)

// ScheduleReloader is notified after configuration changes so recurring
// schedules stay in sync with storage.
type ScheduleReloader interface {
	Reload(ctx context.Context) error
}

// ConfigHandler serves the research configuration CRUD API
type ConfigHandler struct {
	research *research.Service
	reloader ScheduleReloader
	logger   arbor.ILogger
}

// NewConfigHandler creates a new configuration handler
func NewConfigHandler(researchService *research.Service, reloader ScheduleReloader, logger arbor.ILogger) *ConfigHandler {
	return &ConfigHandler{
		research: researchService,
		reloader: reloader,
		logger:   logger,
	}
}

// HandleConfigs handles GET (list) and POST (create) on /api/configs
func (h *ConfigHandler) HandleConfigs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listConfigs(w, r)
	case http.MethodPost:
		h.createConfig(w, r)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleConfigByID handles GET/PUT/DELETE on /api/configs/{id}
func (h *ConfigHandler) HandleConfigByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/configs/")
	if id == "" || strings.Contains(id, "/") {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getConfig(w, r, id)
	case http.MethodPut:
		h.updateConfig(w, r, id)
	case http.MethodDelete:
		h.deleteConfig(w, r, id)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *ConfigHandler) listConfigs(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		WriteError(w, http.StatusBadRequest, "owner query parameter is required")
		return
	}
	sourceFilter := models.SourceType(r.URL.Query().Get("source_type"))
	if sourceFilter != "" && !sourceFilter.IsValid() {
		WriteError(w, http.StatusBadRequest, "unknown source_type filter")
		return
	}

	configs, err := h.research.ListConfigs(r.Context(), owner, sourceFilter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list configurations")
		WriteError(w, http.StatusInternalServerError, "Failed to list configurations")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"configs": configs,
		"count":   len(configs),
	})
}

func (h *ConfigHandler) createConfig(w http.ResponseWriter, r *http.Request) {
	var config models.ResearchConfiguration
	if err := DecodeJSON(r, &config); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	created, err := h.research.CreateConfig(r.Context(), &config)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.reloadSchedules(r.Context())
	WriteJSON(w, http.StatusCreated, created)
}

func (h *ConfigHandler) getConfig(w http.ResponseWriter, r *http.Request, id string) {
	config, err := h.research.GetConfig(r.Context(), id)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Configuration not found")
			return
		}
		h.logger.Error().Err(err).Str("config_id", id).Msg("Failed to get configuration")
		WriteError(w, http.StatusInternalServerError, "Failed to get configuration")
		return
	}
	WriteJSON(w, http.StatusOK, config)
}

func (h *ConfigHandler) updateConfig(w http.ResponseWriter, r *http.Request, id string) {
	var patch models.ConfigPatch
	if err := DecodeJSON(r, &patch); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	config, err := h.research.UpdateConfig(r.Context(), id, &patch)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Configuration not found")
			return
		}
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.reloadSchedules(r.Context())
	WriteJSON(w, http.StatusOK, config)
}

func (h *ConfigHandler) deleteConfig(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.research.DeleteConfig(r.Context(), id); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Configuration not found")
			return
		}
		h.logger.Error().Err(err).Str("config_id", id).Msg("Failed to delete configuration")
		WriteError(w, http.StatusInternalServerError, "Failed to delete configuration")
		return
	}

	h.reloadSchedules(r.Context())
	WriteSuccess(w, "Configuration deleted")
}

func (h *ConfigHandler) reloadSchedules(ctx context.Context) {
	if h.reloader == nil {
		return
	}
	if err := h.reloader.Reload(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to reload schedules after configuration change")
	}
}
