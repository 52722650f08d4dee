package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
	"github.com/ternarybob/indago/internal/services/research"
	"github.com/ternarybob/indago/internal/supervisor"
)

// ResearchHandler serves session triggering and polling
type ResearchHandler struct {
	research *research.Service
	logger   arbor.ILogger
}

// NewResearchHandler creates a new research handler
func NewResearchHandler(researchService *research.Service, logger arbor.ILogger) *ResearchHandler {
	return &ResearchHandler{
		research: researchService,
		logger:   logger,
	}
}

// triggerRequest accepts either a stored configuration reference or inline
// ad-hoc parameters.
type triggerRequest struct {
	ConfigID string `json:"config_id,omitempty"`

	Owner          string               `json:"owner,omitempty"`
	SourceType     models.SourceType    `json:"source_type,omitempty"`
	QueryTerms     []string             `json:"query_terms,omitempty"`
	SubCommunities []string             `json:"sub_communities,omitempty"`
	MaxItems       int                  `json:"max_items,omitempty"`
	MaxItemsPerSub int                  `json:"max_items_per_sub,omitempty"`
	MinScore       int                  `json:"min_score,omitempty"`
	MinComments    int                  `json:"min_comments,omitempty"`
	Depth          models.AnalysisDepth `json:"depth,omitempty"`
}

// TriggerHandler starts a research session.
// POST /api/research/trigger
func (h *ResearchHandler) TriggerHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req triggerRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	var session *models.ResearchSession
	var err error
	if req.ConfigID != "" {
		session, err = h.research.Trigger(r.Context(), req.ConfigID)
	} else {
		session, err = h.research.TriggerAdHoc(r.Context(), &models.ResearchConfiguration{
			Owner:          req.Owner,
			SourceType:     req.SourceType,
			QueryTerms:     req.QueryTerms,
			SubCommunities: req.SubCommunities,
			MaxItems:       req.MaxItems,
			MaxItemsPerSub: req.MaxItemsPerSub,
			MinScore:       req.MinScore,
			MinComments:    req.MinComments,
			Depth:          req.Depth,
		})
	}
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrNotFound):
			WriteError(w, http.StatusNotFound, "Configuration not found")
		case errors.Is(err, research.ErrSessionActive), errors.Is(err, supervisor.ErrAlreadyRunning):
			WriteError(w, http.StatusConflict, err.Error())
		default:
			WriteError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"session_id": session.ID,
		"status":     string(session.Status),
	})
}

// ListSessionsHandler lists sessions newest-first with optional filters.
// GET /api/research/sessions?owner=&status=&limit=&offset=
func (h *ResearchHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit, offset := GetListParams(r)
	opts := &interfaces.SessionListOptions{
		Owner:  r.URL.Query().Get("owner"),
		Status: models.SessionStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	}

	sessions, err := h.research.ListSessions(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list sessions")
		WriteError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// StatsHandler returns session counts grouped by status.
// GET /api/research/sessions/stats
func (h *ResearchHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	stats, err := h.research.Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute session stats")
		WriteError(w, http.StatusInternalServerError, "Failed to compute session stats")
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// HandleSessionRoutes routes /api/research/sessions/{id} and its subpaths
func (h *ResearchHandler) HandleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/research/sessions/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	if len(parts) == 1 {
		h.getSession(w, r, id)
		return
	}

	switch parts[1] {
	case "cancel":
		h.cancelSession(w, r, id)
	case "results":
		h.getResults(w, r, id)
	case "raw":
		h.getRawData(w, r, id)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

func (h *ResearchHandler) getSession(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	session, err := h.research.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Error().Err(err).Str("session_id", id).Msg("Failed to get session")
		WriteError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}
	WriteJSON(w, http.StatusOK, session)
}

func (h *ResearchHandler) cancelSession(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := h.research.CancelSession(r.Context(), id); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Session not found")
			return
		}
		WriteError(w, http.StatusConflict, err.Error())
		return
	}
	WriteSuccess(w, "Cancellation requested")
}

func (h *ResearchHandler) getResults(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	dataset, err := h.research.GetResults(r.Context(), id)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "No results for session")
			return
		}
		h.logger.Error().Err(err).Str("session_id", id).Msg("Failed to get results")
		WriteError(w, http.StatusInternalServerError, "Failed to get results")
		return
	}
	WriteJSON(w, http.StatusOK, dataset)
}

func (h *ResearchHandler) getRawData(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	dataset, err := h.research.GetRawData(r.Context(), id)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "No raw data for session")
			return
		}
		h.logger.Error().Err(err).Str("session_id", id).Msg("Failed to get raw data")
		WriteError(w, http.StatusInternalServerError, "Failed to get raw data")
		return
	}
	WriteJSON(w, http.StatusOK, dataset)
}
