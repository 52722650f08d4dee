package research

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
	"github.com/ternarybob/indago/internal/supervisor"
)

// ErrSessionActive is returned when a trigger is refused because the
// configuration already has a non-terminal session.
var ErrSessionActive = errors.New("configuration already has an active session")

// Service owns the configuration lifecycle and session triggering. Stage
// execution is delegated to the supervisor; this layer validates, snapshots,
// and records.
type Service struct {
	configs    interfaces.ConfigStorage
	sessions   interfaces.SessionStorage
	datasets   interfaces.DatasetStorage
	supervisor *supervisor.Supervisor
	defaults   *common.ResearchConfig
	logger     arbor.ILogger
}

// NewService creates the research service
func NewService(storage interfaces.StorageManager, sup *supervisor.Supervisor, config *common.Config, logger arbor.ILogger) *Service {
	return &Service{
		configs:    storage.ConfigStorage(),
		sessions:   storage.SessionStorage(),
		datasets:   storage.DatasetStorage(),
		supervisor: sup,
		defaults:   &config.Research,
		logger:     logger,
	}
}

// applyDefaults fills volume limits a caller omitted
func (s *Service) applyDefaults(config *models.ResearchConfiguration) {
	if config.MaxItems <= 0 {
		config.MaxItems = s.defaults.DefaultMaxItems
	}
	if config.MaxItemsPerSub <= 0 {
		config.MaxItemsPerSub = s.defaults.DefaultMaxPerSub
	}
	if config.Depth == "" {
		config.Depth = models.AnalysisDepthStandard
	}
}

// CreateConfig validates and persists a new research configuration
func (s *Service) CreateConfig(ctx context.Context, config *models.ResearchConfiguration) (*models.ResearchConfiguration, error) {
	s.applyDefaults(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := common.ValidateSchedule(config.Schedule); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	config.ID = common.NewConfigID()
	config.Deleted = false
	config.CreatedAt = now
	config.UpdatedAt = now

	if err := s.configs.SaveConfig(ctx, config); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("config_id", config.ID).
		Str("owner", config.Owner).
		Str("source_type", string(config.SourceType)).
		Msg("Research configuration created")

	return config, nil
}

// UpdateConfig applies a patch to an existing configuration. Sessions already
// triggered keep their frozen snapshot and are unaffected.
func (s *Service) UpdateConfig(ctx context.Context, id string, patch *models.ConfigPatch) (*models.ResearchConfiguration, error) {
	config, err := s.configs.GetConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	if config.Deleted {
		return nil, fmt.Errorf("configuration %s: %w", id, interfaces.ErrNotFound)
	}
	if err := config.Apply(patch); err != nil {
		return nil, err
	}
	if err := common.ValidateSchedule(config.Schedule); err != nil {
		return nil, err
	}
	if err := s.configs.SaveConfig(ctx, config); err != nil {
		return nil, err
	}
	return config, nil
}

// GetConfig returns a configuration; soft-deleted configurations read as missing
func (s *Service) GetConfig(ctx context.Context, id string) (*models.ResearchConfiguration, error) {
	config, err := s.configs.GetConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	if config.Deleted {
		return nil, fmt.Errorf("configuration %s: %w", id, interfaces.ErrNotFound)
	}
	return config, nil
}

// ListConfigs returns an owner's configurations, optionally filtered by source type
func (s *Service) ListConfigs(ctx context.Context, owner string, sourceFilter models.SourceType) ([]*models.ResearchConfiguration, error) {
	return s.configs.ListConfigs(ctx, owner, sourceFilter)
}

// DeleteConfig soft-deletes a configuration
func (s *Service) DeleteConfig(ctx context.Context, id string) error {
	return s.configs.SoftDeleteConfig(ctx, id)
}

// Trigger starts a research session for a stored configuration. The
// configuration is snapshotted into the session, so a concurrent edit cannot
// change a run already in flight.
func (s *Service) Trigger(ctx context.Context, configID string) (*models.ResearchSession, error) {
	config, err := s.GetConfig(ctx, configID)
	if err != nil {
		return nil, err
	}
	if !config.Active {
		return nil, fmt.Errorf("configuration %s is inactive", configID)
	}

	active, err := s.sessions.HasActiveSessionForConfig(ctx, configID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, configID)
	}

	return s.startSession(ctx, config)
}

// TriggerAdHoc starts a one-off session from inline parameters without a
// stored configuration.
func (s *Service) TriggerAdHoc(ctx context.Context, config *models.ResearchConfiguration) (*models.ResearchSession, error) {
	s.applyDefaults(config)
	config.ID = ""
	config.Schedule = ""
	config.Active = true
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return s.startSession(ctx, config)
}

func (s *Service) startSession(ctx context.Context, config *models.ResearchConfiguration) (*models.ResearchSession, error) {
	snapshot, err := config.Snapshot()
	if err != nil {
		return nil, err
	}

	session := models.NewResearchSession(common.NewSessionID(), config, snapshot)
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	if err := s.supervisor.StartSession(ctx, session.ID); err != nil {
		s.sessions.TransitionStatus(ctx, session.ID, models.SessionStatusPending, models.SessionStatusFailed, func(sess *models.ResearchSession) {
			sess.Error = err.Error()
		})
		return nil, fmt.Errorf("failed to start session %s: %w", session.ID, err)
	}

	s.logger.Info().
		Str("session_id", session.ID).
		Str("config_id", session.ConfigID).
		Str("source_type", string(session.SourceType)).
		Msg("Research session triggered")

	return session, nil
}

// GetSession returns the session with its liveness verified
func (s *Service) GetSession(ctx context.Context, id string) (*models.ResearchSession, error) {
	return s.supervisor.Probe(ctx, id)
}

// ListSessions returns sessions matching the options, newest first
func (s *Service) ListSessions(ctx context.Context, opts *interfaces.SessionListOptions) ([]*models.ResearchSession, error) {
	return s.sessions.ListSessions(ctx, opts)
}

// CancelSession requests cancellation of a running session
func (s *Service) CancelSession(ctx context.Context, id string) error {
	return s.supervisor.Cancel(ctx, id)
}

// GetResults returns the analyzed dataset a completed session points at
func (s *Service) GetResults(ctx context.Context, sessionID string) (*models.AnalyzedDataset, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.AnalyzedDatasetID == "" {
		return nil, fmt.Errorf("session %s has no analysis results: %w", sessionID, interfaces.ErrNotFound)
	}
	return s.datasets.GetAnalyzedDataset(ctx, session.AnalyzedDatasetID)
}

// GetRawData returns the raw dataset a session points at
func (s *Service) GetRawData(ctx context.Context, sessionID string) (*models.RawDataset, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.RawDatasetID == "" {
		return nil, fmt.Errorf("session %s has no raw dataset: %w", sessionID, interfaces.ErrNotFound)
	}
	return s.datasets.GetRawDataset(ctx, session.RawDatasetID)
}

// SessionStats summarizes session counts per status
type SessionStats struct {
	Pending    int `json:"pending"`
	Running    int `json:"running"`
	Cancelling int `json:"cancelling"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// Stats returns session counts grouped by status
func (s *Service) Stats(ctx context.Context) (*SessionStats, error) {
	stats := &SessionStats{}
	targets := map[models.SessionStatus]*int{
		models.SessionStatusPending:    &stats.Pending,
		models.SessionStatusRunning:    &stats.Running,
		models.SessionStatusCancelling: &stats.Cancelling,
		models.SessionStatusCompleted:  &stats.Completed,
		models.SessionStatusFailed:     &stats.Failed,
		models.SessionStatusCancelled:  &stats.Cancelled,
	}
	for status, target := range targets {
		count, err := s.sessions.CountSessionsByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		*target = count
	}
	return stats, nil
}
