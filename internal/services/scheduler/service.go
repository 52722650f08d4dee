package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/services/research"
)

// Service runs recurring research configurations on their cron schedules.
// A tick for a configuration that still has an active session is skipped,
// never queued; the next tick fires on schedule.
type Service struct {
	research *research.Service
	configs  interfaces.ConfigStorage
	logger   arbor.ILogger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID // config ID -> cron entry
	started bool
}

// NewService creates the scheduler service
func NewService(researchService *research.Service, storage interfaces.StorageManager, logger arbor.ILogger) *Service {
	return &Service{
		research: researchService,
		configs:  storage.ConfigStorage(),
		logger:   logger,
		cron:     cron.New(),
		entries:  make(map[string]cron.EntryID),
	}
}

// Start registers all scheduled configurations and begins ticking
func (s *Service) Start(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.cron.Start()
		s.started = true
	}
	s.logger.Info().
		Int("scheduled_configs", len(s.entries)).
		Msg("Scheduler started")
	return nil
}

// Reload re-reads the scheduled configurations and syncs the cron entries.
// Called at startup and after configuration changes.
func (s *Service) Reload(ctx context.Context) error {
	configs, err := s.configs.ListScheduled(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(configs))
	for _, config := range configs {
		wanted[config.ID] = true
		if _, exists := s.entries[config.ID]; exists {
			continue
		}
		entryID, err := s.cron.AddFunc(config.Schedule, s.runConfig(config.ID))
		if err != nil {
			s.logger.Warn().Err(err).
				Str("config_id", config.ID).
				Str("schedule", config.Schedule).
				Msg("Skipping configuration with invalid schedule")
			continue
		}
		s.entries[config.ID] = entryID
		s.logger.Debug().
			Str("config_id", config.ID).
			Str("schedule", config.Schedule).
			Msg("Configuration scheduled")
	}

	for configID, entryID := range s.entries {
		if !wanted[configID] {
			s.cron.Remove(entryID)
			delete(s.entries, configID)
			s.logger.Debug().Str("config_id", configID).Msg("Configuration unscheduled")
		}
	}

	return nil
}

// runConfig builds the tick callback for one configuration
func (s *Service) runConfig(configID string) func() {
	return func() {
		ctx := context.Background()
		session, err := s.research.Trigger(ctx, configID)
		if err != nil {
			if errors.Is(err, research.ErrSessionActive) {
				s.logger.Info().
					Str("config_id", configID).
					Msg("Scheduled run skipped, previous session still active")
				return
			}
			if errors.Is(err, interfaces.ErrNotFound) {
				// Deleted since registration; drop the entry
				s.remove(configID)
				return
			}
			s.logger.Warn().Err(err).
				Str("config_id", configID).
				Msg("Scheduled run failed to trigger")
			return
		}
		s.logger.Info().
			Str("config_id", configID).
			Str("session_id", session.ID).
			Msg("Scheduled run triggered")
	}
}

func (s *Service) remove(configID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[configID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, configID)
	}
}

// Entries returns the currently scheduled configuration IDs
func (s *Service) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// Stop halts the cron runner and waits for in-flight callbacks
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		s.started = false
	}
	s.logger.Info().Msg("Scheduler stopped")
}
