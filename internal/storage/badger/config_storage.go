package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ConfigStorage implements interfaces.ConfigStorage for Badger
type ConfigStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewConfigStorage creates a new ConfigStorage instance
func NewConfigStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ConfigStorage {
	return &ConfigStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ConfigStorage) SaveConfig(ctx context.Context, config *models.ResearchConfiguration) error {
	if config.ID == "" {
		return fmt.Errorf("configuration ID is required")
	}
	if err := s.db.Store().Upsert(config.ID, config); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	return nil
}

func (s *ConfigStorage) GetConfig(ctx context.Context, id string) (*models.ResearchConfiguration, error) {
	var config models.ResearchConfiguration
	if err := s.db.Store().Get(id, &config); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("configuration %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return &config, nil
}

func (s *ConfigStorage) ListConfigs(ctx context.Context, owner string, sourceFilter models.SourceType) ([]*models.ResearchConfiguration, error) {
	query := badgerhold.Where("Owner").Eq(owner).And("Deleted").Eq(false)
	if sourceFilter != "" {
		query = query.And("SourceType").Eq(sourceFilter)
	}
	query = query.SortBy("UpdatedAt").Reverse()

	var configs []models.ResearchConfiguration
	if err := s.db.Store().Find(&configs, query); err != nil {
		return nil, fmt.Errorf("failed to list configurations: %w", err)
	}

	result := make([]*models.ResearchConfiguration, len(configs))
	for i := range configs {
		result[i] = &configs[i]
	}
	return result, nil
}

func (s *ConfigStorage) SoftDeleteConfig(ctx context.Context, id string) error {
	config, err := s.GetConfig(ctx, id)
	if err != nil {
		return err
	}
	config.Deleted = true
	config.Active = false
	config.UpdatedAt = time.Now().UTC()
	if err := s.db.Store().Upsert(config.ID, config); err != nil {
		return fmt.Errorf("failed to soft-delete configuration: %w", err)
	}
	s.logger.Info().Str("config_id", id).Msg("Configuration soft-deleted")
	return nil
}

func (s *ConfigStorage) ListScheduled(ctx context.Context) ([]*models.ResearchConfiguration, error) {
	query := badgerhold.Where("Active").Eq(true).And("Deleted").Eq(false).And("Schedule").Ne("")

	var configs []models.ResearchConfiguration
	if err := s.db.Store().Find(&configs, query); err != nil {
		return nil, fmt.Errorf("failed to list scheduled configurations: %w", err)
	}

	result := make([]*models.ResearchConfiguration, len(configs))
	for i := range configs {
		result[i] = &configs[i]
	}
	return result, nil
}
