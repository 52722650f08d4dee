package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// DatasetStorage implements interfaces.DatasetStorage for Badger. Datasets
// are write-once: Save refuses to overwrite an existing ID.
type DatasetStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// Serializes the one-analysis-per-raw check-then-insert
	mu sync.Mutex
}

// NewDatasetStorage creates a new DatasetStorage instance
func NewDatasetStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DatasetStorage {
	return &DatasetStorage{
		db:     db,
		logger: logger,
	}
}

func (s *DatasetStorage) SaveRawDataset(ctx context.Context, dataset *models.RawDataset) error {
	if dataset.ID == "" {
		return fmt.Errorf("raw dataset ID is required")
	}
	if err := s.db.Store().Insert(dataset.ID, dataset); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("raw dataset %s already exists (datasets are write-once)", dataset.ID)
		}
		return fmt.Errorf("failed to save raw dataset: %w", err)
	}
	s.logger.Debug().
		Str("dataset_id", dataset.ID).
		Str("session_id", dataset.SessionID).
		Int("item_count", dataset.ItemCount).
		Msg("Raw dataset persisted")
	return nil
}

func (s *DatasetStorage) GetRawDataset(ctx context.Context, id string) (*models.RawDataset, error) {
	var dataset models.RawDataset
	if err := s.db.Store().Get(id, &dataset); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("raw dataset %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get raw dataset: %w", err)
	}
	return &dataset, nil
}

func (s *DatasetStorage) ListRawDatasets(ctx context.Context, sessionID string) ([]*models.RawDataset, error) {
	var datasets []models.RawDataset
	query := badgerhold.Where("SessionID").Eq(sessionID).SortBy("CollectedAt").Reverse()
	if err := s.db.Store().Find(&datasets, query); err != nil {
		return nil, fmt.Errorf("failed to list raw datasets: %w", err)
	}

	result := make([]*models.RawDataset, len(datasets))
	for i := range datasets {
		result[i] = &datasets[i]
	}
	return result, nil
}

func (s *DatasetStorage) SaveAnalyzedDataset(ctx context.Context, dataset *models.AnalyzedDataset) error {
	if dataset.ID == "" {
		return fmt.Errorf("analyzed dataset ID is required")
	}
	if dataset.RawDatasetID == "" {
		return fmt.Errorf("analyzed dataset must reference a raw dataset")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// An analyzed dataset always references an existing, already-written raw dataset
	if _, err := s.GetRawDataset(ctx, dataset.RawDatasetID); err != nil {
		return fmt.Errorf("analyzed dataset references missing raw dataset: %w", err)
	}
	// At most one analysis per raw dataset
	if existing, err := s.GetAnalyzedForRaw(ctx, dataset.RawDatasetID); err == nil {
		return fmt.Errorf("raw dataset %s already has analysis %s (datasets are write-once)", dataset.RawDatasetID, existing.ID)
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return err
	}
	if err := s.db.Store().Insert(dataset.ID, dataset); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("analyzed dataset %s already exists (datasets are write-once)", dataset.ID)
		}
		return fmt.Errorf("failed to save analyzed dataset: %w", err)
	}
	s.logger.Debug().
		Str("dataset_id", dataset.ID).
		Str("raw_dataset_id", dataset.RawDatasetID).
		Int("item_count", dataset.ItemCount).
		Msg("Analyzed dataset persisted")
	return nil
}

func (s *DatasetStorage) GetAnalyzedDataset(ctx context.Context, id string) (*models.AnalyzedDataset, error) {
	var dataset models.AnalyzedDataset
	if err := s.db.Store().Get(id, &dataset); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("analyzed dataset %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get analyzed dataset: %w", err)
	}
	return &dataset, nil
}

func (s *DatasetStorage) GetAnalyzedForRaw(ctx context.Context, rawDatasetID string) (*models.AnalyzedDataset, error) {
	var datasets []models.AnalyzedDataset
	if err := s.db.Store().Find(&datasets, badgerhold.Where("RawDatasetID").Eq(rawDatasetID)); err != nil {
		return nil, fmt.Errorf("failed to query analyzed datasets: %w", err)
	}
	if len(datasets) == 0 {
		return nil, fmt.Errorf("no analysis for raw dataset %s: %w", rawDatasetID, interfaces.ErrNotFound)
	}
	return &datasets[0], nil
}
