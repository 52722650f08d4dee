package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db      *BadgerDB
	config  interfaces.ConfigStorage
	session interfaces.SessionStorage
	dataset interfaces.DatasetStorage
	lease   interfaces.LeaseStorage
	logger  arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig, supervisor *common.SupervisorConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:      db,
		config:  NewConfigStorage(db, logger),
		session: NewSessionStorage(db, logger),
		dataset: NewDatasetStorage(db, logger),
		lease:   NewLeaseStorage(db, logger, supervisor.LeaseTTL),
		logger:  logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// ConfigStorage returns the research configuration storage interface
func (m *Manager) ConfigStorage() interfaces.ConfigStorage {
	return m.config
}

// SessionStorage returns the session storage interface
func (m *Manager) SessionStorage() interfaces.SessionStorage {
	return m.session
}

// DatasetStorage returns the dataset storage interface
func (m *Manager) DatasetStorage() interfaces.DatasetStorage {
	return m.dataset
}

// LeaseStorage returns the stage lease storage interface
func (m *Manager) LeaseStorage() interfaces.LeaseStorage {
	return m.lease
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
