package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/indago/internal/models"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// ErrStatusConflict is returned when an optimistic session transition
// observes a different status than the caller expected. The caller must
// re-read and decide; transitions are never double-applied.
var ErrStatusConflict = errors.New("session status conflict")

// ErrLeaseHeld is returned when a lease claim loses to a live lease
var ErrLeaseHeld = errors.New("lease already held")

// ConfigStorage persists research configurations
type ConfigStorage interface {
	SaveConfig(ctx context.Context, config *models.ResearchConfiguration) error
	GetConfig(ctx context.Context, id string) (*models.ResearchConfiguration, error)
	// ListConfigs returns non-deleted configurations for the owner ordered by
	// most-recently-updated. sourceFilter is optional.
	ListConfigs(ctx context.Context, owner string, sourceFilter models.SourceType) ([]*models.ResearchConfiguration, error)
	// SoftDeleteConfig marks a configuration deleted. Sessions referencing it
	// remain valid via their frozen snapshots.
	SoftDeleteConfig(ctx context.Context, id string) error
	// ListScheduled returns active, non-deleted configurations that carry a
	// recurrence schedule, across all owners.
	ListScheduled(ctx context.Context) ([]*models.ResearchConfiguration, error)
}

// SessionListOptions filters and pages session listings
type SessionListOptions struct {
	Owner  string
	Status models.SessionStatus
	Limit  int
	Offset int
}

// SessionStorage is the single source of truth for session state. It is the
// only writer of session records; every component mutates sessions through
// it.
type SessionStorage interface {
	CreateSession(ctx context.Context, session *models.ResearchSession) error
	GetSession(ctx context.Context, id string) (*models.ResearchSession, error)
	ListSessions(ctx context.Context, opts *SessionListOptions) ([]*models.ResearchSession, error)
	CountSessionsByStatus(ctx context.Context, status models.SessionStatus) (int, error)
	// TransitionStatus applies an optimistic status transition: the stored
	// status must equal from, and from -> to must be an allowed edge.
	// mutate, when non-nil, is applied to the session inside the same write.
	// Returns ErrStatusConflict when the stored status differs from `from`.
	TransitionStatus(ctx context.Context, id string, from, to models.SessionStatus, mutate func(*models.ResearchSession)) error
	// UpdateCounters flushes progress counters without touching status
	UpdateCounters(ctx context.Context, id string, itemsFound, itemsAnalyzed int) error
	// SetDatasetPointers updates the session's latest dataset pointers without
	// touching status. Empty values leave the pointer unchanged.
	SetDatasetPointers(ctx context.Context, id string, rawDatasetID, analyzedDatasetID string) error
	// HasActiveSessionForConfig reports whether a non-terminal session exists
	// for the configuration (used by the scheduler to skip, not queue).
	HasActiveSessionForConfig(ctx context.Context, configID string) (bool, error)
}

// DatasetStorage persists write-once raw and analyzed datasets. Corrections
// require writing a new dataset version; nothing mutates a persisted dataset.
type DatasetStorage interface {
	SaveRawDataset(ctx context.Context, dataset *models.RawDataset) error
	GetRawDataset(ctx context.Context, id string) (*models.RawDataset, error)
	// ListRawDatasets returns a session's raw datasets newest-first. All
	// datasets remain queryable; the session's pointer defines "current".
	ListRawDatasets(ctx context.Context, sessionID string) ([]*models.RawDataset, error)
	SaveAnalyzedDataset(ctx context.Context, dataset *models.AnalyzedDataset) error
	GetAnalyzedDataset(ctx context.Context, id string) (*models.AnalyzedDataset, error)
	// GetAnalyzedForRaw returns the analyzed dataset derived from the raw
	// dataset id, or ErrNotFound.
	GetAnalyzedForRaw(ctx context.Context, rawDatasetID string) (*models.AnalyzedDataset, error)
}

// LeaseStorage persists stage leases with atomic claim semantics
type LeaseStorage interface {
	// ClaimLease atomically claims the (session, stage) lease. A live lease
	// (heartbeat within TTL) wins and ErrLeaseHeld is returned; an expired
	// lease is replaced.
	ClaimLease(ctx context.Context, lease *models.StageLease) error
	GetLease(ctx context.Context, sessionID string, stage models.Stage) (*models.StageLease, error)
	RenewLease(ctx context.Context, sessionID string, stage models.Stage) error
	ReleaseLease(ctx context.Context, sessionID string, stage models.Stage) error
	ListLeases(ctx context.Context) ([]*models.StageLease, error)
}

// StorageManager aggregates the storage interfaces behind one lifecycle
type StorageManager interface {
	ConfigStorage() ConfigStorage
	SessionStorage() SessionStorage
	DatasetStorage() DatasetStorage
	LeaseStorage() LeaseStorage
	Close() error
}
