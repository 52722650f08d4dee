package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// LeaseStorage implements interfaces.LeaseStorage for Badger. Claims are
// serialized through a mutex so two concurrent starts for the same
// (session, stage) resolve to exactly one winner.
type LeaseStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	ttl    time.Duration
	mu     sync.Mutex
}

// NewLeaseStorage creates a new LeaseStorage instance
func NewLeaseStorage(db *BadgerDB, logger arbor.ILogger, ttl time.Duration) interfaces.LeaseStorage {
	return &LeaseStorage{
		db:     db,
		logger: logger,
		ttl:    ttl,
	}
}

func (s *LeaseStorage) ClaimLease(ctx context.Context, lease *models.StageLease) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing models.StageLease
	err := s.db.Store().Get(lease.Key, &existing)
	switch {
	case err == nil:
		if !existing.Expired(s.ttl, time.Now().UTC()) {
			return fmt.Errorf("stage %s for session %s: %w", lease.Stage, lease.SessionID, interfaces.ErrLeaseHeld)
		}
		// Expired lease: the previous owner died without releasing. Replace it.
		s.logger.Warn().
			Str("session_id", lease.SessionID).
			Str("stage", string(lease.Stage)).
			Int("dead_pid", existing.OwnerPID).
			Msg("Replacing expired stage lease")
	case errors.Is(err, badgerhold.ErrNotFound):
		// No lease: free to claim
	default:
		return fmt.Errorf("failed to read lease: %w", err)
	}

	if err := s.db.Store().Upsert(lease.Key, lease); err != nil {
		return fmt.Errorf("failed to claim lease: %w", err)
	}
	return nil
}

func (s *LeaseStorage) GetLease(ctx context.Context, sessionID string, stage models.Stage) (*models.StageLease, error) {
	var lease models.StageLease
	if err := s.db.Store().Get(models.LeaseKey(sessionID, stage), &lease); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("lease for %s/%s: %w", sessionID, stage, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get lease: %w", err)
	}
	return &lease, nil
}

func (s *LeaseStorage) RenewLease(ctx context.Context, sessionID string, stage models.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lease, err := s.GetLease(ctx, sessionID, stage)
	if err != nil {
		return err
	}
	lease.Heartbeat = time.Now().UTC()
	if err := s.db.Store().Upsert(lease.Key, lease); err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	return nil
}

func (s *LeaseStorage) ReleaseLease(ctx context.Context, sessionID string, stage models.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Store().Delete(models.LeaseKey(sessionID, stage), &models.StageLease{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

func (s *LeaseStorage) ListLeases(ctx context.Context) ([]*models.StageLease, error) {
	var leases []models.StageLease
	if err := s.db.Store().Find(&leases, badgerhold.Where("Key").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to list leases: %w", err)
	}

	result := make([]*models.StageLease, len(leases))
	for i := range leases {
		result[i] = &leases[i]
	}
	return result, nil
}
