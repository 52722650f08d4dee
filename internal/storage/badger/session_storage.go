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

// SessionStorage implements interfaces.SessionStorage for Badger. It is the
// only writer of session records; status changes go through TransitionStatus
// so two stages or two supervisor retries can never double-apply a
// transition.
type SessionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	// mu serializes read-check-write transitions. Badgerhold has no
	// conditional update, so optimistic concurrency is enforced here.
	mu sync.Mutex
}

// NewSessionStorage creates a new SessionStorage instance
func NewSessionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SessionStorage {
	return &SessionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SessionStorage) CreateSession(ctx context.Context, session *models.ResearchSession) error {
	if session.ID == "" {
		return fmt.Errorf("session ID is required")
	}
	if err := s.db.Store().Insert(session.ID, session); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *SessionStorage) GetSession(ctx context.Context, id string) (*models.ResearchSession, error) {
	var session models.ResearchSession
	if err := s.db.Store().Get(id, &session); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

func (s *SessionStorage) ListSessions(ctx context.Context, opts *interfaces.SessionListOptions) ([]*models.ResearchSession, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.Owner != "" {
			query = query.And("Owner").Eq(opts.Owner)
		}
		if opts.Status != "" {
			query = query.And("Status").Eq(opts.Status)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	}
	query = query.SortBy("CreatedAt").Reverse()

	var sessions []models.ResearchSession
	if err := s.db.Store().Find(&sessions, query); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	result := make([]*models.ResearchSession, len(sessions))
	for i := range sessions {
		result[i] = &sessions[i]
	}
	return result, nil
}

func (s *SessionStorage) CountSessionsByStatus(ctx context.Context, status models.SessionStatus) (int, error) {
	count, err := s.db.Store().Count(&models.ResearchSession{}, badgerhold.Where("Status").Eq(status))
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return int(count), nil
}

func (s *SessionStorage) TransitionStatus(ctx context.Context, id string, from, to models.SessionStatus, mutate func(*models.ResearchSession)) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("illegal session transition %s -> %s", from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if session.Status != from {
		return fmt.Errorf("session %s is %s, expected %s: %w", id, session.Status, from, interfaces.ErrStatusConflict)
	}

	session.Status = to
	now := time.Now().UTC()
	switch to {
	case models.SessionStatusRunning:
		if session.StartedAt == nil {
			session.StartedAt = &now
		}
	case models.SessionStatusCompleted, models.SessionStatusFailed, models.SessionStatusCancelled:
		session.CompletedAt = &now
	}
	if mutate != nil {
		mutate(session)
	}

	if err := s.db.Store().Upsert(session.ID, session); err != nil {
		return fmt.Errorf("failed to transition session: %w", err)
	}

	s.logger.Debug().
		Str("session_id", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Session status transitioned")

	return nil
}

func (s *SessionStorage) UpdateCounters(ctx context.Context, id string, itemsFound, itemsAnalyzed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if itemsFound >= 0 {
		session.ItemsFound = itemsFound
	}
	if itemsAnalyzed >= 0 {
		session.ItemsAnalyzed = itemsAnalyzed
	}
	if err := s.db.Store().Upsert(session.ID, session); err != nil {
		return fmt.Errorf("failed to update session counters: %w", err)
	}
	return nil
}

func (s *SessionStorage) SetDatasetPointers(ctx context.Context, id string, rawDatasetID, analyzedDatasetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if rawDatasetID != "" {
		session.RawDatasetID = rawDatasetID
	}
	if analyzedDatasetID != "" {
		session.AnalyzedDatasetID = analyzedDatasetID
	}
	if err := s.db.Store().Upsert(session.ID, session); err != nil {
		return fmt.Errorf("failed to update session dataset pointers: %w", err)
	}
	return nil
}

func (s *SessionStorage) HasActiveSessionForConfig(ctx context.Context, configID string) (bool, error) {
	for _, status := range []models.SessionStatus{models.SessionStatusPending, models.SessionStatusRunning, models.SessionStatusCancelling} {
		count, err := s.db.Store().Count(&models.ResearchSession{},
			badgerhold.Where("ConfigID").Eq(configID).And("Status").Eq(status))
		if err != nil {
			return false, fmt.Errorf("failed to count active sessions: %w", err)
		}
		if count > 0 {
			return true, nil
		}
	}
	return false, nil
}
