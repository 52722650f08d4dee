package models

import (
	"time"
)

// SessionStatus represents the state of a research session
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusRunning    SessionStatus = "running"
	SessionStatusCancelling SessionStatus = "cancelling"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
	SessionStatusCancelled  SessionStatus = "cancelled"
)

// Stage identifies one of the two pipeline phases
type Stage string

const (
	StageCollect Stage = "collect"
	StageAnalyze Stage = "analyze"
)

// IsValid returns true for a known stage
func (s Stage) IsValid() bool {
	return s == StageCollect || s == StageAnalyze
}

// allowedTransitions is the session status transition graph. Terminal
// statuses have no outgoing edges, so a terminal status can never regress.
var allowedTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusPending:    {SessionStatusRunning, SessionStatusFailed, SessionStatusCancelled},
	SessionStatusRunning:    {SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelling},
	SessionStatusCancelling: {SessionStatusCancelled, SessionStatusFailed},
}

// CanTransition reports whether from -> to is an allowed edge
func CanTransition(from, to SessionStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for completed, failed, and cancelled
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed || s == SessionStatusCancelled
}

// ResearchSession is one end-to-end research request (collect + analyze)
// against one source configuration. Mutated only through the session storage;
// no component holds session state privately.
type ResearchSession struct {
	ID       string `json:"id" badgerhold:"key"`
	ConfigID string `json:"config_id,omitempty"` // Empty for ad-hoc runs
	Owner    string `json:"owner"`
	// ConfigSnapshot is the JSON-serialized configuration captured at trigger
	// time. Later configuration edits never change a historical session.
	ConfigSnapshot string        `json:"config_snapshot"`
	SourceType     SourceType    `json:"source_type"`
	Status         SessionStatus `json:"status"`

	// Aggregate counters, flushed at a bounded cadence during a run
	ItemsFound    int `json:"items_found"`
	ItemsAnalyzed int `json:"items_analyzed"`

	// Latest dataset pointers. Earlier datasets for the session remain
	// queryable; these pointers define "current".
	RawDatasetID      string `json:"raw_dataset_id,omitempty"`
	AnalyzedDatasetID string `json:"analyzed_dataset_id,omitempty"`

	// Error contains the captured stage error text verbatim, only populated
	// when status is failed. Displayed to polling clients unmodified.
	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewResearchSession creates a pending session with the configuration
// snapshot frozen in.
func NewResearchSession(id string, config *ResearchConfiguration, snapshot string) *ResearchSession {
	return &ResearchSession{
		ID:             id,
		ConfigID:       config.ID,
		Owner:          config.Owner,
		ConfigSnapshot: snapshot,
		SourceType:     config.SourceType,
		Status:         SessionStatusPending,
		CreatedAt:      time.Now().UTC(),
	}
}

// Config rehydrates the frozen configuration the session was triggered with
func (s *ResearchSession) Config() (*ResearchConfiguration, error) {
	return ConfigFromSnapshot(s.ConfigSnapshot)
}

// IsTerminal returns true if the session reached a terminal status
func (s *ResearchSession) IsTerminal() bool {
	return s.Status.IsTerminal()
}
