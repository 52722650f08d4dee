package models

import (
	"os"
	"time"
)

// StageLease is the liveness record for one running (session, stage) pair.
// A lease whose heartbeat has not been renewed within the TTL is treated as
// dead, independent of OS-level process inspection; stale leases are cleared
// on the next status probe.
type StageLease struct {
	Key       string    `json:"key" badgerhold:"key"` // session|stage
	SessionID string    `json:"session_id"`
	Stage     Stage     `json:"stage"`
	OwnerPID  int       `json:"owner_pid"`
	StartedAt time.Time `json:"started_at"`
	Heartbeat time.Time `json:"heartbeat"`
	LogPath   string    `json:"log_path,omitempty"`
}

// LeaseKey builds the storage key for a (session, stage) pair
func LeaseKey(sessionID string, stage Stage) string {
	return sessionID + "|" + string(stage)
}

// NewStageLease creates a lease owned by the current process
func NewStageLease(sessionID string, stage Stage, logPath string) *StageLease {
	now := time.Now().UTC()
	return &StageLease{
		Key:       LeaseKey(sessionID, stage),
		SessionID: sessionID,
		Stage:     stage,
		OwnerPID:  os.Getpid(),
		StartedAt: now,
		Heartbeat: now,
		LogPath:   logPath,
	}
}

// Expired reports whether the lease's heartbeat is older than the TTL
func (l *StageLease) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(l.Heartbeat) > ttl
}
