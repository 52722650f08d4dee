package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/analysis"
	"github.com/ternarybob/indago/internal/collectors"
	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
)

// ErrAlreadyRunning is returned when a stage start loses to a live lease
var ErrAlreadyRunning = errors.New("stage already running for session")

// ErrStageOrder is returned when the analyze stage is requested before the
// collect stage has produced a raw dataset.
var ErrStageOrder = errors.New("analyze stage requires a completed collect stage")

// Supervisor launches and tracks pipeline stages. Liveness is lease-based:
// every running stage holds a heartbeat-renewed lease in storage, and a
// session whose leases have all expired is treated as abandoned regardless of
// what the owning process claims. Session state itself always lives in the
// session storage; the supervisor holds only cancel handles.
type Supervisor struct {
	sessions interfaces.SessionStorage
	datasets interfaces.DatasetStorage
	leases   interfaces.LeaseStorage
	registry *collectors.Registry
	worker   *analysis.Worker
	config   *common.SupervisorConfig
	logger   arbor.ILogger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // lease key -> stage cancel

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewSupervisor creates a stage supervisor
func NewSupervisor(storage interfaces.StorageManager, registry *collectors.Registry, worker *analysis.Worker, config *common.Config, logger arbor.ILogger) *Supervisor {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Supervisor{
		sessions:   storage.SessionStorage(),
		datasets:   storage.DatasetStorage(),
		leases:     storage.LeaseStorage(),
		registry:   registry,
		worker:     worker,
		config:     &config.Supervisor,
		logger:     logger,
		cancels:    make(map[string]context.CancelFunc),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
}

// StartSession begins the pipeline for a pending session: the collect stage
// runs first and the analyze stage is chained on its success. Returns once
// the collect lease is claimed; the stages run in the background.
func (s *Supervisor) StartSession(ctx context.Context, sessionID string) error {
	return s.StartStage(ctx, sessionID, models.StageCollect, true)
}

// StartStage launches a single stage for the session. chain controls whether
// a successful collect stage hands off to the analyze stage. The lease is
// claimed and the session moved to running before this returns, so a second
// caller observes ErrAlreadyRunning rather than a duplicate run.
func (s *Supervisor) StartStage(ctx context.Context, sessionID string, stage models.Stage, chain bool) error {
	if !stage.IsValid() {
		return fmt.Errorf("unknown stage %q", stage)
	}

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.IsTerminal() {
		return fmt.Errorf("session %s is already %s", sessionID, session.Status)
	}

	if stage == models.StageAnalyze {
		if err := s.checkAnalyzeReady(ctx, session); err != nil {
			return err
		}
	}

	log, err := openStageLog(s.config.LogDir, sessionID, stage)
	if err != nil {
		return err
	}

	lease := models.NewStageLease(sessionID, stage, log.Path())
	if err := s.leases.ClaimLease(ctx, lease); err != nil {
		log.Close()
		if errors.Is(err, interfaces.ErrLeaseHeld) {
			return fmt.Errorf("%w: %s stage of %s", ErrAlreadyRunning, stage, sessionID)
		}
		return err
	}

	if session.Status == models.SessionStatusPending {
		if err := s.sessions.TransitionStatus(ctx, sessionID, models.SessionStatusPending, models.SessionStatusRunning, nil); err != nil {
			s.leases.ReleaseLease(ctx, sessionID, stage)
			log.Close()
			return err
		}
	}

	stageCtx, cancel := context.WithCancel(s.baseCtx)
	s.mu.Lock()
	s.cancels[lease.Key] = cancel
	s.mu.Unlock()

	s.logger.Info().
		Str("session_id", sessionID).
		Str("stage", string(stage)).
		Str("log_path", log.Path()).
		Msg("Stage started")
	log.Printf("stage %s started for session %s (pid %d)", stage, sessionID, lease.OwnerPID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer log.Close()
		defer s.releaseStage(sessionID, stage)

		heartbeatDone := s.startHeartbeat(stageCtx, cancel, sessionID, stage)
		defer close(heartbeatDone)

		switch stage {
		case models.StageCollect:
			s.runCollect(stageCtx, sessionID, log, chain)
		case models.StageAnalyze:
			s.runAnalyze(stageCtx, sessionID, log)
		}
	}()

	return nil
}

// checkAnalyzeReady enforces stage ordering: no live collect lease, and a raw
// dataset available for the session.
func (s *Supervisor) checkAnalyzeReady(ctx context.Context, session *models.ResearchSession) error {
	if lease, err := s.leases.GetLease(ctx, session.ID, models.StageCollect); err == nil {
		if !lease.Expired(s.config.LeaseTTL, time.Now().UTC()) {
			return fmt.Errorf("%w: collect stage still running", ErrStageOrder)
		}
	}
	if _, err := s.currentRawDataset(ctx, session); err != nil {
		return fmt.Errorf("%w: %v", ErrStageOrder, err)
	}
	return nil
}

// currentRawDataset resolves the session's raw dataset: the session pointer
// when set, otherwise the newest dataset written for the session.
func (s *Supervisor) currentRawDataset(ctx context.Context, session *models.ResearchSession) (*models.RawDataset, error) {
	if session.RawDatasetID != "" {
		return s.datasets.GetRawDataset(ctx, session.RawDatasetID)
	}
	datasets, err := s.datasets.ListRawDatasets(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if len(datasets) == 0 {
		return nil, fmt.Errorf("no raw dataset for session %s", session.ID)
	}
	return datasets[0], nil
}

// startHeartbeat renews the stage lease on an interval and watches for an
// external cancel request, which is signalled through the session status.
func (s *Supervisor) startHeartbeat(ctx context.Context, cancel context.CancelFunc, sessionID string, stage models.Stage) chan struct{} {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.config.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.leases.RenewLease(ctx, sessionID, stage); err != nil {
					s.logger.Warn().Err(err).
						Str("session_id", sessionID).
						Str("stage", string(stage)).
						Msg("Failed to renew stage lease")
				}
				session, err := s.sessions.GetSession(ctx, sessionID)
				if err == nil && session.Status == models.SessionStatusCancelling {
					s.logger.Info().
						Str("session_id", sessionID).
						Str("stage", string(stage)).
						Msg("Cancel requested, stopping stage")
					cancel()
					return
				}
			}
		}
	}()
	return done
}

func (s *Supervisor) runCollect(ctx context.Context, sessionID string, log *stageLog, chain bool) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		s.failSession(sessionID, err, nil)
		return
	}
	config, err := session.Config()
	if err != nil {
		s.failSession(sessionID, fmt.Errorf("invalid configuration snapshot: %w", err), nil)
		return
	}
	collector, err := s.registry.Get(session.SourceType)
	if err != nil {
		s.failSession(sessionID, err, nil)
		return
	}

	progress := func(itemsFound int) {
		log.Printf("collect progress: %d items", itemsFound)
		if err := s.sessions.UpdateCounters(context.Background(), sessionID, itemsFound, -1); err != nil {
			s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to flush progress counters")
		}
	}

	dataset, collectErr := collector.Collect(ctx, config, sessionID, progress)

	// The dataset is persisted whether or not collection finished cleanly: a
	// partial dataset keeps the items already collected, and a clean run that
	// matched nothing still writes its empty dataset. No matches is a result,
	// not a failure.
	if dataset != nil {
		if err := s.datasets.SaveRawDataset(context.Background(), dataset); err != nil {
			s.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to persist raw dataset")
			if collectErr == nil {
				collectErr = err
			}
		} else {
			log.Printf("raw dataset %s persisted with %d items", dataset.ID, dataset.ItemCount)
			if err := s.sessions.SetDatasetPointers(context.Background(), sessionID, dataset.ID, ""); err != nil {
				s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to update raw dataset pointer")
			}
			s.sessions.UpdateCounters(context.Background(), sessionID, dataset.ItemCount, -1)
		}
	}

	if collectErr != nil {
		log.Printf("collect failed: %v", collectErr)
		s.finishWithError(ctx, sessionID, collectErr)
		return
	}

	log.Printf("collect completed: %d items", dataset.ItemCount)
	s.logger.Info().
		Str("session_id", sessionID).
		Int("items", dataset.ItemCount).
		Msg("Collect stage completed")

	if !chain {
		return
	}

	s.releaseStage(sessionID, models.StageCollect)
	if err := s.StartStage(context.Background(), sessionID, models.StageAnalyze, false); err != nil {
		s.failSession(sessionID, fmt.Errorf("failed to start analyze stage after collect: %w", err), nil)
	}
}

func (s *Supervisor) runAnalyze(ctx context.Context, sessionID string, log *stageLog) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		s.failSession(sessionID, err, nil)
		return
	}
	raw, err := s.currentRawDataset(ctx, session)
	if err != nil {
		s.failSession(sessionID, err, nil)
		return
	}

	// A raw dataset analyzed by an earlier run is reused, not re-billed
	if existing, err := s.datasets.GetAnalyzedForRaw(ctx, raw.ID); err == nil {
		log.Printf("reusing existing analysis %s for raw dataset %s", existing.ID, raw.ID)
		s.completeSession(sessionID, existing)
		return
	}

	progress := func(itemsAnalyzed int) {
		log.Printf("analyze progress: %d items", itemsAnalyzed)
		if err := s.sessions.UpdateCounters(context.Background(), sessionID, -1, itemsAnalyzed); err != nil {
			s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to flush progress counters")
		}
	}

	analyzed, analyzeErr := s.worker.Analyze(ctx, raw.ID, progress)
	if analyzeErr != nil {
		log.Printf("analyze failed: %v", analyzeErr)
		s.finishWithError(ctx, sessionID, analyzeErr)
		return
	}

	if err := s.datasets.SaveAnalyzedDataset(context.Background(), analyzed); err != nil {
		log.Printf("analyze failed: %v", err)
		s.finishWithError(ctx, sessionID, err)
		return
	}
	log.Printf("analyzed dataset %s persisted with %d items", analyzed.ID, analyzed.ItemCount)
	s.completeSession(sessionID, analyzed)
}

// completeSession records the analyzed dataset pointer and the final counter
// state, and moves the session to completed.
func (s *Supervisor) completeSession(sessionID string, analyzed *models.AnalyzedDataset) {
	ctx := context.Background()
	err := s.sessions.TransitionStatus(ctx, sessionID, models.SessionStatusRunning, models.SessionStatusCompleted, func(session *models.ResearchSession) {
		session.AnalyzedDatasetID = analyzed.ID
		session.ItemsAnalyzed = analyzed.ItemCount
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to complete session")
		return
	}
	s.logger.Info().
		Str("session_id", sessionID).
		Str("analyzed_dataset_id", analyzed.ID).
		Msg("Session completed")
}

// finishWithError terminalizes a session after a stage error. A session the
// user is cancelling ends cancelled; everything else ends failed with the
// stage error captured verbatim.
func (s *Supervisor) finishWithError(ctx context.Context, sessionID string, stageErr error) {
	if errors.Is(stageErr, context.Canceled) || ctx.Err() != nil {
		err := s.sessions.TransitionStatus(context.Background(), sessionID, models.SessionStatusCancelling, models.SessionStatusCancelled, nil)
		if err == nil {
			s.logger.Info().Str("session_id", sessionID).Msg("Session cancelled")
			return
		}
		if !errors.Is(err, interfaces.ErrStatusConflict) {
			s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to mark session cancelled")
			return
		}
		// Shutdown rather than user cancel: fall through and record a failure
	}
	s.failSession(sessionID, stageErr, nil)
}

func (s *Supervisor) failSession(sessionID string, stageErr error, mutate func(*models.ResearchSession)) {
	ctx := context.Background()
	apply := func(session *models.ResearchSession) {
		session.Error = stageErr.Error()
		if mutate != nil {
			mutate(session)
		}
	}
	err := s.sessions.TransitionStatus(ctx, sessionID, models.SessionStatusRunning, models.SessionStatusFailed, apply)
	if errors.Is(err, interfaces.ErrStatusConflict) {
		err = s.sessions.TransitionStatus(ctx, sessionID, models.SessionStatusCancelling, models.SessionStatusFailed, apply)
	}
	if err != nil && !errors.Is(err, interfaces.ErrStatusConflict) {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to mark session failed")
		return
	}
	s.logger.Warn().
		Str("session_id", sessionID).
		Str("error", stageErr.Error()).
		Msg("Session failed")
}

// releaseStage drops the lease and forgets the cancel handle
func (s *Supervisor) releaseStage(sessionID string, stage models.Stage) {
	key := models.LeaseKey(sessionID, stage)
	s.mu.Lock()
	delete(s.cancels, key)
	s.mu.Unlock()
	if err := s.leases.ReleaseLease(context.Background(), sessionID, stage); err != nil {
		s.logger.Warn().Err(err).
			Str("session_id", sessionID).
			Str("stage", string(stage)).
			Msg("Failed to release stage lease")
	}
}

// Cancel requests a cooperative stop of a running session. The session moves
// to cancelling immediately; the running stage observes the request and
// finishes as cancelled. If the stage does not wind down within the grace
// period the session is forced to cancelled and its leases cleared.
func (s *Supervisor) Cancel(ctx context.Context, sessionID string) error {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	switch session.Status {
	case models.SessionStatusPending:
		// Never started, nothing to wind down
		return s.sessions.TransitionStatus(ctx, sessionID, models.SessionStatusPending, models.SessionStatusCancelled, nil)
	case models.SessionStatusRunning:
		if err := s.sessions.TransitionStatus(ctx, sessionID, models.SessionStatusRunning, models.SessionStatusCancelling, nil); err != nil {
			return err
		}
	case models.SessionStatusCancelling:
		// Already winding down
	default:
		return fmt.Errorf("session %s is %s and cannot be cancelled", sessionID, session.Status)
	}

	// Stages owned by this process stop immediately; stages owned by another
	// process observe the cancelling status on their next heartbeat.
	s.mu.Lock()
	for _, stage := range []models.Stage{models.StageCollect, models.StageAnalyze} {
		if cancel, ok := s.cancels[models.LeaseKey(sessionID, stage)]; ok {
			cancel()
		}
	}
	s.mu.Unlock()

	s.logger.Info().Str("session_id", sessionID).Msg("Session cancel requested")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.config.CancelGracePeriod)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.baseCtx.Done():
			return
		}
		err := s.sessions.TransitionStatus(context.Background(), sessionID, models.SessionStatusCancelling, models.SessionStatusCancelled, nil)
		if err == nil {
			s.logger.Warn().Str("session_id", sessionID).Msg("Cancel grace period elapsed, session forced to cancelled")
			for _, stage := range []models.Stage{models.StageCollect, models.StageAnalyze} {
				s.leases.ReleaseLease(context.Background(), sessionID, stage)
			}
		}
	}()

	return nil
}

// Probe returns the session with its liveness verified against the lease
// table. A running or cancelling session whose stage lease has expired was
// abandoned by a dead worker; it is healed to failed on the spot, so pollers
// never see a phantom running session. A session with no lease record at all
// is left alone: a clean stage exit deletes its lease, and the session may be
// between stages.
func (s *Supervisor) Probe(ctx context.Context, sessionID string) (*models.ResearchSession, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusRunning && session.Status != models.SessionStatusCancelling {
		return session, nil
	}

	now := time.Now().UTC()
	sawExpired := false
	for _, stage := range []models.Stage{models.StageCollect, models.StageAnalyze} {
		lease, err := s.leases.GetLease(ctx, sessionID, stage)
		if err != nil {
			continue
		}
		if !lease.Expired(s.config.LeaseTTL, now) {
			return session, nil
		}
		sawExpired = true
		s.leases.ReleaseLease(ctx, sessionID, stage)
	}
	if !sawExpired {
		return session, nil
	}

	abandonErr := errors.New("worker terminated unexpectedly")
	from := session.Status
	if err := s.sessions.TransitionStatus(ctx, sessionID, from, models.SessionStatusFailed, func(session *models.ResearchSession) {
		session.Error = abandonErr.Error()
	}); err != nil {
		if errors.Is(err, interfaces.ErrStatusConflict) {
			return s.sessions.GetSession(ctx, sessionID)
		}
		return nil, err
	}

	s.logger.Warn().
		Str("session_id", sessionID).
		Str("previous_status", string(from)).
		Msg("Session had no live stage lease, marked failed")

	return s.sessions.GetSession(ctx, sessionID)
}

// ListActive returns the live stage leases
func (s *Supervisor) ListActive(ctx context.Context) ([]*models.StageLease, error) {
	leases, err := s.leases.ListLeases(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	live := make([]*models.StageLease, 0, len(leases))
	for _, lease := range leases {
		if !lease.Expired(s.config.LeaseTTL, now) {
			live = append(live, lease)
		}
	}
	return live, nil
}

// Shutdown cancels all running stages and waits for them to wind down
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Supervisor shutting down, stopping active stages")
	s.baseCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor shutdown timed out: %w", ctx.Err())
	}
}
