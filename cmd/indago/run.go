package main

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/app"
	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/models"
)

// runOneShot drives a single existing session to a terminal status without
// starting the HTTP server. Exit code 0 means the session completed;
// anything else is recorded on the session and reported non-zero.
func runOneShot(config *common.Config, logger arbor.ILogger, sessionID, stageFlag string) int {
	// Default is the full pipeline; an explicit -stage runs just that stage,
	// so collect and analyze can be driven as separate invocations.
	stage := models.StageCollect
	chain := true
	if stageFlag != "" {
		stage = models.Stage(stageFlag)
		if !stage.IsValid() {
			logger.Error().Str("stage", stageFlag).Msg("Unknown stage (valid: collect, analyze)")
			return 2
		}
		chain = false
	}

	// No recurring runs in one-shot mode
	config.Scheduler.Enabled = false

	application, err := app.New(config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize application")
		return 2
	}
	defer application.Close()

	ctx := context.Background()
	if err := application.Supervisor.StartStage(ctx, sessionID, stage, chain); err != nil {
		logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to start stage")
		return 1
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		session, err := application.Supervisor.Probe(ctx, sessionID)
		if err != nil {
			logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to poll session")
			return 1
		}
		if !session.IsTerminal() {
			// A collect-only run leaves the session running for a later
			// analyze invocation; the raw dataset pointer marks it done.
			if !chain && stage == models.StageCollect && session.RawDatasetID != "" {
				logger.Info().
					Str("session_id", sessionID).
					Str("raw_dataset_id", session.RawDatasetID).
					Int("items_found", session.ItemsFound).
					Msg("Collect stage completed")
				return 0
			}
			continue
		}
		switch session.Status {
		case models.SessionStatusCompleted:
			logger.Info().
				Str("session_id", sessionID).
				Int("items_found", session.ItemsFound).
				Int("items_analyzed", session.ItemsAnalyzed).
				Msg("Session completed")
			return 0
		default:
			logger.Error().
				Str("session_id", sessionID).
				Str("status", string(session.Status)).
				Str("error", session.Error).
				Msg("Session did not complete")
			return 1
		}
	}
	return 1
}
