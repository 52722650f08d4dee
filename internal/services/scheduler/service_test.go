package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/analysis"
	"github.com/ternarybob/indago/internal/collectors"
	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
	"github.com/ternarybob/indago/internal/services/research"
	"github.com/ternarybob/indago/internal/storage/badger"
	"github.com/ternarybob/indago/internal/supervisor"
)

type stubProvider struct{}

func (p *stubProvider) AnalyzeItem(ctx context.Context, req *interfaces.AnalysisRequest) (*models.ItemAnalysis, error) {
	return &models.ItemAnalysis{Relevance: 1, Sentiment: models.SentimentNeutral}, nil
}

func newScheduler(t *testing.T) (*Service, *research.Service, interfaces.StorageManager) {
	t.Helper()

	config := common.NewDefaultConfig()
	config.Storage.Badger.Path = t.TempDir()
	config.Supervisor.LogDir = t.TempDir()

	logger := arbor.NewLogger()
	storage, err := badger.NewManager(logger, &config.Storage.Badger, &config.Supervisor)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	registry := collectors.NewRegistry(config, logger)
	worker := analysis.NewWorker(&stubProvider{}, storage.DatasetStorage(), storage.SessionStorage(), config, logger)
	sup := supervisor.NewSupervisor(storage, registry, worker, config, logger)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sup.Shutdown(shutdownCtx)
	})

	researchService := research.NewService(storage, sup, config, logger)
	return NewService(researchService, storage, logger), researchService, storage
}

func scheduledConfig(schedule string) *models.ResearchConfiguration {
	return &models.ResearchConfiguration{
		Owner:      "alice",
		SourceType: models.SourceTypeForum,
		QueryTerms: []string{"golang"},
		Schedule:   schedule,
		Active:     true,
	}
}

func TestScheduler_ReloadSyncsEntries(t *testing.T) {
	scheduler, researchService, _ := newScheduler(t)
	ctx := context.Background()

	created, err := researchService.CreateConfig(ctx, scheduledConfig("0 6 * * *"))
	require.NoError(t, err)

	// Unscheduled configurations are not registered
	_, err = researchService.CreateConfig(ctx, scheduledConfig(""))
	require.NoError(t, err)

	require.NoError(t, scheduler.Reload(ctx))
	assert.Equal(t, []string{created.ID}, scheduler.Entries())

	// Reload is idempotent
	require.NoError(t, scheduler.Reload(ctx))
	assert.Len(t, scheduler.Entries(), 1)
}

func TestScheduler_ReloadDropsDeletedConfigs(t *testing.T) {
	scheduler, researchService, _ := newScheduler(t)
	ctx := context.Background()

	created, err := researchService.CreateConfig(ctx, scheduledConfig("0 6 * * *"))
	require.NoError(t, err)
	require.NoError(t, scheduler.Reload(ctx))
	require.Len(t, scheduler.Entries(), 1)

	require.NoError(t, researchService.DeleteConfig(ctx, created.ID))
	require.NoError(t, scheduler.Reload(ctx))
	assert.Empty(t, scheduler.Entries())
}

func TestScheduler_ReloadSkipsInvalidSchedule(t *testing.T) {
	scheduler, _, storage := newScheduler(t)
	ctx := context.Background()

	// Written behind the service layer, so validation never saw it
	broken := scheduledConfig("not a cron expression")
	broken.ID = common.NewConfigID()
	broken.MaxItems = 100
	broken.MaxItemsPerSub = 25
	broken.Depth = models.AnalysisDepthStandard
	require.NoError(t, storage.ConfigStorage().SaveConfig(ctx, broken))

	require.NoError(t, scheduler.Reload(ctx))
	assert.Empty(t, scheduler.Entries())
}

func TestScheduler_StartAndStop(t *testing.T) {
	scheduler, _, _ := newScheduler(t)

	require.NoError(t, scheduler.Start(context.Background()))
	scheduler.Stop()
}
