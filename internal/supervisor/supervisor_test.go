package supervisor

import (
	"context"
	"errors"
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
	"github.com/ternarybob/indago/internal/storage/badger"
)

// stubCollector returns canned items, optionally with a platform error or a
// delay long enough for cancellation to land first.
type stubCollector struct {
	source models.SourceType
	items  []models.RawItem
	err    error
	delay  time.Duration
}

func (c *stubCollector) SourceType() models.SourceType { return c.source }

func (c *stubCollector) Collect(ctx context.Context, config *models.ResearchConfiguration, sessionID string, progress interfaces.ProgressFunc) (*models.RawDataset, error) {
	if c.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.delay):
		}
	}
	dataset := &models.RawDataset{
		ID:                 common.NewRawDatasetID(string(c.source), time.Now()),
		SessionID:          sessionID,
		SourceType:         c.source,
		CollectedAt:        time.Now().UTC(),
		RateLimitRemaining: -1,
		MetadataVersion:    models.MetadataVersion,
		Items:              c.items,
	}
	dataset.SortItems()
	if progress != nil {
		progress(len(dataset.Items))
	}
	return dataset, c.err
}

type stubProvider struct{}

func (p *stubProvider) AnalyzeItem(ctx context.Context, req *interfaces.AnalysisRequest) (*models.ItemAnalysis, error) {
	return &models.ItemAnalysis{
		Relevance: req.Item.PrefilterRelevance,
		Sentiment: models.SentimentNeutral,
	}, nil
}

type fixture struct {
	storage    interfaces.StorageManager
	supervisor *Supervisor
	config     *common.Config
}

func newFixture(t *testing.T, collector interfaces.Collector) *fixture {
	t.Helper()

	config := common.NewDefaultConfig()
	config.Storage.Badger.Path = t.TempDir()
	config.Supervisor.LeaseTTL = 200 * time.Millisecond
	config.Supervisor.HeartbeatInterval = 20 * time.Millisecond
	config.Supervisor.CancelGracePeriod = 50 * time.Millisecond
	config.Supervisor.LogDir = t.TempDir()
	config.Research.ProgressFlushEvery = 1

	logger := arbor.NewLogger()
	storage, err := badger.NewManager(logger, &config.Storage.Badger, &config.Supervisor)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	registry := collectors.NewRegistry(config, logger)
	if collector != nil {
		registry.Register(collector)
	}

	worker := analysis.NewWorker(&stubProvider{}, storage.DatasetStorage(), storage.SessionStorage(), config, logger)
	sup := NewSupervisor(storage, registry, worker, config, logger)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sup.Shutdown(shutdownCtx)
	})

	return &fixture{storage: storage, supervisor: sup, config: config}
}

func (f *fixture) createSession(t *testing.T) *models.ResearchSession {
	t.Helper()

	config := &models.ResearchConfiguration{
		ID:             common.NewConfigID(),
		Owner:          "alice",
		SourceType:     models.SourceTypeForum,
		QueryTerms:     []string{"golang"},
		MaxItems:       100,
		MaxItemsPerSub: 25,
		Depth:          models.AnalysisDepthStandard,
		Active:         true,
	}
	snapshot, err := config.Snapshot()
	require.NoError(t, err)

	session := models.NewResearchSession(common.NewSessionID(), config, snapshot)
	require.NoError(t, f.storage.SessionStorage().CreateSession(context.Background(), session))
	return session
}

func (f *fixture) waitForStatus(t *testing.T, sessionID string, want models.SessionStatus) *models.ResearchSession {
	t.Helper()

	var session *models.ResearchSession
	require.Eventually(t, func() bool {
		var err error
		session, err = f.storage.SessionStorage().GetSession(context.Background(), sessionID)
		return err == nil && session.Status == want
	}, 3*time.Second, 10*time.Millisecond, "session never reached %s", want)
	return session
}

func forumItems() []models.RawItem {
	return []models.RawItem{
		{NativeID: "t3_a", Author: "x", Body: "golang post", PrefilterRelevance: 1},
		{NativeID: "t3_b", Author: "y", Body: "another golang post", PrefilterRelevance: 0.8},
	}
}

func TestSupervisor_FullPipelineCompletes(t *testing.T) {
	f := newFixture(t, &stubCollector{source: models.SourceTypeForum, items: forumItems()})
	session := f.createSession(t)

	require.NoError(t, f.supervisor.StartSession(context.Background(), session.ID))

	final := f.waitForStatus(t, session.ID, models.SessionStatusCompleted)
	assert.NotEmpty(t, final.RawDatasetID)
	assert.NotEmpty(t, final.AnalyzedDatasetID)
	assert.Equal(t, 2, final.ItemsFound)
	assert.Equal(t, 2, final.ItemsAnalyzed)
	assert.Empty(t, final.Error)

	analyzed, err := f.storage.DatasetStorage().GetAnalyzedDataset(context.Background(), final.AnalyzedDatasetID)
	require.NoError(t, err)
	assert.Equal(t, final.RawDatasetID, analyzed.RawDatasetID)

	// All leases are released once the pipeline finishes
	require.Eventually(t, func() bool {
		leases, err := f.storage.LeaseStorage().ListLeases(context.Background())
		return err == nil && len(leases) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSupervisor_EmptyCollectCompletes(t *testing.T) {
	f := newFixture(t, &stubCollector{source: models.SourceTypeForum})
	session := f.createSession(t)

	require.NoError(t, f.supervisor.StartSession(context.Background(), session.ID))

	// A query that matches nothing still completes with zero counters
	final := f.waitForStatus(t, session.ID, models.SessionStatusCompleted)
	assert.Empty(t, final.Error)
	assert.Zero(t, final.ItemsFound)
	assert.Zero(t, final.ItemsAnalyzed)

	require.NotEmpty(t, final.RawDatasetID)
	raw, err := f.storage.DatasetStorage().GetRawDataset(context.Background(), final.RawDatasetID)
	require.NoError(t, err)
	assert.Zero(t, raw.ItemCount)

	require.NotEmpty(t, final.AnalyzedDatasetID)
	analyzed, err := f.storage.DatasetStorage().GetAnalyzedDataset(context.Background(), final.AnalyzedDatasetID)
	require.NoError(t, err)
	assert.Zero(t, analyzed.ItemCount)
}

func TestSupervisor_SecondStartIsRejected(t *testing.T) {
	f := newFixture(t, &stubCollector{source: models.SourceTypeForum, items: forumItems(), delay: 500 * time.Millisecond})
	session := f.createSession(t)

	require.NoError(t, f.supervisor.StartSession(context.Background(), session.ID))

	err := f.supervisor.StartSession(context.Background(), session.ID)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestSupervisor_AnalyzeRequiresRawDataset(t *testing.T) {
	f := newFixture(t, &stubCollector{source: models.SourceTypeForum, items: forumItems()})
	session := f.createSession(t)

	err := f.supervisor.StartStage(context.Background(), session.ID, models.StageAnalyze, false)
	assert.ErrorIs(t, err, ErrStageOrder)
}

func TestSupervisor_CollectFailureKeepsPartialDataset(t *testing.T) {
	f := newFixture(t, &stubCollector{
		source: models.SourceTypeForum,
		items:  forumItems(),
		err:    errors.New("forum platform failure: unexpected status 403"),
	})
	session := f.createSession(t)

	require.NoError(t, f.supervisor.StartSession(context.Background(), session.ID))

	final := f.waitForStatus(t, session.ID, models.SessionStatusFailed)
	assert.Contains(t, final.Error, "403")

	// The partial dataset survives and the session references it
	require.NotEmpty(t, final.RawDatasetID)
	raw, err := f.storage.DatasetStorage().GetRawDataset(context.Background(), final.RawDatasetID)
	require.NoError(t, err)
	assert.Equal(t, 2, raw.ItemCount)
}

func TestSupervisor_CancelRunningSession(t *testing.T) {
	f := newFixture(t, &stubCollector{source: models.SourceTypeForum, items: forumItems(), delay: 2 * time.Second})
	session := f.createSession(t)

	require.NoError(t, f.supervisor.StartSession(context.Background(), session.ID))
	f.waitForStatus(t, session.ID, models.SessionStatusRunning)

	require.NoError(t, f.supervisor.Cancel(context.Background(), session.ID))

	final := f.waitForStatus(t, session.ID, models.SessionStatusCancelled)
	assert.Empty(t, final.Error)
}

func TestSupervisor_CancelPendingSession(t *testing.T) {
	f := newFixture(t, &stubCollector{source: models.SourceTypeForum, items: forumItems()})
	session := f.createSession(t)

	require.NoError(t, f.supervisor.Cancel(context.Background(), session.ID))

	loaded, err := f.storage.SessionStorage().GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCancelled, loaded.Status)
}

func TestSupervisor_CancelTerminalSessionRejected(t *testing.T) {
	f := newFixture(t, &stubCollector{source: models.SourceTypeForum, items: forumItems()})
	session := f.createSession(t)

	require.NoError(t, f.supervisor.StartSession(context.Background(), session.ID))
	f.waitForStatus(t, session.ID, models.SessionStatusCompleted)

	err := f.supervisor.Cancel(context.Background(), session.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be cancelled")
}

func TestSupervisor_ProbeHealsAbandonedSession(t *testing.T) {
	f := newFixture(t, &stubCollector{source: models.SourceTypeForum, items: forumItems()})
	session := f.createSession(t)
	ctx := context.Background()

	// Simulate a worker that died mid-collect: session running, stale lease
	require.NoError(t, f.storage.SessionStorage().TransitionStatus(ctx, session.ID, models.SessionStatusPending, models.SessionStatusRunning, nil))
	stale := models.NewStageLease(session.ID, models.StageCollect, "")
	stale.Heartbeat = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.storage.LeaseStorage().ClaimLease(ctx, stale))

	healed, err := f.supervisor.Probe(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusFailed, healed.Status)
	assert.Equal(t, "worker terminated unexpectedly", healed.Error)

	// The stale lease is cleared as part of healing
	_, err = f.storage.LeaseStorage().GetLease(ctx, session.ID, models.StageCollect)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestSupervisor_ProbeLeavesLiveSessionAlone(t *testing.T) {
	f := newFixture(t, &stubCollector{source: models.SourceTypeForum, items: forumItems(), delay: 500 * time.Millisecond})
	session := f.createSession(t)

	require.NoError(t, f.supervisor.StartSession(context.Background(), session.ID))
	f.waitForStatus(t, session.ID, models.SessionStatusRunning)

	probed, err := f.supervisor.Probe(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusRunning, probed.Status)
}

func TestSupervisor_ListActiveFiltersExpired(t *testing.T) {
	f := newFixture(t, &stubCollector{source: models.SourceTypeForum, items: forumItems()})
	ctx := context.Background()

	live := models.NewStageLease("ses_live", models.StageCollect, "")
	require.NoError(t, f.storage.LeaseStorage().ClaimLease(ctx, live))

	stale := models.NewStageLease("ses_stale", models.StageAnalyze, "")
	stale.Heartbeat = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.storage.LeaseStorage().ClaimLease(ctx, stale))

	active, err := f.supervisor.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "ses_live", active[0].SessionID)
}
