package analysis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
)

// stubProvider returns deterministic analyses, failing the configured IDs
type stubProvider struct {
	fail  map[string]bool
	calls int
}

func (p *stubProvider) AnalyzeItem(ctx context.Context, req *interfaces.AnalysisRequest) (*models.ItemAnalysis, error) {
	p.calls++
	if p.fail[req.Item.NativeID] {
		return nil, errors.New("invalid request")
	}
	return &models.ItemAnalysis{
		Relevance: req.Item.PrefilterRelevance,
		Sentiment: models.SentimentPositive,
		Keywords:  []string{"go"},
	}, nil
}

type stubDatasets struct {
	interfaces.DatasetStorage
	raw *models.RawDataset
}

func (s *stubDatasets) GetRawDataset(ctx context.Context, id string) (*models.RawDataset, error) {
	if s.raw != nil && s.raw.ID == id {
		return s.raw, nil
	}
	return nil, fmt.Errorf("raw dataset %s: %w", id, interfaces.ErrNotFound)
}

type stubSessions struct {
	interfaces.SessionStorage
	session *models.ResearchSession
}

func (s *stubSessions) GetSession(ctx context.Context, id string) (*models.ResearchSession, error) {
	if s.session != nil && s.session.ID == id {
		return s.session, nil
	}
	return nil, fmt.Errorf("session %s: %w", id, interfaces.ErrNotFound)
}

func newWorkerFixture(t *testing.T, depth models.AnalysisDepth, items []models.RawItem, fail map[string]bool) (*Worker, *stubProvider, *models.RawDataset) {
	t.Helper()

	config := &models.ResearchConfiguration{
		ID:             "cfg_test",
		Owner:          "alice",
		SourceType:     models.SourceTypeForum,
		QueryTerms:     []string{"golang"},
		MaxItems:       100,
		MaxItemsPerSub: 25,
		Depth:          depth,
	}
	snapshot, err := config.Snapshot()
	require.NoError(t, err)

	session := models.NewResearchSession("ses_test", config, snapshot)
	raw := &models.RawDataset{
		ID:              "raw_forum_test",
		SessionID:       session.ID,
		SourceType:      models.SourceTypeForum,
		CollectedAt:     time.Now().UTC(),
		MetadataVersion: models.MetadataVersion,
		Items:           items,
	}
	raw.SortItems()

	appConfig := common.NewDefaultConfig()
	appConfig.Claude.Concurrency = 2

	provider := &stubProvider{fail: fail}
	worker := NewWorker(provider, &stubDatasets{raw: raw}, &stubSessions{session: session}, appConfig, arbor.NewLogger())
	return worker, provider, raw
}

func rawItem(id string, relevance float64) models.RawItem {
	return models.RawItem{
		NativeID:           id,
		Author:             "someone",
		Body:               "a post about golang",
		PrefilterRelevance: relevance,
	}
}

func TestWorker_Analyze_ProducesSortedDataset(t *testing.T) {
	worker, _, raw := newWorkerFixture(t, models.AnalysisDepthStandard, []models.RawItem{
		rawItem("c", 0.9),
		rawItem("a", 0.5),
		rawItem("b", 0.7),
	}, nil)

	dataset, err := worker.Analyze(context.Background(), raw.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, raw.ID, dataset.RawDatasetID)
	assert.Equal(t, raw.SessionID, dataset.SessionID)
	assert.Equal(t, 3, dataset.ItemCount)
	// Output ordering is by native ID regardless of completion order
	assert.Equal(t, "a", dataset.Items[0].NativeID)
	assert.Equal(t, "b", dataset.Items[1].NativeID)
	assert.Equal(t, "c", dataset.Items[2].NativeID)
	assert.Equal(t, 3, dataset.Summary.SentimentCounts[models.SentimentPositive])
}

func TestWorker_Analyze_PrefilterFloorExcludesItems(t *testing.T) {
	worker, provider, raw := newWorkerFixture(t, models.AnalysisDepthStandard, []models.RawItem{
		rawItem("keep", 0.5),
		rawItem("drop", 0.01), // below the 0.1 default floor
	}, nil)

	dataset, err := worker.Analyze(context.Background(), raw.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, dataset.ItemCount)
	assert.Equal(t, "keep", dataset.Items[0].NativeID)
	assert.Equal(t, 1, provider.calls)
}

func TestWorker_Analyze_DepthBudgetCapsItems(t *testing.T) {
	items := make([]models.RawItem, 0, 15)
	for i := 0; i < 15; i++ {
		items = append(items, rawItem(fmt.Sprintf("item_%02d", i), 0.5+float64(i)/100))
	}
	worker, provider, raw := newWorkerFixture(t, models.AnalysisDepthQuick, items, nil)

	dataset, err := worker.Analyze(context.Background(), raw.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisDepthQuick.ItemBudget(), dataset.ItemCount)
	assert.Equal(t, models.AnalysisDepthQuick.ItemBudget(), provider.calls)
	// Highest prefilter relevance wins the budget
	assert.Equal(t, "item_14", dataset.Items[len(dataset.Items)-1].NativeID)
}

func TestWorker_Analyze_ItemFailureIsAbsorbed(t *testing.T) {
	worker, _, raw := newWorkerFixture(t, models.AnalysisDepthStandard, []models.RawItem{
		rawItem("good", 0.8),
		rawItem("bad", 0.7),
	}, map[string]bool{"bad": true})

	dataset, err := worker.Analyze(context.Background(), raw.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, dataset.ItemCount)

	assert.True(t, dataset.Items[0].Failed())
	assert.Equal(t, "bad", dataset.Items[0].NativeID)
	assert.Contains(t, dataset.Items[0].Error, "invalid request")
	assert.False(t, dataset.Items[1].Failed())

	// Failed items stay out of the summary
	assert.Equal(t, 1, dataset.Summary.SentimentCounts[models.SentimentPositive])
}

func TestWorker_Analyze_AllItemsFailedFailsRun(t *testing.T) {
	worker, _, raw := newWorkerFixture(t, models.AnalysisDepthStandard, []models.RawItem{
		rawItem("a", 0.8),
		rawItem("b", 0.7),
	}, map[string]bool{"a": true, "b": true})

	_, err := worker.Analyze(context.Background(), raw.ID, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 items")
}

func TestWorker_Analyze_StructurallyIdempotent(t *testing.T) {
	worker, _, raw := newWorkerFixture(t, models.AnalysisDepthStandard, []models.RawItem{
		rawItem("x", 0.6),
		rawItem("y", 0.4),
	}, nil)

	first, err := worker.Analyze(context.Background(), raw.ID, nil)
	require.NoError(t, err)
	second, err := worker.Analyze(context.Background(), raw.ID, nil)
	require.NoError(t, err)

	// IDs differ per run; item content and summary are identical
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Items, second.Items)
	assert.Equal(t, first.Summary, second.Summary)
}

func TestWorker_Analyze_MissingRawDataset(t *testing.T) {
	worker, _, _ := newWorkerFixture(t, models.AnalysisDepthStandard, nil, nil)

	_, err := worker.Analyze(context.Background(), "raw_missing", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}
