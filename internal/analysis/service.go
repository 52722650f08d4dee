package analysis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
	"golang.org/x/sync/errgroup"
)

// Worker runs the analysis stage: it reads a raw dataset, submits items to
// the external AI provider with bounded parallelism and retries, and builds
// the analyzed dataset plus the session-level insight summary.
type Worker struct {
	provider    interfaces.AnalysisProvider
	datasets    interfaces.DatasetStorage
	sessions    interfaces.SessionStorage
	research    *common.ResearchConfig
	retry       *RetryPolicy
	concurrency int
	logger      arbor.ILogger
}

// NewWorker creates an analysis worker
func NewWorker(provider interfaces.AnalysisProvider, datasets interfaces.DatasetStorage, sessions interfaces.SessionStorage, config *common.Config, logger arbor.ILogger) *Worker {
	concurrency := config.Claude.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Worker{
		provider:    provider,
		datasets:    datasets,
		sessions:    sessions,
		research:    &config.Research,
		retry:       NewRetryPolicy(config.Claude.RetryAttempts),
		concurrency: concurrency,
		logger:      logger,
	}
}

// Analyze produces the analyzed dataset for the given raw dataset ID.
// Item-level provider errors are absorbed: an item that exhausts retries is
// recorded with a nil analysis and an error tag. Only an all-items-failed
// outcome returns an error. Structurally idempotent for a given raw dataset.
func (w *Worker) Analyze(ctx context.Context, rawDatasetID string, progress interfaces.ProgressFunc) (*models.AnalyzedDataset, error) {
	raw, err := w.datasets.GetRawDataset(ctx, rawDatasetID)
	if err != nil {
		return nil, err
	}

	session, err := w.sessions.GetSession(ctx, raw.SessionID)
	if err != nil {
		return nil, err
	}
	config, err := session.Config()
	if err != nil {
		return nil, err
	}

	selected := w.selectItems(raw.Items, config.Depth)

	w.logger.Info().
		Str("raw_dataset_id", rawDatasetID).
		Int("total_items", len(raw.Items)).
		Int("selected_items", len(selected)).
		Str("depth", string(config.Depth)).
		Msg("Starting analysis run")

	throttle := newAnalysisThrottle(w.research.ProgressFlushEvery, w.research.ProgressFlushInterval, progress)

	results := make([]models.ItemAnalysis, len(selected))
	var done int
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(w.concurrency)

	for i := range selected {
		group.Go(func() error {
			results[i] = w.analyzeOne(groupCtx, config.QueryTerms, &selected[i])

			mu.Lock()
			done++
			throttle.Update(done)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	throttle.Flush(done)

	// Stable output ordering regardless of completion order
	sort.Slice(results, func(i, j int) bool {
		return results[i].NativeID < results[j].NativeID
	})

	failed := 0
	for i := range results {
		if results[i].Failed() {
			failed++
		}
	}

	dataset := &models.AnalyzedDataset{
		ID:           common.NewAnalyzedDatasetID(string(raw.SourceType), time.Now()),
		SessionID:    raw.SessionID,
		RawDatasetID: raw.ID,
		SourceType:   raw.SourceType,
		AnalyzedAt:   time.Now().UTC(),
		ItemCount:    len(results),
		Items:        results,
		Summary:      BuildSummary(results),
	}

	if len(results) > 0 && failed == len(results) {
		return dataset, fmt.Errorf("analysis failed for all %d items", failed)
	}

	w.logger.Info().
		Str("dataset_id", dataset.ID).
		Int("analyzed", len(results)-failed).
		Int("failed", failed).
		Msg("Analysis run complete")

	return dataset, nil
}

// selectItems picks the items worth provider calls: above the prefilter
// relevance floor, most relevant first, capped by the depth's item budget.
func (w *Worker) selectItems(items []models.RawItem, depth models.AnalysisDepth) []models.RawItem {
	selected := make([]models.RawItem, 0, len(items))
	for _, item := range items {
		if item.PrefilterRelevance >= w.research.MinPrefilterRelevance {
			selected = append(selected, item)
		}
	}

	sort.Slice(selected, func(i, j int) bool {
		if selected[i].PrefilterRelevance != selected[j].PrefilterRelevance {
			return selected[i].PrefilterRelevance > selected[j].PrefilterRelevance
		}
		return selected[i].NativeID < selected[j].NativeID
	})

	if budget := depth.ItemBudget(); budget > 0 && len(selected) > budget {
		selected = selected[:budget]
	}
	return selected
}

// analyzeOne runs one item through the provider with the retry policy.
// Never returns an error: exhausted items are tagged instead.
func (w *Worker) analyzeOne(ctx context.Context, queryTerms []string, item *models.RawItem) models.ItemAnalysis {
	var analysis *models.ItemAnalysis

	err := w.retry.Execute(ctx, func() error {
		result, err := w.provider.AnalyzeItem(ctx, &interfaces.AnalysisRequest{
			QueryTerms: queryTerms,
			Item:       item,
		})
		if err != nil {
			return err
		}
		analysis = result
		return nil
	})
	if err != nil {
		w.logger.Warn().
			Err(err).
			Str("native_id", item.NativeID).
			Msg("Item analysis exhausted retries, recording error tag")
		return models.ItemAnalysis{
			NativeID: item.NativeID,
			Error:    err.Error(),
		}
	}

	analysis.NativeID = item.NativeID
	return *analysis
}

// analysisThrottle mirrors the collectors' progress cadence for the analyze
// stage counter.
type analysisThrottle struct {
	every     int
	interval  time.Duration
	fn        interfaces.ProgressFunc
	lastCount int
	lastFlush time.Time
}

func newAnalysisThrottle(every int, interval time.Duration, fn interfaces.ProgressFunc) *analysisThrottle {
	if every <= 0 {
		every = 10
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &analysisThrottle{every: every, interval: interval, fn: fn, lastFlush: time.Now()}
}

func (t *analysisThrottle) Update(count int) {
	if t.fn == nil {
		return
	}
	if count-t.lastCount >= t.every || time.Since(t.lastFlush) >= t.interval {
		t.fn(count)
		t.lastCount = count
		t.lastFlush = time.Now()
	}
}

func (t *analysisThrottle) Flush(count int) {
	if t.fn != nil {
		t.fn(count)
	}
}
