package collectors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
	"golang.org/x/time/rate"
)

// AggregatorCollector collects stories and comments from a Hacker News-style
// search API (Algolia).
type AggregatorCollector struct {
	config   *common.AggregatorConfig
	research *common.ResearchConfig
	client   *http.Client
	limiter  *rate.Limiter
	logger   arbor.ILogger
}

// NewAggregatorCollector creates an aggregator collector
func NewAggregatorCollector(config *common.AggregatorConfig, research *common.ResearchConfig, logger arbor.ILogger) *AggregatorCollector {
	return &AggregatorCollector{
		config:   config,
		research: research,
		client:   &http.Client{Timeout: config.RequestTimeout},
		limiter:  rate.NewLimiter(rate.Every(config.RateLimit), 1),
		logger:   logger,
	}
}

// SourceType returns the platform this collector targets
func (c *AggregatorCollector) SourceType() models.SourceType {
	return models.SourceTypeAggregator
}

type aggregatorSearchResult struct {
	Hits []aggregatorHit `json:"hits"`
}

type aggregatorHit struct {
	ObjectID    string `json:"objectID"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	StoryText   string `json:"story_text"`
	CommentText string `json:"comment_text"`
	Points      int    `json:"points"`
	NumComments int    `json:"num_comments"`
	ParentID    int64  `json:"parent_id"`
	StoryID     int64  `json:"story_id"`
	CreatedAt   string `json:"created_at"`
	Tags        []string `json:"_tags"`
}

// Collect searches stories per query term, then pulls top comments for the
// highest-engagement stories until the volume limit is reached. The
// aggregator has no sub-community concept; target sub-communities are
// applied as additional tag filters when present.
func (c *AggregatorCollector) Collect(ctx context.Context, config *models.ResearchConfiguration, sessionID string, progress interfaces.ProgressFunc) (*models.RawDataset, error) {
	set := newItemSet()
	throttle := newProgressThrottle(c.research.ProgressFlushEvery, c.research.ProgressFlushInterval, progress)

	var platformErr error
	var storyIDs []string

	// Tag syntax: comma-separated terms are ANDed, a parenthesized group is
	// ORed. Sub-communities narrow the story search to any of the named tags.
	storyTags := "story"
	if len(config.SubCommunities) > 0 {
		storyTags = "story,(" + strings.Join(config.SubCommunities, ",") + ")"
	}

	hits, status, err := c.search(ctx, strings.Join(config.QueryTerms, " "), storyTags, config.MaxItems)
	if err != nil {
		if isPlatformFailure(status, err) {
			platformErr = fmt.Errorf("aggregator platform failure: %w", err)
		} else {
			c.logger.Warn().Err(err).Msg("Story search failed")
		}
	}

	for _, hit := range hits {
		if set.Len() >= config.MaxItems {
			break
		}
		if !meetsQuality(config, hit.Points, hit.NumComments) {
			continue
		}
		if set.Add(c.normalizeStory(hit, config.QueryTerms)) {
			storyIDs = append(storyIDs, hit.ObjectID)
		}
	}
	throttle.Update(set.Len())

	// Pull comment threads for collected stories (skipped at quick depth)
	if platformErr == nil && config.Depth != models.AnalysisDepthQuick {
		for _, storyID := range storyIDs {
			if set.Len() >= config.MaxItems {
				break
			}
			comments, status, err := c.search(ctx, "", "comment,story_"+storyID, 25)
			if err != nil {
				if isPlatformFailure(status, err) {
					platformErr = fmt.Errorf("aggregator platform failure: %w", err)
					break
				}
				c.logger.Warn().Err(err).Str("story_id", storyID).Msg("Comment fetch failed, skipping")
				continue
			}
			for _, hit := range comments {
				if set.Len() >= config.MaxItems {
					break
				}
				set.Add(c.normalizeComment(hit, config.QueryTerms))
			}
			throttle.Update(set.Len())
		}
	}

	throttle.Flush(set.Len())

	dataset := &models.RawDataset{
		ID:                 common.NewRawDatasetID(string(models.SourceTypeAggregator), time.Now()),
		SessionID:          sessionID,
		SourceType:         models.SourceTypeAggregator,
		CollectedAt:        time.Now().UTC(),
		RateLimitRemaining: -1,
		MetadataVersion:    models.MetadataVersion,
		Items:              set.items,
	}
	dataset.SortItems()

	return dataset, platformErr
}

func (c *AggregatorCollector) search(ctx context.Context, query, tags string, limit int) ([]aggregatorHit, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	params := url.Values{}
	if query != "" {
		params.Set("query", query)
	}
	params.Set("tags", tags)
	params.Set("hitsPerPage", fmt.Sprintf("%d", limit))

	searchURL := fmt.Sprintf("%s/search?%s", c.config.BaseURL, params.Encode())

	var result aggregatorSearchResult
	status, err := fetchJSON(ctx, c.client, searchURL, "", &result)
	if err != nil {
		return nil, status, err
	}
	return result.Hits, status, nil
}

func (c *AggregatorCollector) normalizeStory(hit aggregatorHit, queryTerms []string) models.RawItem {
	return models.RawItem{
		NativeID:           hit.ObjectID,
		Author:             hit.Author,
		Title:              hit.Title,
		Body:               hit.StoryText,
		Score:              hit.Points,
		Comments:           hit.NumComments,
		URL:                hit.URL,
		CreatedAt:          parseAggregatorTime(hit.CreatedAt),
		PrefilterRelevance: PrefilterRelevance(queryTerms, hit.Title, hit.StoryText),
		Metadata:           map[string]any{"tags": strings.Join(hit.Tags, ",")},
	}
}

func (c *AggregatorCollector) normalizeComment(hit aggregatorHit, queryTerms []string) models.RawItem {
	parent := ""
	if hit.ParentID > 0 {
		parent = fmt.Sprintf("%d", hit.ParentID)
	}
	return models.RawItem{
		NativeID:           hit.ObjectID,
		ParentID:           parent,
		Author:             hit.Author,
		Body:               hit.CommentText,
		Score:              hit.Points,
		CreatedAt:          parseAggregatorTime(hit.CreatedAt),
		PrefilterRelevance: PrefilterRelevance(queryTerms, "", hit.CommentText),
	}
}

func parseAggregatorTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
