package collectors

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// CodeHostCollector collects issues and discussions from GitHub via the
// search API. Target sub-communities are repository slugs (owner/repo).
type CodeHostCollector struct {
	config   *common.CodeHostConfig
	research *common.ResearchConfig
	client   *github.Client
	limiter  *rate.Limiter
	logger   arbor.ILogger
}

// NewCodeHostCollector creates a code-host collector. An empty token falls
// back to unauthenticated access with its lower rate limits.
func NewCodeHostCollector(config *common.CodeHostConfig, research *common.ResearchConfig, logger arbor.ILogger) *CodeHostCollector {
	var httpClient *http.Client
	if config.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.Token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	} else {
		httpClient = &http.Client{}
	}
	httpClient.Timeout = config.RequestTimeout

	return &CodeHostCollector{
		config:   config,
		research: research,
		client:   github.NewClient(httpClient),
		limiter:  rate.NewLimiter(rate.Every(config.RateLimit), 1),
		logger:   logger,
	}
}

// SourceType returns the platform this collector targets
func (c *CodeHostCollector) SourceType() models.SourceType {
	return models.SourceTypeCodeHost
}

// Collect searches issues per target repository, stopping at volume limits.
func (c *CodeHostCollector) Collect(ctx context.Context, config *models.ResearchConfiguration, sessionID string, progress interfaces.ProgressFunc) (*models.RawDataset, error) {
	set := newItemSet()
	throttle := newProgressThrottle(c.research.ProgressFlushEvery, c.research.ProgressFlushInterval, progress)

	repos := config.SubCommunities
	if len(repos) == 0 {
		repos = []string{""} // Global search when no repositories are targeted
	}

	var platformErr error
	rateRemaining := -1

collecting:
	for _, repo := range repos {
		if set.Len() >= config.MaxItems {
			break
		}

		perRepo := config.MaxItemsPerSub
		if remaining := config.MaxItems - set.Len(); remaining < perRepo {
			perRepo = remaining
		}

		if err := c.limiter.Wait(ctx); err != nil {
			platformErr = err
			break
		}

		query := strings.Join(config.QueryTerms, " ")
		if repo != "" {
			query += " repo:" + repo
		}

		result, resp, err := c.client.Search.Issues(ctx, query, &github.SearchOptions{
			Sort:        "comments",
			Order:       "desc",
			ListOptions: github.ListOptions{PerPage: perRepo},
		})
		if resp != nil {
			rateRemaining = resp.Rate.Remaining
		}
		if err != nil {
			if isCodeHostPlatformFailure(resp, err) {
				platformErr = fmt.Errorf("code host platform failure: %w", err)
				break collecting
			}
			c.logger.Warn().Err(err).Str("repo", repo).Msg("Issue search failed, skipping repository")
			continue
		}

		added := 0
		for _, issue := range result.Issues {
			if added >= perRepo || set.Len() >= config.MaxItems {
				break
			}
			if !meetsQuality(config, issue.GetReactions().GetTotalCount(), issue.GetComments()) {
				continue
			}
			if set.Add(c.normalizeIssue(issue, repo, config.QueryTerms)) {
				added++
			}
		}
		throttle.Update(set.Len())
	}

	throttle.Flush(set.Len())

	dataset := &models.RawDataset{
		ID:                 common.NewRawDatasetID(string(models.SourceTypeCodeHost), time.Now()),
		SessionID:          sessionID,
		SourceType:         models.SourceTypeCodeHost,
		CollectedAt:        time.Now().UTC(),
		RateLimitRemaining: rateRemaining,
		MetadataVersion:    models.MetadataVersion,
		Items:              set.items,
	}
	dataset.SortItems()

	return dataset, platformErr
}

func (c *CodeHostCollector) normalizeIssue(issue *github.Issue, repo string, queryTerms []string) models.RawItem {
	metadata := map[string]any{
		"state": issue.GetState(),
	}
	if len(issue.Labels) > 0 {
		labels := make([]string, 0, len(issue.Labels))
		for _, l := range issue.Labels {
			labels = append(labels, l.GetName())
		}
		metadata["labels"] = strings.Join(labels, ",")
	}

	return models.RawItem{
		NativeID:           fmt.Sprintf("issue_%d", issue.GetID()),
		Author:             issue.GetUser().GetLogin(),
		Title:              issue.GetTitle(),
		Body:               issue.GetBody(),
		Score:              issue.GetReactions().GetTotalCount(),
		Comments:           issue.GetComments(),
		URL:                issue.GetHTMLURL(),
		Community:          repo,
		CreatedAt:          issue.GetCreatedAt().Time.UTC(),
		PrefilterRelevance: PrefilterRelevance(queryTerms, issue.GetTitle(), issue.GetBody()),
		Metadata:           metadata,
	}
}

// isCodeHostPlatformFailure treats auth rejections, exhausted rate limits,
// and network-level failures as platform-wide.
func isCodeHostPlatformFailure(resp *github.Response, err error) bool {
	if resp == nil {
		return err != nil
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	if _, ok := err.(*github.RateLimitError); ok {
		return true
	}
	return false
}
