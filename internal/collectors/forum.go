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

// ForumCollector collects posts (and, at comprehensive depth, their reply
// threads) from a Reddit-style public JSON API.
type ForumCollector struct {
	config   *common.ForumConfig
	research *common.ResearchConfig
	client   *http.Client
	limiter  *rate.Limiter
	logger   arbor.ILogger
}

// NewForumCollector creates a forum collector
func NewForumCollector(config *common.ForumConfig, research *common.ResearchConfig, logger arbor.ILogger) *ForumCollector {
	return &ForumCollector{
		config:   config,
		research: research,
		client:   &http.Client{Timeout: config.RequestTimeout},
		limiter:  rate.NewLimiter(rate.Every(config.RateLimit), 1),
		logger:   logger,
	}
}

// SourceType returns the platform this collector targets
func (c *ForumCollector) SourceType() models.SourceType {
	return models.SourceTypeForum
}

// forumListing mirrors the platform's listing envelope
type forumListing struct {
	Data struct {
		Children []struct {
			Kind string    `json:"kind"`
			Data forumPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type forumPost struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"` // Fullname, e.g. t3_abc123
	Author      string  `json:"author"`
	Title       string  `json:"title"`
	SelfText    string  `json:"selftext"`
	Body        string  `json:"body"` // Present on comments
	ParentID    string  `json:"parent_id"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Permalink   string  `json:"permalink"`
	Subreddit   string  `json:"subreddit"`
	Flair       string  `json:"link_flair_text"`
}

// Collect searches each target sub-community for the configured query terms,
// stopping at the volume limits. A platform-wide failure returns the partial
// dataset collected so far together with the error.
func (c *ForumCollector) Collect(ctx context.Context, config *models.ResearchConfiguration, sessionID string, progress interfaces.ProgressFunc) (*models.RawDataset, error) {
	set := newItemSet()
	throttle := newProgressThrottle(c.research.ProgressFlushEvery, c.research.ProgressFlushInterval, progress)

	subs := config.SubCommunities
	if len(subs) == 0 {
		subs = []string{"all"}
	}

	var platformErr error

collecting:
	for _, sub := range subs {
		if set.Len() >= config.MaxItems {
			break
		}

		perSub := config.MaxItemsPerSub
		if remaining := config.MaxItems - set.Len(); remaining < perSub {
			perSub = remaining
		}

		posts, status, err := c.searchSub(ctx, sub, config.QueryTerms, perSub)
		if err != nil {
			if isPlatformFailure(status, err) {
				platformErr = fmt.Errorf("forum platform failure: %w", err)
				break collecting
			}
			// Single sub-community failure: log, skip, keep going
			c.logger.Warn().Err(err).Str("sub", sub).Msg("Sub-community fetch failed, skipping")
			continue
		}

		added := 0
		for _, post := range posts {
			if added >= perSub || set.Len() >= config.MaxItems {
				break
			}
			if !meetsQuality(config, post.Score, post.NumComments) {
				continue
			}
			if set.Add(c.normalizePost(post, config.QueryTerms)) {
				added++
			}
		}
		throttle.Update(set.Len())

		// Comprehensive runs also pull each post's reply thread
		if config.Depth == models.AnalysisDepthComprehensive {
			if err := c.collectReplies(ctx, config, set, posts, throttle); err != nil {
				platformErr = err
				break collecting
			}
		}
	}

	throttle.Flush(set.Len())

	dataset := &models.RawDataset{
		ID:                 common.NewRawDatasetID(string(models.SourceTypeForum), time.Now()),
		SessionID:          sessionID,
		SourceType:         models.SourceTypeForum,
		CollectedAt:        time.Now().UTC(),
		RateLimitRemaining: -1, // Public JSON endpoint does not report quota
		MetadataVersion:    models.MetadataVersion,
		Items:              set.items,
	}
	dataset.SortItems()

	return dataset, platformErr
}

func (c *ForumCollector) searchSub(ctx context.Context, sub string, queryTerms []string, limit int) ([]forumPost, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	params := url.Values{}
	params.Set("q", strings.Join(queryTerms, " OR "))
	params.Set("restrict_sr", "on")
	params.Set("sort", "relevance")
	params.Set("limit", fmt.Sprintf("%d", limit))

	searchURL := fmt.Sprintf("%s/r/%s/search.json?%s", c.config.BaseURL, url.PathEscape(sub), params.Encode())

	var listing forumListing
	status, err := fetchJSON(ctx, c.client, searchURL, c.config.UserAgent, &listing)
	if err != nil {
		return nil, status, err
	}

	posts := make([]forumPost, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		posts = append(posts, child.Data)
	}
	return posts, status, nil
}

// collectReplies flattens one level of each post's comment tree into the
// item set, respecting the overall volume limit.
func (c *ForumCollector) collectReplies(ctx context.Context, config *models.ResearchConfiguration, set *itemSet, posts []forumPost, throttle *progressThrottle) error {
	for _, post := range posts {
		if set.Len() >= config.MaxItems {
			return nil
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		commentsURL := fmt.Sprintf("%s/comments/%s.json?limit=25", c.config.BaseURL, url.PathEscape(post.ID))

		// The comments endpoint returns [postListing, commentListing]
		var pages []forumListing
		status, err := fetchJSON(ctx, c.client, commentsURL, c.config.UserAgent, &pages)
		if err != nil {
			if isPlatformFailure(status, err) {
				return fmt.Errorf("forum platform failure: %w", err)
			}
			c.logger.Warn().Err(err).Str("post_id", post.ID).Msg("Comment fetch failed, skipping")
			continue
		}
		if len(pages) < 2 {
			continue
		}

		for _, child := range pages[1].Data.Children {
			if set.Len() >= config.MaxItems {
				break
			}
			comment := child.Data
			if comment.Author == "" || comment.Body == "" {
				continue
			}
			set.Add(models.RawItem{
				NativeID:           comment.Name,
				ParentID:           comment.ParentID,
				Author:             comment.Author,
				Body:               comment.Body,
				Score:              comment.Score,
				Community:          comment.Subreddit,
				CreatedAt:          time.Unix(int64(comment.CreatedUTC), 0).UTC(),
				PrefilterRelevance: PrefilterRelevance(config.QueryTerms, "", comment.Body),
			})
		}
		throttle.Update(set.Len())
	}
	return nil
}

func (c *ForumCollector) normalizePost(post forumPost, queryTerms []string) models.RawItem {
	metadata := map[string]any{}
	if post.Flair != "" {
		metadata["flair"] = post.Flair
	}
	return models.RawItem{
		NativeID:           post.Name,
		Author:             post.Author,
		Title:              post.Title,
		Body:               post.SelfText,
		Score:              post.Score,
		Comments:           post.NumComments,
		URL:                c.config.BaseURL + post.Permalink,
		Community:          post.Subreddit,
		CreatedAt:          time.Unix(int64(post.CreatedUTC), 0).UTC(),
		PrefilterRelevance: PrefilterRelevance(queryTerms, post.Title, post.SelfText),
		Metadata:           metadata,
	}
}
