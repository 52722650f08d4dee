package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/models"
)

func forumTestConfig() *models.ResearchConfiguration {
	return &models.ResearchConfiguration{
		ID:             "cfg_forum",
		Owner:          "alice",
		SourceType:     models.SourceTypeForum,
		QueryTerms:     []string{"golang"},
		SubCommunities: []string{"golang", "programming"},
		MaxItems:       10,
		MaxItemsPerSub: 5,
		Depth:          models.AnalysisDepthStandard,
	}
}

func newForumCollector(serverURL string) *ForumCollector {
	config := &common.ForumConfig{
		BaseURL:        serverURL,
		UserAgent:      "indago-test/1.0",
		RequestTimeout: 5 * time.Second,
	}
	research := &common.ResearchConfig{
		ProgressFlushEvery:    1,
		ProgressFlushInterval: time.Hour,
	}
	return NewForumCollector(config, research, arbor.NewLogger())
}

func forumSearchPayload(sub string, count int) map[string]any {
	children := make([]map[string]any, 0, count)
	for i := 0; i < count; i++ {
		children = append(children, map[string]any{
			"kind": "t3",
			"data": map[string]any{
				"id":           fmt.Sprintf("%s%d", sub, i),
				"name":         fmt.Sprintf("t3_%s%d", sub, i),
				"author":       "someone",
				"title":        "Thoughts on golang",
				"selftext":     "A discussion about generics",
				"score":        50,
				"num_comments": 12,
				"created_utc":  1700000000.0,
				"permalink":    fmt.Sprintf("/r/%s/comments/%s%d/", sub, sub, i),
				"subreddit":    sub,
			},
		})
	}
	return map[string]any{"data": map[string]any{"children": children}}
}

func TestForumCollector_CollectsAndNormalizes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/search.json"))
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		assert.Equal(t, "on", r.URL.Query().Get("restrict_sr"))

		sub := strings.TrimPrefix(strings.TrimSuffix(r.URL.Path, "/search.json"), "/r/")
		json.NewEncoder(w).Encode(forumSearchPayload(sub, 3))
	}))
	defer server.Close()

	collector := newForumCollector(server.URL)

	var lastProgress int
	dataset, err := collector.Collect(context.Background(), forumTestConfig(), "ses_1", func(count int) {
		lastProgress = count
	})
	require.NoError(t, err)

	assert.Equal(t, models.SourceTypeForum, dataset.SourceType)
	assert.Equal(t, "ses_1", dataset.SessionID)
	assert.Equal(t, 6, dataset.ItemCount)
	assert.Equal(t, 6, lastProgress)
	assert.Equal(t, -1, dataset.RateLimitRemaining)
	assert.Equal(t, models.MetadataVersion, dataset.MetadataVersion)

	// Sorted by native ID
	for i := 1; i < len(dataset.Items); i++ {
		assert.Less(t, dataset.Items[i-1].NativeID, dataset.Items[i].NativeID)
	}

	item := dataset.Items[0]
	assert.Equal(t, "someone", item.Author)
	assert.InDelta(t, 1.0, item.PrefilterRelevance, 0.001)
	assert.Contains(t, item.URL, server.URL)
}

func TestForumCollector_VolumeLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub := strings.TrimPrefix(strings.TrimSuffix(r.URL.Path, "/search.json"), "/r/")
		json.NewEncoder(w).Encode(forumSearchPayload(sub, 25))
	}))
	defer server.Close()

	collector := newForumCollector(server.URL)
	config := forumTestConfig()
	config.MaxItems = 7
	config.MaxItemsPerSub = 5

	dataset, err := collector.Collect(context.Background(), config, "ses_1", nil)
	require.NoError(t, err)
	assert.Equal(t, 7, dataset.ItemCount)
}

func TestForumCollector_QualityThresholds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := forumSearchPayload("golang", 2)
		// Degrade the second post below the thresholds
		children := payload["data"].(map[string]any)["children"].([]map[string]any)
		children[1]["data"].(map[string]any)["score"] = 1
		json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	collector := newForumCollector(server.URL)
	config := forumTestConfig()
	config.SubCommunities = []string{"golang"}
	config.MinScore = 10
	config.MinComments = 5

	dataset, err := collector.Collect(context.Background(), config, "ses_1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, dataset.ItemCount)
}

func TestForumCollector_PlatformFailureKeepsPartialDataset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/r/programming/") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		json.NewEncoder(w).Encode(forumSearchPayload("golang", 3))
	}))
	defer server.Close()

	collector := newForumCollector(server.URL)

	dataset, err := collector.Collect(context.Background(), forumTestConfig(), "ses_1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform failure")

	// Items collected before the failure survive
	require.NotNil(t, dataset)
	assert.Equal(t, 3, dataset.ItemCount)
}

func TestForumCollector_SingleSubFailureIsSkipped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/r/golang/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(forumSearchPayload("programming", 2))
	}))
	defer server.Close()

	collector := newForumCollector(server.URL)

	dataset, err := collector.Collect(context.Background(), forumTestConfig(), "ses_1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, dataset.ItemCount)
}
