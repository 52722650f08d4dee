package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/indago/internal/models"
)

func analyzedItem(id string, relevance float64, sentiment models.SentimentLabel, keywords ...string) models.ItemAnalysis {
	return models.ItemAnalysis{
		NativeID:  id,
		Relevance: relevance,
		Sentiment: sentiment,
		Keywords:  keywords,
	}
}

func TestBuildSummary_SentimentCounts(t *testing.T) {
	summary := BuildSummary([]models.ItemAnalysis{
		analyzedItem("a", 0.9, models.SentimentPositive),
		analyzedItem("b", 0.8, models.SentimentPositive),
		analyzedItem("c", 0.7, models.SentimentNegative),
		analyzedItem("d", 0.6, models.SentimentNeutral),
	})

	assert.Equal(t, 2, summary.SentimentCounts[models.SentimentPositive])
	assert.Equal(t, 1, summary.SentimentCounts[models.SentimentNegative])
	assert.Equal(t, 1, summary.SentimentCounts[models.SentimentNeutral])
}

func TestBuildSummary_SkipsFailedItems(t *testing.T) {
	summary := BuildSummary([]models.ItemAnalysis{
		analyzedItem("a", 0.9, models.SentimentPositive, "go"),
		{NativeID: "b", Error: "analysis request failed: 429"},
	})

	assert.Equal(t, 1, summary.SentimentCounts[models.SentimentPositive])
	assert.Equal(t, []string{"a"}, summary.TopItems)
}

func TestBuildSummary_KeywordRankingDeterministic(t *testing.T) {
	items := []models.ItemAnalysis{
		analyzedItem("a", 0.5, models.SentimentNeutral, "Go", "performance"),
		analyzedItem("b", 0.5, models.SentimentNeutral, "go", "memory"),
		analyzedItem("c", 0.5, models.SentimentNeutral, "performance", "memory"),
	}

	first := BuildSummary(items)
	second := BuildSummary(items)
	assert.Equal(t, first.TopKeywords, second.TopKeywords)

	// Keywords normalize to lowercase; counts tie-break alphabetically
	assert.Equal(t, "go", first.TopKeywords[0].Keyword)
	assert.Equal(t, 2, first.TopKeywords[0].Count)
	assert.Equal(t, "memory", first.TopKeywords[1].Keyword)
	assert.Equal(t, "performance", first.TopKeywords[2].Keyword)
}

func TestBuildSummary_TopItemsTieBreakByID(t *testing.T) {
	summary := BuildSummary([]models.ItemAnalysis{
		analyzedItem("z", 0.5, models.SentimentNeutral),
		analyzedItem("a", 0.5, models.SentimentNeutral),
		analyzedItem("m", 0.9, models.SentimentNeutral),
	})

	assert.Equal(t, []string{"m", "a", "z"}, summary.TopItems)
}

func TestBuildSummary_TopItemsCapped(t *testing.T) {
	items := make([]models.ItemAnalysis, 0, 8)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		items = append(items, analyzedItem(id, 0.5, models.SentimentNeutral))
	}
	summary := BuildSummary(items)
	assert.Len(t, summary.TopItems, topItemCount)
}

func TestBuildSummary_RecommendedActions(t *testing.T) {
	negative := BuildSummary([]models.ItemAnalysis{
		analyzedItem("a", 0.5, models.SentimentNegative, "pricing"),
		analyzedItem("b", 0.5, models.SentimentNegative, "pricing"),
		analyzedItem("c", 0.5, models.SentimentPositive),
	})
	assert.Contains(t, negative.RecommendedActions[0], "negative")
	assert.Contains(t, negative.RecommendedActions[1], "pricing")

	positive := BuildSummary([]models.ItemAnalysis{
		analyzedItem("a", 0.5, models.SentimentPositive),
	})
	assert.Contains(t, positive.RecommendedActions[0], "positive")

	empty := BuildSummary(nil)
	assert.Empty(t, empty.RecommendedActions)
}
