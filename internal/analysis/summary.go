package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/indago/internal/models"
)

// topItemCount is the N for the "most relevant items" ranking
const topItemCount = 5

// BuildSummary computes the session-level insight summary by aggregation.
// Output is deterministic for a given input: ties in the keyword ranking
// break alphabetically, ties in the relevance ranking break by native ID.
func BuildSummary(items []models.ItemAnalysis) models.InsightSummary {
	counts := map[models.SentimentLabel]int{
		models.SentimentPositive: 0,
		models.SentimentNegative: 0,
		models.SentimentNeutral:  0,
	}
	keywordCounts := make(map[string]int)

	analyzed := make([]models.ItemAnalysis, 0, len(items))
	for _, item := range items {
		if item.Failed() {
			continue
		}
		analyzed = append(analyzed, item)
		counts[item.Sentiment]++
		for _, kw := range item.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				keywordCounts[kw]++
			}
		}
	}

	return models.InsightSummary{
		SentimentCounts:    counts,
		TopKeywords:        rankKeywords(keywordCounts, 10),
		TopItems:           rankItems(analyzed, topItemCount),
		RecommendedActions: recommendActions(counts, rankKeywords(keywordCounts, 3)),
	}
}

// rankKeywords orders keywords by frequency, alphabetical on ties
func rankKeywords(counts map[string]int, limit int) []models.KeywordCount {
	ranked := make([]models.KeywordCount, 0, len(counts))
	for kw, count := range counts {
		ranked = append(ranked, models.KeywordCount{Keyword: kw, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Keyword < ranked[j].Keyword
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// rankItems returns the native IDs of the most relevant items, tie-broken by ID
func rankItems(items []models.ItemAnalysis, limit int) []string {
	sorted := make([]models.ItemAnalysis, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Relevance != sorted[j].Relevance {
			return sorted[i].Relevance > sorted[j].Relevance
		}
		return sorted[i].NativeID < sorted[j].NativeID
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	ids := make([]string, len(sorted))
	for i, item := range sorted {
		ids[i] = item.NativeID
	}
	return ids
}

// recommendActions derives simple next steps from the sentiment mix and the
// dominant discussion topics.
func recommendActions(counts map[models.SentimentLabel]int, topKeywords []models.KeywordCount) []string {
	total := counts[models.SentimentPositive] + counts[models.SentimentNegative] + counts[models.SentimentNeutral]
	if total == 0 {
		return nil
	}

	var actions []string
	if counts[models.SentimentNegative] > counts[models.SentimentPositive] {
		actions = append(actions, "Sentiment skews negative: address the recurring pain points before drafting promotional content")
	} else if counts[models.SentimentPositive] > counts[models.SentimentNegative] {
		actions = append(actions, "Sentiment skews positive: amplify the themes the community already responds well to")
	} else {
		actions = append(actions, "Sentiment is mixed: segment drafts by audience stance rather than a single angle")
	}

	if len(topKeywords) > 0 {
		keywords := make([]string, len(topKeywords))
		for i, kc := range topKeywords {
			keywords[i] = kc.Keyword
		}
		actions = append(actions, fmt.Sprintf("Center drafts on the dominant topics: %s", strings.Join(keywords, ", ")))
	}

	return actions
}
