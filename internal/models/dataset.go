package models

import (
	"sort"
	"time"
)

// MetadataVersion versions the open metadata map carried on raw items.
// Bump when the documented key set changes.
const MetadataVersion = 1

// RawItem is a single normalized piece of source content (post, comment,
// story, issue) prior to AI analysis.
type RawItem struct {
	// NativeID is the source platform's identifier, unique within a dataset
	// and stable across re-collection.
	NativeID  string    `json:"native_id"`
	ParentID  string    `json:"parent_id,omitempty"` // Parent reference for threaded replies
	Author    string    `json:"author"`
	Title     string    `json:"title,omitempty"`
	Body      string    `json:"body"`
	Score     int       `json:"score"`    // Platform score / engagement metric
	Comments  int       `json:"comments"` // Reply count where the platform reports one
	URL       string    `json:"url,omitempty"`
	Community string    `json:"community,omitempty"` // Sub-community the item came from
	CreatedAt time.Time `json:"created_at"`
	// PrefilterRelevance is a cheap keyword-match score in [0,1] against the
	// configuration query terms, computed at collection time for downstream
	// triage.
	PrefilterRelevance float64 `json:"prefilter_relevance"`
	// Metadata is an open map of source-native fields not covered by the
	// normalized shape. Schema is versioned via MetadataVersion. Values are
	// scalars or nested maps; nothing downstream depends on untyped access.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RawDataset is the immutable output of one collection run. Items are stored
// deterministically sorted by native ID so downstream consumers see
// reproducible ordering regardless of collection order.
type RawDataset struct {
	ID          string     `json:"id" badgerhold:"key"`
	SessionID   string     `json:"session_id"`
	SourceType  SourceType `json:"source_type"`
	CollectedAt time.Time  `json:"collected_at"`
	ItemCount   int        `json:"item_count"`
	// RateLimitRemaining captures the platform's remaining request quota at
	// the end of collection, when the platform reports one (-1 = unknown).
	RateLimitRemaining int             `json:"rate_limit_remaining"`
	MetadataVersion    int             `json:"metadata_version"`
	Items              []RawItem       `json:"items"`
}

// SortItems orders items by native ID and syncs the item count header.
// Must be called before the dataset is persisted.
func (d *RawDataset) SortItems() {
	sort.Slice(d.Items, func(i, j int) bool {
		return d.Items[i].NativeID < d.Items[j].NativeID
	})
	d.ItemCount = len(d.Items)
}

// SentimentLabel classifies an item's overall tone
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNegative SentimentLabel = "negative"
	SentimentNeutral  SentimentLabel = "neutral"
)

// ItemAnalysis is the per-item output of the AI analysis provider.
type ItemAnalysis struct {
	NativeID       string         `json:"native_id"`
	Relevance      float64        `json:"relevance"` // [0,1] match against the research query
	Sentiment      SentimentLabel `json:"sentiment,omitempty"`
	SentimentScore float64        `json:"sentiment_score"` // [-1,1]
	Keywords       []string       `json:"keywords,omitempty"`
	Entities       []string       `json:"entities,omitempty"`
	KeyInsights    []string       `json:"key_insights,omitempty"`
	// Error tags an item whose analysis exhausted retries. Analysis fields
	// are zero-valued when set; the item never aborts the run.
	Error string `json:"error,omitempty"`
}

// Failed returns true when the item's analysis could not be produced
func (a *ItemAnalysis) Failed() bool {
	return a.Error != ""
}

// InsightSummary is the session-level aggregate computed after per-item analysis
type InsightSummary struct {
	SentimentCounts    map[SentimentLabel]int `json:"sentiment_counts"`
	TopKeywords        []KeywordCount         `json:"top_keywords"`
	TopItems           []string               `json:"top_items"` // Native IDs of the most relevant items
	RecommendedActions []string               `json:"recommended_actions,omitempty"`
}

// KeywordCount is one entry in the keyword frequency ranking
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// AnalyzedDataset mirrors the raw dataset shape with a per-item analysis
// block and a session-level summary. Immutable once written; at most one per
// raw dataset.
type AnalyzedDataset struct {
	ID           string         `json:"id" badgerhold:"key"`
	SessionID    string         `json:"session_id"`
	RawDatasetID string         `json:"raw_dataset_id"`
	SourceType   SourceType     `json:"source_type"`
	AnalyzedAt   time.Time      `json:"analyzed_at"`
	ItemCount    int            `json:"item_count"`
	Items        []ItemAnalysis `json:"items"`
	Summary      InsightSummary `json:"summary"`
}
