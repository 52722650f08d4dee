package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *ResearchConfiguration {
	return &ResearchConfiguration{
		ID:             "cfg_abc",
		Owner:          "alice",
		SourceType:     SourceTypeForum,
		QueryTerms:     []string{"golang", "generics"},
		SubCommunities: []string{"golang"},
		MaxItems:       100,
		MaxItemsPerSub: 25,
		Depth:          AnalysisDepthStandard,
		Active:         true,
	}
}

func TestResearchConfiguration_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ResearchConfiguration)
		wantErr string
	}{
		{"valid", func(c *ResearchConfiguration) {}, ""},
		{"unknown source type", func(c *ResearchConfiguration) { c.SourceType = "usenet" }, "unknown source type"},
		{"missing owner", func(c *ResearchConfiguration) { c.Owner = "" }, "owner is required"},
		{"no query terms", func(c *ResearchConfiguration) { c.QueryTerms = nil }, "at least one query term"},
		{"empty query term", func(c *ResearchConfiguration) { c.QueryTerms = []string{"golang", ""} }, "non-empty"},
		{"zero max items", func(c *ResearchConfiguration) { c.MaxItems = 0 }, "max_items must be positive"},
		{"negative min score", func(c *ResearchConfiguration) { c.MinScore = -1 }, "min_score cannot be negative"},
		{"unknown depth", func(c *ResearchConfiguration) { c.Depth = "exhaustive" }, "unknown analysis depth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validTestConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestResearchConfiguration_Apply(t *testing.T) {
	config := validTestConfig()
	maxItems := 10
	depth := AnalysisDepthQuick

	err := config.Apply(&ConfigPatch{
		QueryTerms: []string{"rust"},
		MaxItems:   &maxItems,
		Depth:      &depth,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"rust"}, config.QueryTerms)
	assert.Equal(t, 10, config.MaxItems)
	assert.Equal(t, AnalysisDepthQuick, config.Depth)
	assert.False(t, config.UpdatedAt.IsZero())
	// Untouched fields survive
	assert.Equal(t, []string{"golang"}, config.SubCommunities)
}

func TestResearchConfiguration_Apply_SourceTypeImmutable(t *testing.T) {
	config := validTestConfig()
	other := SourceTypeAggregator

	err := config.Apply(&ConfigPatch{SourceType: &other})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "immutable")
	assert.Equal(t, SourceTypeForum, config.SourceType)

	// Patching to the same source type is a no-op, not an error
	same := SourceTypeForum
	assert.NoError(t, config.Apply(&ConfigPatch{SourceType: &same}))
}

func TestResearchConfiguration_Apply_InvalidResultRejected(t *testing.T) {
	config := validTestConfig()
	zero := 0

	err := config.Apply(&ConfigPatch{MaxItems: &zero})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_items")
}

func TestSnapshotRoundTrip(t *testing.T) {
	config := validTestConfig()
	snapshot, err := config.Snapshot()
	require.NoError(t, err)

	restored, err := ConfigFromSnapshot(snapshot)
	require.NoError(t, err)
	assert.Equal(t, config.ID, restored.ID)
	assert.Equal(t, config.QueryTerms, restored.QueryTerms)
	assert.Equal(t, config.Depth, restored.Depth)
}

func TestAnalysisDepth_ItemBudget(t *testing.T) {
	assert.Equal(t, 10, AnalysisDepthQuick.ItemBudget())
	assert.Equal(t, 50, AnalysisDepthStandard.ItemBudget())
	assert.Equal(t, 0, AnalysisDepthComprehensive.ItemBudget())
}
