package badger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
)

// newTestManager opens a storage manager on a temporary directory
func newTestManager(t *testing.T) interfaces.StorageManager {
	t.Helper()

	manager, err := NewManager(arbor.NewLogger(),
		&common.BadgerConfig{Path: t.TempDir()},
		&common.SupervisorConfig{LeaseTTL: 100 * time.Millisecond, HeartbeatInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	return manager
}

func testConfig(owner string) *models.ResearchConfiguration {
	now := time.Now().UTC()
	return &models.ResearchConfiguration{
		ID:             common.NewConfigID(),
		Owner:          owner,
		SourceType:     models.SourceTypeForum,
		QueryTerms:     []string{"golang"},
		MaxItems:       100,
		MaxItemsPerSub: 25,
		Depth:          models.AnalysisDepthStandard,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func testSession(t *testing.T, config *models.ResearchConfiguration) *models.ResearchSession {
	t.Helper()
	snapshot, err := config.Snapshot()
	require.NoError(t, err)
	return models.NewResearchSession(common.NewSessionID(), config, snapshot)
}

func testRawDataset(sessionID string) *models.RawDataset {
	dataset := &models.RawDataset{
		ID:                 common.NewRawDatasetID("forum", time.Now()),
		SessionID:          sessionID,
		SourceType:         models.SourceTypeForum,
		CollectedAt:        time.Now().UTC(),
		RateLimitRemaining: -1,
		MetadataVersion:    models.MetadataVersion,
		Items: []models.RawItem{
			{NativeID: "t3_a", Author: "x", Body: "golang post", PrefilterRelevance: 1},
		},
	}
	dataset.SortItems()
	return dataset
}
