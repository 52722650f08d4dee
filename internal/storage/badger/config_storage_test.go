package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
)

func TestConfigStorage_SaveAndGet(t *testing.T) {
	manager := newTestManager(t)
	configs := manager.ConfigStorage()
	ctx := context.Background()

	config := testConfig("alice")
	require.NoError(t, configs.SaveConfig(ctx, config))

	loaded, err := configs.GetConfig(ctx, config.ID)
	require.NoError(t, err)
	assert.Equal(t, config.QueryTerms, loaded.QueryTerms)

	_, err = configs.GetConfig(ctx, "cfg_missing")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestConfigStorage_ListConfigsFiltersOwnerAndSource(t *testing.T) {
	manager := newTestManager(t)
	configs := manager.ConfigStorage()
	ctx := context.Background()

	alice := testConfig("alice")
	require.NoError(t, configs.SaveConfig(ctx, alice))

	aliceAgg := testConfig("alice")
	aliceAgg.SourceType = models.SourceTypeAggregator
	require.NoError(t, configs.SaveConfig(ctx, aliceAgg))

	require.NoError(t, configs.SaveConfig(ctx, testConfig("bob")))

	all, err := configs.ListConfigs(ctx, "alice", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	forumOnly, err := configs.ListConfigs(ctx, "alice", models.SourceTypeForum)
	require.NoError(t, err)
	require.Len(t, forumOnly, 1)
	assert.Equal(t, alice.ID, forumOnly[0].ID)
}

func TestConfigStorage_SoftDelete(t *testing.T) {
	manager := newTestManager(t)
	configs := manager.ConfigStorage()
	ctx := context.Background()

	config := testConfig("alice")
	require.NoError(t, configs.SaveConfig(ctx, config))
	require.NoError(t, configs.SoftDeleteConfig(ctx, config.ID))

	// The record survives for historical sessions but drops out of listings
	loaded, err := configs.GetConfig(ctx, config.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Deleted)
	assert.False(t, loaded.Active)

	listed, err := configs.ListConfigs(ctx, "alice", "")
	require.NoError(t, err)
	assert.Empty(t, listed)

	assert.ErrorIs(t, configs.SoftDeleteConfig(ctx, "cfg_missing"), interfaces.ErrNotFound)
}

func TestConfigStorage_ListScheduled(t *testing.T) {
	manager := newTestManager(t)
	configs := manager.ConfigStorage()
	ctx := context.Background()

	scheduled := testConfig("alice")
	scheduled.Schedule = "0 6 * * *"
	require.NoError(t, configs.SaveConfig(ctx, scheduled))

	inactive := testConfig("alice")
	inactive.Schedule = "0 6 * * *"
	inactive.Active = false
	require.NoError(t, configs.SaveConfig(ctx, inactive))

	require.NoError(t, configs.SaveConfig(ctx, testConfig("alice"))) // no schedule

	listed, err := configs.ListScheduled(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, scheduled.ID, listed[0].ID)
}
