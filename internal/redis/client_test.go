package redis

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicom-router/internal/models"
	"dicom-router/internal/storage"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&Config{Address: mr.Addr(), DedupWindow: time.Minute}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		client, _ := setupTestRedis(t)

		assert.Equal(t, 10, client.config.PoolSize)
		assert.Equal(t, "dicom-router:rules", client.config.RulesKey)
		assert.Equal(t, "dicom-router:rules:changed", client.config.ChangesChannel)
		assert.NotEmpty(t, client.InstanceID())
		assert.NoError(t, client.Health())
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := NewClient(nil, nil)
		assert.Error(t, err)
	})

	t.Run("unreachable server", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		addr := mr.Addr()
		mr.Close()

		_, err = NewClient(&Config{Address: addr}, nil)
		assert.Error(t, err)
	})
}

func TestClient_Rules(t *testing.T) {
	ctx := context.Background()
	client, mr := setupTestRedis(t)

	_, err := client.LoadRules(ctx)
	assert.ErrorIs(t, err, storage.ErrNoRules)

	docs := []models.RuleDocument{
		{Rule: "Modality == 'CT'", Destinations: []string{"pacs"}},
		{Rule: "true", Destinations: []string{}},
	}
	require.NoError(t, client.SaveRules(ctx, docs))

	loaded, err := client.LoadRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, docs, loaded)

	t.Run("hand edited value with comments", func(t *testing.T) {
		mr.Set("dicom-router:rules", `[
			// research copy
			{"rule": "StudyDescription in 'RESEARCH'", "destinations": ["research"]},
		]`)

		loaded, err := client.LoadRules(ctx)
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		assert.Equal(t, []string{"research"}, loaded[0].Destinations)
	})

	t.Run("corrupt value", func(t *testing.T) {
		mr.Set("dicom-router:rules", `{"rule":`)
		_, err := client.LoadRules(ctx)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, storage.ErrNoRules)
	})

	t.Run("empty set", func(t *testing.T) {
		require.NoError(t, client.SaveRules(ctx, nil))
		loaded, err := client.LoadRules(ctx)
		require.NoError(t, err)
		assert.Empty(t, loaded)
		assert.NotNil(t, loaded)
	})
}

func TestClient_RulesChanged(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	origin, mr := setupTestRedis(t)
	other, err := NewClient(&Config{Address: mr.Addr()}, nil)
	require.NoError(t, err)
	defer other.Close()

	var originReloads, otherReloads atomic.Int32

	stopOrigin, err := origin.ListenRulesChanged(ctx, func(context.Context) error {
		originReloads.Add(1)
		return nil
	})
	require.NoError(t, err)
	defer stopOrigin()

	stopOther, err := other.ListenRulesChanged(ctx, func(context.Context) error {
		otherReloads.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, origin.PublishRulesChanged(ctx, 3))

	assert.Eventually(t, func() bool {
		return otherReloads.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), originReloads.Load(), "own announcements are ignored")

	stopOther()
	require.NoError(t, origin.PublishRulesChanged(ctx, 4))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), otherReloads.Load(), "stopped listener does not reload")
}

func TestClient_ClaimEvent(t *testing.T) {
	ctx := context.Background()
	client, mr := setupTestRedis(t)

	other, err := NewClient(&Config{Address: mr.Addr(), DedupWindow: time.Minute}, nil)
	require.NoError(t, err)
	defer other.Close()

	claimed, err := client.ClaimEvent(ctx, "study-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = other.ClaimEvent(ctx, "study-1")
	require.NoError(t, err)
	assert.False(t, claimed)

	claimed, err = other.ClaimEvent(ctx, "study-2")
	require.NoError(t, err)
	assert.True(t, claimed)

	mr.FastForward(2 * time.Minute)

	claimed, err = other.ClaimEvent(ctx, "study-1")
	require.NoError(t, err)
	assert.True(t, claimed, "claim expires after the window")
}

func TestClient_Claim(t *testing.T) {
	ctx := context.Background()
	client, mr := setupTestRedis(t)

	key := "purge-old-studies:2026-10-18T03:00:00Z"
	claimed, err := client.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.True(t, mr.Exists("dicom-router:stable:"+key))
	assert.Equal(t, time.Hour, mr.TTL("dicom-router:stable:"+key))

	claimed, err = client.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed)

	mr.Close()
	_, err = client.Claim(ctx, "other", time.Hour)
	assert.Error(t, err)
}
