package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_TryLock(t *testing.T) {
	ctx := context.Background()
	client, mr := setupTestRedis(t)

	other, err := NewClient(&Config{Address: mr.Addr()}, nil)
	require.NoError(t, err)
	defer other.Close()

	unlock, err := client.TryLock(ctx, "purge-old-studies", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("dicom-router:lock:purge-old-studies"))

	_, err = other.TryLock(ctx, "purge-old-studies", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, unlock())
	assert.False(t, mr.Exists("dicom-router:lock:purge-old-studies"))

	unlockOther, err := other.TryLock(ctx, "purge-old-studies", time.Minute)
	require.NoError(t, err)
	require.NoError(t, unlockOther())
}

func TestClient_TryLockExpires(t *testing.T) {
	ctx := context.Background()
	client, mr := setupTestRedis(t)

	_, err := client.TryLock(ctx, "purge-old-studies", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	unlock, err := client.TryLock(ctx, "purge-old-studies", time.Second)
	require.NoError(t, err)
	assert.NoError(t, unlock())
}
