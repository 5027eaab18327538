package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicom-router/internal/models"
	"dicom-router/internal/storage"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(&Config{DatabasePath: filepath.Join(t.TempDir(), "audit.db")})
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return adapter
}

func TestAdapter_RecordAndList(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)
	require.NoError(t, adapter.Health())

	ok := &models.DispatchRecord{
		EventID:     "poll-study-1-abc",
		StudyID:     "study-1",
		Destination: "pacs",
		Generation:  3,
		Success:     true,
		Attempts:    1,
		Duration:    150 * time.Millisecond,
	}
	failed := &models.DispatchRecord{
		EventID:     "poll-study-1-abc",
		StudyID:     "study-1",
		Destination: "research",
		Generation:  3,
		Error:       "HTTP 404",
		Attempts:    2,
		Duration:    time.Second,
	}
	require.NoError(t, adapter.RecordDispatch(ctx, ok))
	require.NoError(t, adapter.RecordDispatch(ctx, failed))
	assert.NotZero(t, ok.ID)
	assert.False(t, ok.CreatedAt.IsZero())

	records, err := adapter.RecentDispatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "research", records[0].Destination)
	assert.False(t, records[0].Success)
	assert.Equal(t, "HTTP 404", records[0].Error)
	assert.Equal(t, 2, records[0].Attempts)
	assert.Equal(t, time.Second, records[0].Duration)

	assert.Equal(t, "pacs", records[1].Destination)
	assert.True(t, records[1].Success)
	assert.Equal(t, uint64(3), records[1].Generation)
	assert.Equal(t, 150*time.Millisecond, records[1].Duration)
}

func TestAdapter_Limit(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, adapter.RecordDispatch(ctx, &models.DispatchRecord{
			EventID: "e", StudyID: fmt.Sprintf("study-%d", i), Destination: "pacs", Success: true, Attempts: 1,
		}))
	}

	records, err := adapter.RecentDispatches(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "study-4", records[0].StudyID)
	assert.Equal(t, "study-3", records[1].StudyID)
}

func TestAdapter_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, adapter.RecordDispatch(ctx, &models.DispatchRecord{
				EventID: "e", StudyID: "s", Destination: fmt.Sprintf("d%d", i), Success: true, Attempts: 1,
			}))
		}(i)
	}
	wg.Wait()

	records, err := adapter.RecentDispatches(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, records, 8)
}

func TestFactory(t *testing.T) {
	log, err := storage.Create("sqlite", &Config{DatabasePath: filepath.Join(t.TempDir(), "f.db")})
	require.NoError(t, err)
	defer log.Close()
	assert.NoError(t, log.Health())

	_, err = (&Factory{}).Create(&Config{})
	assert.Error(t, err)
}
