package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dicom-router/internal/models"
	"dicom-router/internal/storage"
)

type MockDispatchLog struct {
	mock.Mock
}

func (m *MockDispatchLog) RecordDispatch(ctx context.Context, record *models.DispatchRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *MockDispatchLog) RecentDispatches(ctx context.Context, limit int) ([]*models.DispatchRecord, error) {
	args := m.Called(ctx, limit)
	if records := args.Get(0); records != nil {
		return records.([]*models.DispatchRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDispatchLog) Health() error { return m.Called().Error(0) }
func (m *MockDispatchLog) Close() error  { return m.Called().Error(0) }

type mockFactory struct {
	log storage.DispatchLog
}

func (f *mockFactory) Create(config storage.StorageConfig) (storage.DispatchLog, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return f.log, nil
}

func (f *mockFactory) GetType() string { return "mock" }

type mockConfig struct{ err error }

func (c mockConfig) Validate() error             { return c.err }
func (c mockConfig) GetType() string             { return "mock" }
func (c mockConfig) GetConnectionString() string { return "" }

func TestRegistry(t *testing.T) {
	registry := storage.NewRegistry()
	log := &MockDispatchLog{}
	registry.Register("mock", &mockFactory{log: log})
	registry.Register("another", &mockFactory{log: log})

	assert.True(t, registry.IsRegistered("mock"))
	assert.False(t, registry.IsRegistered("missing"))
	assert.Equal(t, []string{"another", "mock"}, registry.GetAvailableTypes())

	created, err := registry.Create("mock", mockConfig{})
	require.NoError(t, err)
	assert.Same(t, log, created)

	_, err = registry.Create("missing", mockConfig{})
	assert.ErrorContains(t, err, "not registered")

	_, err = registry.Create("mock", mockConfig{err: assert.AnError})
	assert.ErrorIs(t, err, assert.AnError)
}
