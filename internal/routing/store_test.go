package routing

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dicom-router/internal/common/errors"
	"dicom-router/internal/common/logging"
	"dicom-router/internal/models"
	"dicom-router/internal/storage"
	"dicom-router/internal/storage/file"
)

type MockPersister struct {
	mock.Mock
}

func (m *MockPersister) LoadRules(ctx context.Context) ([]models.RuleDocument, error) {
	args := m.Called(ctx)
	docs, _ := args.Get(0).([]models.RuleDocument)
	return docs, args.Error(1)
}

func (m *MockPersister) SaveRules(ctx context.Context, docs []models.RuleDocument) error {
	args := m.Called(ctx, docs)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) PublishRulesChanged(ctx context.Context, generation uint64) error {
	args := m.Called(ctx, generation)
	return args.Error(0)
}

var validDocs = []models.RuleDocument{
	{Rule: "'CT' in ModalitiesInStudy and StudyDate > 20000101", Destinations: []string{"siimhackathon"}},
	{Rule: "Modality == 'MR'", Destinations: []string{"research", "archive"}},
}

func TestRuleStore_Load(t *testing.T) {
	logger := logging.GetGlobalLogger()

	t.Run("persisted rules", func(t *testing.T) {
		persister := new(MockPersister)
		persister.On("LoadRules", mock.Anything).Return(validDocs, nil)

		store := NewRuleStore(persister, logger)
		set, err := store.Load(context.Background())

		require.NoError(t, err)
		assert.Equal(t, validDocs, set.Documents())
		assert.Same(t, set, store.Current())
		assert.Equal(t, uint64(1), set.Generation)
	})

	t.Run("nothing persisted", func(t *testing.T) {
		persister := new(MockPersister)
		persister.On("LoadRules", mock.Anything).Return(nil, storage.ErrNoRules)

		store := NewRuleStore(persister, logger)
		set, err := store.Load(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 0, set.Len())
	})

	t.Run("unreadable rules start empty", func(t *testing.T) {
		persister := new(MockPersister)
		persister.On("LoadRules", mock.Anything).Return(nil, stderrors.New("invalid character"))

		store := NewRuleStore(persister, logger)
		set, err := store.Load(context.Background())

		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypePersistence))
		assert.Equal(t, 0, set.Len())
		assert.Same(t, set, store.Current())
	})

	t.Run("uncompilable rules start empty", func(t *testing.T) {
		persister := new(MockPersister)
		persister.On("LoadRules", mock.Anything).Return([]models.RuleDocument{
			{Rule: "Modality ==", Destinations: []string{"pacs"}},
		}, nil)

		store := NewRuleStore(persister, logger)
		set, err := store.Load(context.Background())

		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeCompilation))
		assert.Equal(t, 0, set.Len())
	})
}

func TestRuleStore_Replace(t *testing.T) {
	logger := logging.GetGlobalLogger()

	t.Run("compiles persists and installs", func(t *testing.T) {
		persister := new(MockPersister)
		persister.On("SaveRules", mock.Anything, validDocs).Return(nil).Once()
		notifier := new(MockNotifier)
		notifier.On("PublishRulesChanged", mock.Anything, uint64(1)).Return(nil).Once()

		store := NewRuleStore(persister, logger)
		store.SetNotifier(notifier)

		set, err := store.Replace(context.Background(), validDocs)
		require.NoError(t, err)
		assert.Same(t, set, store.Current())
		assert.Equal(t, validDocs, set.Documents())
		assert.Equal(t, uint64(1), set.Generation)

		persister.AssertExpectations(t)
		notifier.AssertExpectations(t)
	})

	t.Run("one invalid rule leaves the active set untouched", func(t *testing.T) {
		persister := new(MockPersister)
		persister.On("SaveRules", mock.Anything, validDocs).Return(nil).Once()

		store := NewRuleStore(persister, logger)
		before, err := store.Replace(context.Background(), validDocs)
		require.NoError(t, err)

		candidate := append(models.CloneRuleDocuments(validDocs), models.RuleDocument{
			Rule: "StudyDate >> 2000", Destinations: []string{"pacs"},
		})
		set, err := store.Replace(context.Background(), candidate)

		require.Error(t, err)
		assert.Nil(t, set)
		assert.True(t, errors.IsType(err, errors.ErrTypeCompilation))

		var appErr *errors.AppError
		require.True(t, stderrors.As(err, &appErr))
		assert.Equal(t, 2, appErr.Context["rule_index"])

		assert.Same(t, before, store.Current())
		assert.Equal(t, validDocs, store.Current().Documents())
		persister.AssertNumberOfCalls(t, "SaveRules", 1)
	})

	t.Run("persistence failure still installs", func(t *testing.T) {
		persister := new(MockPersister)
		persister.On("SaveRules", mock.Anything, mock.Anything).Return(stderrors.New("disk full"))
		notifier := new(MockNotifier)

		store := NewRuleStore(persister, logger)
		store.SetNotifier(notifier)
		set, err := store.Replace(context.Background(), validDocs)

		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypePersistence))
		assert.Contains(t, err.Error(), "active but was not persisted")
		require.NotNil(t, set)
		assert.Same(t, set, store.Current())
		notifier.AssertNotCalled(t, "PublishRulesChanged", mock.Anything, mock.Anything)
	})

	t.Run("notification failure is not an error", func(t *testing.T) {
		persister := new(MockPersister)
		persister.On("SaveRules", mock.Anything, mock.Anything).Return(nil)
		notifier := new(MockNotifier)
		notifier.On("PublishRulesChanged", mock.Anything, mock.Anything).Return(stderrors.New("redis down"))

		store := NewRuleStore(persister, logger)
		store.SetNotifier(notifier)
		_, err := store.Replace(context.Background(), validDocs)
		assert.NoError(t, err)
	})

	t.Run("generations increase", func(t *testing.T) {
		persister := new(MockPersister)
		persister.On("SaveRules", mock.Anything, mock.Anything).Return(nil)

		store := NewRuleStore(persister, logger)
		first, err := store.Replace(context.Background(), validDocs)
		require.NoError(t, err)
		second, err := store.Replace(context.Background(), validDocs[:1])
		require.NoError(t, err)
		assert.Greater(t, second.Generation, first.Generation)
	})
}

func TestRuleStore_SlowSaveBlocksOnlyWriters(t *testing.T) {
	persister := new(MockPersister)
	started := make(chan struct{})
	release := make(chan struct{})
	persister.On("SaveRules", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(nil).Once()

	store := NewRuleStore(persister, logging.GetGlobalLogger())
	done := make(chan error, 1)
	go func() {
		_, err := store.Replace(context.Background(), []models.RuleDocument{
			{Rule: "PatientID == 'P1'", Destinations: []string{"pacs"}},
		})
		done <- err
	}()
	<-started

	// the save is in flight: readers see the previous set, invalid updates are rejected at once
	assert.Equal(t, uint64(0), store.Current().Generation)
	_, err := store.Replace(context.Background(), []models.RuleDocument{
		{Rule: "PatientID ==", Destinations: []string{"pacs"}},
	})
	assert.True(t, errors.IsType(err, errors.ErrTypeCompilation))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, uint64(1), store.Current().Generation)
	persister.AssertNumberOfCalls(t, "SaveRules", 1)
}

func TestRuleStore_Reload(t *testing.T) {
	logger := logging.GetGlobalLogger()
	changed := []models.RuleDocument{{Rule: "Modality == 'US'", Destinations: []string{"ultrasound"}}}

	persister := new(MockPersister)
	persister.On("LoadRules", mock.Anything).Return(validDocs, nil).Twice()
	persister.On("LoadRules", mock.Anything).Return(changed, nil).Once()
	persister.On("LoadRules", mock.Anything).Return([]models.RuleDocument{{Rule: "(", Destinations: nil}}, nil).Once()

	store := NewRuleStore(persister, logger)
	loaded, err := store.Load(context.Background())
	require.NoError(t, err)

	same, err := store.Reload(context.Background())
	require.NoError(t, err)
	assert.Same(t, loaded, same)

	reloaded, err := store.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, changed, reloaded.Documents())
	assert.Greater(t, reloaded.Generation, loaded.Generation)

	kept, err := store.Reload(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrTypeCompilation))
	assert.Same(t, reloaded, kept)
	assert.Same(t, reloaded, store.Current())
}

func TestRuleStore_RoundTripThroughFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dicom-routing-rules.json")
	logger := logging.GetGlobalLogger()

	writer := NewRuleStore(file.NewRuleFile(path), logger)
	_, err := writer.Replace(context.Background(), validDocs)
	require.NoError(t, err)

	reader := NewRuleStore(file.NewRuleFile(path), logger)
	set, err := reader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, validDocs, set.Documents())
}

func TestRuleStore_ReadersSeeWholeSets(t *testing.T) {
	persister := new(MockPersister)
	persister.On("SaveRules", mock.Anything, mock.Anything).Return(nil)
	store := NewRuleStore(persister, logging.GetGlobalLogger())

	setA := []models.RuleDocument{
		{Rule: "Modality == 'A'", Destinations: []string{"a"}},
		{Rule: "Modality == 'A'", Destinations: []string{"a"}},
	}
	setB := []models.RuleDocument{
		{Rule: "Modality == 'B'", Destinations: []string{"b"}},
		{Rule: "Modality == 'B'", Destinations: []string{"b"}},
		{Rule: "Modality == 'B'", Destinations: []string{"b"}},
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				docs := store.Current().Documents()
				if len(docs) == 0 {
					continue
				}
				for _, d := range docs {
					if d.Rule != docs[0].Rule {
						t.Errorf("observed a mixed rule set: %v", docs)
						return
					}
				}
				if (docs[0].Rule == setA[0].Rule && len(docs) != 2) || (docs[0].Rule == setB[0].Rule && len(docs) != 3) {
					t.Errorf("observed a partial rule set: %v", docs)
					return
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		docs := setA
		if i%2 == 1 {
			docs = setB
		}
		_, err := store.Replace(context.Background(), docs)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}
