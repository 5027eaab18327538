package triggers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingTrigger struct {
	*BaseTrigger
	startErr  error
	healthErr error
}

func newBlockingTrigger(name string) *blockingTrigger {
	return &blockingTrigger{BaseTrigger: NewBaseTrigger("test", name, nil)}
}

func (b *blockingTrigger) Start(ctx context.Context) error {
	if b.startErr != nil {
		return b.startErr
	}
	return b.Run(ctx, func(ctx context.Context) error {
		b.UpdateLastExecution(time.Now())
		<-ctx.Done()
		return nil
	})
}

func (b *blockingTrigger) Health() error {
	if !b.IsRunning() {
		return ErrTriggerNotRunning
	}
	return b.healthErr
}

func TestBaseTrigger_Lifecycle(t *testing.T) {
	base := NewBaseTrigger("test", "lifecycle", nil)
	assert.Equal(t, "lifecycle", base.Name())
	assert.Equal(t, "test", base.Type())
	assert.False(t, base.IsRunning())
	assert.Nil(t, base.LastExecution())
	assert.ErrorIs(t, base.Stop(), ErrTriggerNotRunning)

	started := make(chan struct{})
	require.NoError(t, base.Run(context.Background(), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}))
	<-started

	assert.True(t, base.IsRunning())
	assert.ErrorIs(t, base.Run(context.Background(), func(context.Context) error { return nil }), ErrTriggerAlreadyRunning)

	require.NoError(t, base.Stop())
	assert.False(t, base.IsRunning())
}

func TestBaseTrigger_RunFunctionReturns(t *testing.T) {
	base := NewBaseTrigger("test", "short", nil)
	require.NoError(t, base.Run(context.Background(), func(context.Context) error {
		return errors.New("boom")
	}))

	assert.Eventually(t, func() bool {
		return !base.IsRunning()
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, base.Stop(), ErrTriggerNotRunning)
}

func TestBaseTrigger_ParentContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	base := NewBaseTrigger("test", "parent", nil)
	require.NoError(t, base.Run(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	cancel()
	assert.Eventually(t, func() bool {
		return !base.IsRunning()
	}, time.Second, 5*time.Millisecond)
}

func TestManager(t *testing.T) {
	first := newBlockingTrigger("first")
	second := newBlockingTrigger("second")

	manager := NewManager(nil)
	manager.Add(first)
	manager.Add(second)

	require.NoError(t, manager.Start(context.Background()))
	assert.True(t, first.IsRunning())
	assert.True(t, second.IsRunning())
	assert.NoError(t, manager.Health())

	second.healthErr = errors.New("not connected")
	statuses := manager.Status()
	require.Len(t, statuses, 2)
	assert.Equal(t, "first", statuses[0].Name)
	assert.True(t, statuses[0].Running)
	assert.Empty(t, statuses[0].Error)
	assert.Equal(t, "not connected", statuses[1].Error)
	assert.ErrorContains(t, manager.Health(), "second")

	require.NoError(t, manager.Stop())
	assert.False(t, first.IsRunning())
	assert.False(t, second.IsRunning())

	// stopping again is not an error
	assert.NoError(t, manager.Stop())
}

func TestManager_StartFailureStopsStarted(t *testing.T) {
	first := newBlockingTrigger("first")
	broken := newBlockingTrigger("broken")
	broken.startErr = ErrInvalidTriggerConfig

	manager := NewManager(nil)
	manager.Add(first)
	manager.Add(broken)

	err := manager.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTriggerConfig)
	assert.Contains(t, err.Error(), "broken")
	assert.False(t, first.IsRunning())
}
