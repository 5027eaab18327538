package triggers

import (
	"context"
	"sync"
	"time"

	"dicom-router/internal/common/logging"
)

// StudyHandler is called for every stable study a trigger observes
type StudyHandler func(ctx context.Context, studyID string) error

// Trigger is a long-running event source
type Trigger interface {
	Name() string
	Type() string
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
	LastExecution() *time.Time
	Health() error
}

// BaseTrigger provides the lifecycle shared by all trigger implementations
type BaseTrigger struct {
	name          string
	triggerType   string
	logger        logging.Logger
	isRunning     bool
	mu            sync.RWMutex
	lastExecution *time.Time
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewBaseTrigger creates a new base trigger instance
func NewBaseTrigger(triggerType, name string, logger logging.Logger) *BaseTrigger {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &BaseTrigger{
		name:        name,
		triggerType: triggerType,
		logger: logger.WithFields(
			logging.Field{Key: "trigger", Value: name},
			logging.Field{Key: "trigger_type", Value: triggerType},
		),
	}
}

// Name returns the trigger name
func (b *BaseTrigger) Name() string {
	return b.name
}

// Type returns the trigger type
func (b *BaseTrigger) Type() string {
	return b.triggerType
}

// Logger returns the trigger's component logger
func (b *BaseTrigger) Logger() logging.Logger {
	return b.logger
}

// IsRunning returns whether the trigger is currently running
func (b *BaseTrigger) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.isRunning
}

// LastExecution returns the last execution time
func (b *BaseTrigger) LastExecution() *time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastExecution == nil {
		return nil
	}
	t := *b.lastExecution
	return &t
}

// UpdateLastExecution updates the last execution time
func (b *BaseTrigger) UpdateLastExecution(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastExecution = &t
}

// Run launches runFunc in its own goroutine until ctx is cancelled or Stop is called
func (b *BaseTrigger) Run(ctx context.Context, runFunc func(context.Context) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isRunning {
		return ErrTriggerAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.isRunning = true
	b.cancel = cancel
	b.done = done

	go func() {
		defer close(done)
		defer func() {
			b.mu.Lock()
			b.isRunning = false
			b.mu.Unlock()
		}()

		if err := runFunc(runCtx); err != nil && runCtx.Err() == nil {
			b.logger.Error("Trigger stopped with error", err)
		}
	}()

	b.logger.Info("Trigger started")
	return nil
}

// Stop cancels the run function and waits for it to return
func (b *BaseTrigger) Stop() error {
	b.mu.Lock()
	if !b.isRunning {
		b.mu.Unlock()
		return ErrTriggerNotRunning
	}
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	cancel()
	<-done

	b.logger.Info("Trigger stopped")
	return nil
}
