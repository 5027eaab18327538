// Package schedule runs a job on a cron schedule, optionally guarded so only one
// router instance runs each occurrence.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"dicom-router/internal/common/logging"
	"dicom-router/internal/common/validation"
	"dicom-router/internal/triggers"
)

// Job is the scheduled work
type Job func(ctx context.Context) error

// Guard claims one occurrence of the job; false means another instance has it
type Guard func(ctx context.Context, key string) (bool, error)

// Trigger implements the cron scheduled trigger
type Trigger struct {
	*triggers.BaseTrigger
	config *Config
	job    Job

	mu        sync.RWMutex
	guard     Guard
	scheduler *cron.Cron
	entryID   cron.EntryID
	runCount  int
	lastError error
}

func NewTrigger(config *Config, job Job, logger logging.Logger) (*Trigger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Trigger{
		BaseTrigger: triggers.NewBaseTrigger("schedule", config.Name, logger),
		config:      config,
		job:         job,
	}, nil
}

// SetGuard makes every occurrence claim its run first
func (t *Trigger) SetGuard(guard Guard) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.guard = guard
}

func (t *Trigger) Start(ctx context.Context) error {
	return t.Run(ctx, t.run)
}

func (t *Trigger) run(ctx context.Context) error {
	scheduler := cron.New(
		cron.WithParser(validation.CronParser),
		cron.WithLocation(t.config.location()),
	)
	entryID, err := scheduler.AddFunc(t.config.CronSpec, func() {
		t.Execute(ctx)
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.scheduler = scheduler
	t.entryID = entryID
	t.mu.Unlock()

	scheduler.Start()
	t.Logger().Info("Schedule trigger started",
		logging.Field{Key: "cron_spec", Value: t.config.CronSpec},
		logging.Field{Key: "next_execution", Value: t.NextExecution()},
	)

	<-ctx.Done()
	<-scheduler.Stop().Done()

	t.mu.Lock()
	t.scheduler = nil
	t.mu.Unlock()
	return nil
}

// NextExecution returns the next scheduled run, or nil when not running
func (t *Trigger) NextExecution() *time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.scheduler == nil {
		return nil
	}
	next := t.scheduler.Entry(t.entryID).Next
	if next.IsZero() {
		return nil
	}
	return &next
}

// RunCount returns how many times the job ran on this instance
func (t *Trigger) RunCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.runCount
}

// Execute runs one occurrence of the job now
func (t *Trigger) Execute(ctx context.Context) {
	now := time.Now()
	t.UpdateLastExecution(now)

	t.mu.RLock()
	guard := t.guard
	t.mu.RUnlock()

	if guard != nil {
		key := t.config.Name + ":" + now.UTC().Truncate(time.Minute).Format(time.RFC3339)
		claimed, err := guard(ctx, key)
		if err != nil {
			t.Logger().Warn("Schedule guard failed, running anyway",
				logging.Field{Key: "error", Value: err.Error()},
			)
		} else if !claimed {
			t.Logger().Debug("Scheduled run claimed by another instance", logging.Field{Key: "key", Value: key})
			return
		}
	}

	err := t.job(ctx)

	t.mu.Lock()
	t.runCount++
	t.lastError = err
	t.mu.Unlock()

	if err != nil {
		t.Logger().Error("Scheduled job failed", err)
		return
	}
	t.Logger().Debug("Scheduled job finished", logging.Field{Key: "duration_ms", Value: time.Since(now).Milliseconds()})
}

func (t *Trigger) Health() error {
	if !t.IsRunning() {
		return triggers.ErrTriggerNotRunning
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastError
}
