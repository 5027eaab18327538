// Package polling follows the archive's change log and hands every stable
// study to the routing engine.
package polling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dicom-router/internal/common/logging"
	"dicom-router/internal/models"
	"dicom-router/internal/triggers"
)

// ChangeSource reads the archive's change log
type ChangeSource interface {
	Changes(ctx context.Context, since int64, limit int) (*models.ChangesPage, error)
	LastChange(ctx context.Context) (int64, error)
}

// Trigger implements the change log polling trigger
type Trigger struct {
	*triggers.BaseTrigger
	config  *Config
	source  ChangeSource
	handler triggers.StudyHandler

	mu                sync.RWMutex
	since             int64
	positioned        bool
	consecutiveErrors int
	lastError         error
}

func NewTrigger(config *Config, source ChangeSource, handler triggers.StudyHandler, logger logging.Logger) (*Trigger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Trigger{
		BaseTrigger: triggers.NewBaseTrigger("polling", config.Name, logger),
		config:      config,
		source:      source,
		handler:     handler,
		positioned:  !config.StartFromLast,
	}, nil
}

func (t *Trigger) Start(ctx context.Context) error {
	return t.Run(ctx, t.pollLoop)
}

// Since returns the sequence number of the last change read
func (t *Trigger) Since() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.since
}

func (t *Trigger) Health() error {
	if !t.IsRunning() {
		return triggers.ErrTriggerNotRunning
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.consecutiveErrors >= t.config.MaxConsecutiveErrors {
		return fmt.Errorf("too many consecutive errors: %d: %v", t.consecutiveErrors, t.lastError)
	}
	return nil
}

func (t *Trigger) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	t.executePoll(ctx)
	for {
		select {
		case <-ticker.C:
			t.executePoll(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (t *Trigger) executePoll(ctx context.Context) {
	t.UpdateLastExecution(time.Now())

	_, err := t.Poll(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil && ctx.Err() == nil {
		t.consecutiveErrors++
		t.lastError = err
		t.Logger().Warn("Change log poll failed",
			logging.Field{Key: "error", Value: err.Error()},
			logging.Field{Key: "consecutive_errors", Value: t.consecutiveErrors},
		)
		return
	}
	t.consecutiveErrors = 0
	t.lastError = nil
}

// Poll drains the change log from the current position and returns the number
// of stable studies handed to the handler. Handler failures are logged and do
// not stop the poll.
func (t *Trigger) Poll(ctx context.Context) (int, error) {
	if err := t.position(ctx); err != nil {
		return 0, err
	}

	handled := 0
	for ctx.Err() == nil {
		page, err := t.source.Changes(ctx, t.Since(), t.config.BatchSize)
		if err != nil {
			return handled, fmt.Errorf("reading changes since %d: %w", t.Since(), err)
		}

		for _, change := range page.Changes {
			if change.ChangeType != models.ChangeTypeStableStudy {
				continue
			}
			handled++
			if err := t.handler(ctx, change.ID); err != nil {
				t.Logger().Error("Stable study handling failed", err,
					logging.Field{Key: "study_id", Value: change.ID},
					logging.Field{Key: "seq", Value: change.Seq},
				)
			}
		}

		t.mu.Lock()
		if page.Last > t.since {
			t.since = page.Last
		}
		t.mu.Unlock()

		if page.Done || len(page.Changes) == 0 {
			break
		}
	}
	return handled, nil
}

// position moves to the end of the change log the first time it is called,
// when configured to ignore history
func (t *Trigger) position(ctx context.Context) error {
	t.mu.RLock()
	positioned := t.positioned
	t.mu.RUnlock()
	if positioned {
		return nil
	}

	last, err := t.source.LastChange(ctx)
	if err != nil {
		return fmt.Errorf("reading last change: %w", err)
	}

	t.mu.Lock()
	t.since = last
	t.positioned = true
	t.mu.Unlock()

	t.Logger().Info("Following change log", logging.Field{Key: "since", Value: last})
	return nil
}
