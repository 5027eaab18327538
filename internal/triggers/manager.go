package triggers

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"dicom-router/internal/common/logging"
)

// TriggerStatus is the externally visible state of one trigger
type TriggerStatus struct {
	Name          string     `json:"name"`
	Type          string     `json:"type"`
	Running       bool       `json:"running"`
	LastExecution *time.Time `json:"last_execution,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Manager starts and stops a fixed set of triggers together
type Manager struct {
	triggers []Trigger
	logger   logging.Logger
	mu       sync.Mutex
}

func NewManager(logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Manager{
		logger: logger.WithFields(logging.Field{Key: "component", Value: "trigger_manager"}),
	}
}

// Add registers a trigger. Triggers added after Start are not started.
func (m *Manager) Add(trigger Trigger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers = append(m.triggers, trigger)
}

// Start starts every trigger. If one fails to start, the ones already started
// are stopped again.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, trigger := range m.triggers {
		if err := trigger.Start(ctx); err != nil {
			for _, started := range m.triggers[:i] {
				started.Stop()
			}
			return fmt.Errorf("failed to start trigger %s: %w", trigger.Name(), err)
		}
	}

	m.logger.Info("Triggers started", logging.Field{Key: "count", Value: len(m.triggers)})
	return nil
}

// Stop stops every running trigger
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, trigger := range m.triggers {
		if err := trigger.Stop(); err != nil && !stderrors.Is(err, ErrTriggerNotRunning) {
			errs = append(errs, fmt.Errorf("%s: %w", trigger.Name(), err))
		}
	}
	return stderrors.Join(errs...)
}

// Status reports every trigger in registration order
func (m *Manager) Status() []TriggerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make([]TriggerStatus, 0, len(m.triggers))
	for _, trigger := range m.triggers {
		status := TriggerStatus{
			Name:          trigger.Name(),
			Type:          trigger.Type(),
			Running:       trigger.IsRunning(),
			LastExecution: trigger.LastExecution(),
		}
		if err := trigger.Health(); err != nil {
			status.Error = err.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Health returns the first unhealthy trigger's error
func (m *Manager) Health() error {
	for _, status := range m.Status() {
		if status.Error != "" {
			return fmt.Errorf("trigger %s: %s", status.Name, status.Error)
		}
	}
	return nil
}
