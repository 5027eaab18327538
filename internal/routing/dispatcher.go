package routing

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"dicom-router/internal/circuitbreaker"
	"dicom-router/internal/common/errors"
	"dicom-router/internal/common/logging"
	"dicom-router/internal/common/utils"
	"dicom-router/internal/models"
	"dicom-router/internal/storage"
)

// ForwardOptions are the transfer settings sent with every forward request
type ForwardOptions struct {
	Compress          bool
	Permissive        bool
	Priority          int
	Synchronous       bool
	Asynchronous      bool
	MoveOriginatorAet string
	MoveOriginatorID  int
	StorageCommitment bool
}

func DefaultForwardOptions() ForwardOptions {
	return ForwardOptions{
		Compress:          true,
		Permissive:        true,
		Priority:          0,
		Synchronous:       false,
		Asynchronous:      false,
		MoveOriginatorAet: "MoveOriginatorAet",
		MoveOriginatorID:  0,
		StorageCommitment: false,
	}
}

// Request builds the store request for one study
func (o ForwardOptions) Request(studyID string) models.StoreRequest {
	return models.StoreRequest{
		Resources:         []string{studyID},
		Asynchronous:      o.Asynchronous,
		Compress:          o.Compress,
		Permissive:        o.Permissive,
		Priority:          o.Priority,
		Synchronous:       o.Synchronous,
		MoveOriginatorAet: o.MoveOriginatorAet,
		MoveOriginatorID:  o.MoveOriginatorID,
		StorageCommitment: o.StorageCommitment,
	}
}

type DispatcherConfig struct {
	Options ForwardOptions
	// Timeout bounds every single forward attempt
	Timeout time.Duration
	// Concurrency is the number of destinations contacted in parallel
	Concurrency int
	Retry       utils.RetryConfig
}

func DefaultDispatcherConfig() DispatcherConfig {
	retry := utils.DefaultRetryConfig()
	retry.MaxAttempts = 1
	return DispatcherConfig{
		Options:     DefaultForwardOptions(),
		Timeout:     60 * time.Second,
		Concurrency: 4,
		Retry:       retry,
	}
}

// Event identifies the triggering event a dispatch belongs to
type Event struct {
	ID         string
	StudyID    string
	Generation uint64
}

// DispatchOutcome is the result for one destination. Err is nil on success and
// otherwise a dispatch AppError wrapping the cause.
type DispatchOutcome struct {
	Destination string        `json:"destination"`
	Err         error         `json:"-"`
	Error       string        `json:"error,omitempty"`
	TimedOut    bool          `json:"timed_out,omitempty"`
	Attempts    int           `json:"attempts"`
	Duration    time.Duration `json:"duration"`
}

// OK reports whether the forward request succeeded
func (o DispatchOutcome) OK() bool {
	return o.Err == nil
}

// Dispatcher forwards a study to a list of destinations, isolating failures per destination
type Dispatcher struct {
	forwarder Forwarder
	config    DispatcherConfig
	breakers  *circuitbreaker.Manager
	audit     storage.DispatchLog
	metrics   *Metrics
	logger    logging.Logger
}

type DispatcherOption func(*Dispatcher)

// WithBreakers guards every destination with its own circuit breaker
func WithBreakers(manager *circuitbreaker.Manager) DispatcherOption {
	return func(d *Dispatcher) {
		d.breakers = manager
	}
}

// WithAuditLog records every outcome
func WithAuditLog(audit storage.DispatchLog) DispatcherOption {
	return func(d *Dispatcher) {
		d.audit = audit
	}
}

// WithMetrics shares a metrics collector with the engine
func WithMetrics(metrics *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

func NewDispatcher(forwarder Forwarder, config DispatcherConfig, logger logging.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry.MaxAttempts = 1
	}

	d := &Dispatcher{
		forwarder: forwarder,
		config:    config,
		logger:    logger.WithFields(logging.Field{Key: "component", Value: "dispatcher"}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = NewMetrics()
	}
	return d
}

// Dispatch forwards studyID to every destination, once per unique destination
func (d *Dispatcher) Dispatch(ctx context.Context, studyID string, destinations []string) []DispatchOutcome {
	return d.DispatchEvent(ctx, Event{
		ID:      utils.GenerateEventID("dispatch", studyID),
		StudyID: studyID,
	}, destinations)
}

// DispatchEvent is Dispatch with the caller's event identity recorded in the audit log.
// Outcomes are returned in first-seen destination order once every destination
// has been attempted.
func (d *Dispatcher) DispatchEvent(ctx context.Context, event Event, destinations []string) []DispatchOutcome {
	unique := Deduplicate(destinations)
	outcomes := make([]DispatchOutcome, len(unique))
	if len(unique) == 0 {
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(d.config.Concurrency)
	for i, destination := range unique {
		i, destination := i, destination
		g.Go(func() error {
			outcomes[i] = d.forwardOne(ctx, event, destination)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (d *Dispatcher) forwardOne(ctx context.Context, event Event, destination string) (outcome DispatchOutcome) {
	start := time.Now()
	outcome.Destination = destination
	logger := d.logger.WithFields(
		logging.Field{Key: "study_id", Value: event.StudyID},
		logging.Field{Key: "destination", Value: destination},
	)

	defer func() {
		if r := recover(); r != nil {
			outcome.Err = errors.DispatchError(destination, fmt.Errorf("forward panicked: %v", r))
		}
		outcome.Duration = time.Since(start)
		if outcome.Err != nil {
			outcome.Error = outcome.Err.Error()
		}
		d.finish(ctx, event, outcome, logger)
	}()

	request := d.config.Options.Request(event.StudyID)
	attempt := func() error {
		outcome.Attempts++
		return d.attempt(ctx, destination, request)
	}

	guarded := attempt
	if d.breakers != nil {
		guarded = func() error {
			return d.breakers.Execute(ctx, destination, attempt)
		}
	}

	retry := d.config.Retry
	retry.RetryableErrors = retryable
	err := utils.RetryWithBackoff(ctx, retry, guarded)
	if err != nil {
		outcome.TimedOut = errors.IsType(err, errors.ErrTypeTimeout)
		outcome.Err = errors.DispatchError(destination, err)
	}
	return outcome
}

// attempt issues one forward request bounded by the configured timeout
func (d *Dispatcher) attempt(ctx context.Context, destination string, request models.StoreRequest) error {
	callCtx := ctx
	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	err := d.forwarder.Forward(callCtx, destination, request)
	if err != nil && ctx.Err() == nil && stderrors.Is(callCtx.Err(), context.DeadlineExceeded) {
		timeout := errors.TimeoutError(fmt.Sprintf("forward to %s", destination))
		timeout.Cause = err
		return timeout
	}
	return err
}

func retryable(err error) bool {
	if stderrors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	switch errors.GetType(err) {
	case errors.ErrTypeConnection, errors.ErrTypeTimeout, errors.ErrTypeInternal:
		return true
	}
	return false
}

func (d *Dispatcher) finish(ctx context.Context, event Event, outcome DispatchOutcome, logger logging.Logger) {
	d.metrics.recordDispatch(outcome.Destination, outcome.Duration, outcome.Err)

	if outcome.Err != nil {
		logger.Error("Forward failed", outcome.Err,
			logging.Field{Key: "attempts", Value: outcome.Attempts},
			logging.Field{Key: "timed_out", Value: outcome.TimedOut},
			logging.Field{Key: "duration_ms", Value: outcome.Duration.Milliseconds()},
		)
	} else {
		logger.Info("Study forwarded",
			logging.Field{Key: "attempts", Value: outcome.Attempts},
			logging.Field{Key: "duration_ms", Value: outcome.Duration.Milliseconds()},
		)
	}

	if d.audit == nil {
		return
	}

	record := &models.DispatchRecord{
		EventID:     event.ID,
		StudyID:     event.StudyID,
		Destination: outcome.Destination,
		Generation:  event.Generation,
		Success:     outcome.Err == nil,
		Attempts:    outcome.Attempts,
		Duration:    outcome.Duration,
		CreatedAt:   time.Now().UTC(),
	}
	if outcome.Err != nil {
		record.Error = outcome.Err.Error()
	}

	// the event context may already be cancelled; the audit row is still wanted
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.audit.RecordDispatch(auditCtx, record); err != nil {
		logger.Warn("Failed to record dispatch",
			logging.Field{Key: "error", Value: err.Error()},
		)
	}
}

// Metrics returns the collector shared with the engine
func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}

// BreakerStats returns the per-destination circuit breaker states, or nil without breakers
func (d *Dispatcher) BreakerStats() []circuitbreaker.Stats {
	if d.breakers == nil {
		return nil
	}
	return d.breakers.AllStats()
}
