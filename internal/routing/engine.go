package routing

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"dicom-router/internal/common/errors"
	"dicom-router/internal/common/logging"
	"dicom-router/internal/common/utils"
	"dicom-router/internal/common/validation"
	"dicom-router/internal/dicom"
	"dicom-router/internal/models"
)

// RouteResult describes the handling of one study
type RouteResult struct {
	EventID      string            `json:"event_id"`
	StudyID      string            `json:"study_id"`
	Generation   uint64            `json:"generation"`
	DryRun       bool              `json:"dry_run,omitempty"`
	Skipped      bool              `json:"skipped,omitempty"`
	Attributes   dicom.Attributes  `json:"attributes,omitempty"`
	MatchedRules []int             `json:"matched_rules"`
	Destinations []string          `json:"destinations"`
	Outcomes     []DispatchOutcome `json:"outcomes,omitempty"`
	Duration     time.Duration     `json:"duration"`
}

// Succeeded and Failed count dispatch outcomes
func (r *RouteResult) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.OK() {
			n++
		}
	}
	return n
}

func (r *RouteResult) Failed() int {
	return len(r.Outcomes) - r.Succeeded()
}

// AdminResponse is a transport-neutral HTTP answer of the administration endpoint
type AdminResponse struct {
	StatusCode  int
	ContentType string
	Allow       string
	Body        []byte
}

const (
	contentTypeJSON = "application/json"
	contentTypeText = "text/plain; charset=utf-8"
)

// Engine ties the rule store, the metadata source and the dispatcher together
// behind the three host entry points.
type Engine struct {
	store      *RuleStore
	metadata   MetadataSource
	dispatcher *Dispatcher
	claimer    EventClaimer
	metrics    *Metrics
	readOnly   bool
	logger     logging.Logger

	// forward-all mode: rules are not evaluated
	forwardAll   bool
	lister       DestinationLister
	destinations atomic.Pointer[[]string]
}

type EngineOption func(*Engine)

// WithReadOnly makes the administration endpoint refuse updates
func WithReadOnly(readOnly bool) EngineOption {
	return func(e *Engine) {
		e.readOnly = readOnly
	}
}

// WithEventClaimer skips stable-study events already handled by another instance
func WithEventClaimer(claimer EventClaimer) EngineOption {
	return func(e *Engine) {
		e.claimer = claimer
	}
}

// WithForwardAll sends every stable study to every destination instead of
// evaluating rules. An empty list is read from lister at start-up.
func WithForwardAll(destinations []string, lister DestinationLister) EngineOption {
	return func(e *Engine) {
		e.forwardAll = true
		e.lister = lister
		if len(destinations) > 0 {
			list := Deduplicate(destinations)
			e.destinations.Store(&list)
		}
	}
}

func NewEngine(store *RuleStore, metadata MetadataSource, dispatcher *Dispatcher, logger logging.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	e := &Engine{
		store:      store,
		metadata:   metadata,
		dispatcher: dispatcher,
		metrics:    dispatcher.Metrics(),
		logger:     logger.WithFields(logging.Field{Key: "component", Value: "engine"}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnServerStarted loads the persisted rule set and, in forward-all mode, the
// destination list. A load failure leaves an empty rule set active and is
// returned only so the caller can report it.
func (e *Engine) OnServerStarted(ctx context.Context) error {
	set, err := e.store.Load(ctx)
	e.logger.Info("Routing engine started",
		logging.Field{Key: "rules", Value: set.Len()},
		logging.Field{Key: "generation", Value: set.Generation},
		logging.Field{Key: "read_only", Value: e.readOnly},
	)

	if e.forwardAll {
		destinations, listErr := e.forwardAllDestinations(ctx)
		if listErr != nil {
			return stderrors.Join(err, listErr)
		}
		e.logger.Info("Forwarding every stable study",
			logging.Field{Key: "destinations", Value: destinations},
		)
	}
	return err
}

// forwardAllDestinations returns the forward-all list, reading it from the
// archive until a read succeeds.
func (e *Engine) forwardAllDestinations(ctx context.Context) ([]string, error) {
	if list := e.destinations.Load(); list != nil {
		return append([]string(nil), (*list)...), nil
	}
	if e.lister == nil {
		return []string{}, nil
	}

	names, err := e.lister.ListDestinations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}
	list := Deduplicate(names)
	e.destinations.Store(&list)
	return append([]string(nil), list...), nil
}

// ForwardAll reports whether rules are bypassed
func (e *Engine) ForwardAll() bool {
	return e.forwardAll
}

// OnStudyStable routes a study that stopped receiving instances. It never panics;
// every failure is logged and returned.
func (e *Engine) OnStudyStable(ctx context.Context, studyID string) (*RouteResult, error) {
	if e.claimer != nil {
		claimed, err := e.claimer.ClaimEvent(ctx, studyID)
		switch {
		case err != nil:
			e.logger.Warn("Event claim failed, handling the study anyway",
				logging.Field{Key: "study_id", Value: studyID},
				logging.Field{Key: "error", Value: err.Error()},
			)
		case !claimed:
			e.logger.Debug("Stable study already handled by another instance",
				logging.Field{Key: "study_id", Value: studyID},
			)
			e.metrics.recordEvent(eventSkipped, 0, nil)
			return &RouteResult{StudyID: studyID, Skipped: true, MatchedRules: []int{}, Destinations: []string{}}, nil
		}
	}

	return e.RouteStudy(ctx, studyID, false)
}

// RouteStudy evaluates the active rules for a study and, unless dryRun is set,
// forwards it to the matching destinations.
func (e *Engine) RouteStudy(ctx context.Context, studyID string, dryRun bool) (result *RouteResult, err error) {
	start := time.Now()
	eventID := utils.GenerateEventID("stable", studyID)
	logger := e.logger.WithFields(
		logging.Field{Key: "study_id", Value: studyID},
		logging.Field{Key: "event_id", Value: eventID},
	)

	defer func() {
		if r := recover(); r != nil {
			err = errors.InternalError(fmt.Sprintf("routing study %s panicked: %v", studyID, r), nil)
			logger.Error("Routing aborted", err)
			result = nil
			e.metrics.recordEvent(eventFailed, time.Since(start), nil)
		}
	}()

	var (
		attrs      dicom.Attributes
		evaluation Evaluation
		set        *RuleSet
	)
	if e.forwardAll {
		destinations, err := e.forwardAllDestinations(ctx)
		if err != nil {
			logger.Error("Failed to read the destination list", err)
			e.metrics.recordEvent(eventFailed, time.Since(start), nil)
			return nil, err
		}
		set = e.store.Current()
		evaluation = Evaluation{
			Generation:   set.Generation,
			MatchedRules: []int{},
			Destinations: destinations,
		}
	} else {
		metadata, err := e.metadata.FetchStudy(ctx, studyID)
		if err != nil {
			logger.Error("Failed to fetch study metadata", err)
			e.metrics.recordEvent(eventFailed, time.Since(start), nil)
			return nil, fmt.Errorf("fetch metadata for study %s: %w", studyID, err)
		}

		attrs = dicom.Normalize(dicom.MergeTagGroups(
			metadata.MainDicomTags,
			metadata.PatientMainDicomTags,
			metadata.RequestedTags,
		), logger)

		// one snapshot for the whole event
		set = e.store.Current()
		evaluation = Evaluate(attrs, set)
	}

	result = &RouteResult{
		EventID:      eventID,
		StudyID:      studyID,
		Generation:   evaluation.Generation,
		DryRun:       dryRun,
		MatchedRules: evaluation.MatchedRules,
		Destinations: evaluation.Destinations,
	}
	if dryRun {
		result.Attributes = attrs
		result.Duration = time.Since(start)
		return result, nil
	}

	matched := make([]string, len(evaluation.MatchedRules))
	for i, idx := range evaluation.MatchedRules {
		matched[i] = set.rules[idx].Predicate
	}

	if len(evaluation.Destinations) == 0 {
		logger.Info("No rule matched study",
			logging.Field{Key: "generation", Value: evaluation.Generation},
		)
		result.Duration = time.Since(start)
		e.metrics.recordEvent(eventUnrouted, result.Duration, matched)
		return result, nil
	}

	result.Outcomes = e.dispatcher.DispatchEvent(ctx, Event{
		ID:         eventID,
		StudyID:    studyID,
		Generation: evaluation.Generation,
	}, evaluation.Destinations)
	result.Duration = time.Since(start)

	logger.Info("Study routed",
		logging.Field{Key: "generation", Value: evaluation.Generation},
		logging.Field{Key: "matched_rules", Value: len(evaluation.MatchedRules)},
		logging.Field{Key: "succeeded", Value: result.Succeeded()},
		logging.Field{Key: "failed", Value: result.Failed()},
		logging.Field{Key: "duration_ms", Value: result.Duration.Milliseconds()},
	)
	e.metrics.recordEvent(eventRouted, result.Duration, matched)
	return result, nil
}

// OnAdministrationRequest serves the rule administration endpoint.
// GET returns the active rules; POST replaces them.
func (e *Engine) OnAdministrationRequest(ctx context.Context, method string, body []byte) AdminResponse {
	allow := "GET,POST"
	if e.readOnly {
		allow = "GET"
	}

	switch {
	case method == http.MethodGet:
		return e.rulesResponse(http.StatusOK, e.store.Current())
	case method == http.MethodPost && !e.readOnly:
		return e.replaceRules(ctx, body)
	default:
		return AdminResponse{
			StatusCode:  http.StatusMethodNotAllowed,
			ContentType: contentTypeText,
			Allow:       allow,
			Body:        []byte(http.StatusText(http.StatusMethodNotAllowed) + "\n"),
		}
	}
}

func (e *Engine) replaceRules(ctx context.Context, body []byte) AdminResponse {
	docs, err := ParseRuleDocuments(body)
	if err != nil {
		return textResponse(http.StatusBadRequest, err.Error())
	}

	set, err := e.store.Replace(ctx, docs)
	switch {
	case err == nil:
		return e.rulesResponse(http.StatusOK, set)
	case errors.IsType(err, errors.ErrTypePersistence):
		return textResponse(http.StatusInternalServerError, err.Error())
	default:
		return textResponse(http.StatusBadRequest, err.Error())
	}
}

// ParseRuleDocuments decodes and validates an administration body. The body must
// be a JSON array of {"rule", "destinations"} objects.
func ParseRuleDocuments(body []byte) ([]models.RuleDocument, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: body must be a JSON array", ErrInvalidRuleSet)
	}

	var docs []models.RuleDocument
	if err := json.Unmarshal(trimmed, &docs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRuleSet, err)
	}

	for i, doc := range docs {
		if err := validation.ValidateVar(doc.Destinations, "dive,required"); err != nil {
			return nil, fmt.Errorf("%w: rule %d: destination identifiers must not be empty", ErrInvalidRuleSet, i)
		}
	}
	return docs, nil
}

func (e *Engine) rulesResponse(status int, set *RuleSet) AdminResponse {
	body, err := json.MarshalIndent(set.Documents(), "", "  ")
	if err != nil {
		return textResponse(http.StatusInternalServerError, err.Error())
	}
	return AdminResponse{
		StatusCode:  status,
		ContentType: contentTypeJSON,
		Body:        append(body, '\n'),
	}
}

func textResponse(status int, msg string) AdminResponse {
	return AdminResponse{
		StatusCode:  status,
		ContentType: contentTypeText,
		Body:        []byte(msg + "\n"),
	}
}

// Rules returns the active rule documents
func (e *Engine) Rules() []models.RuleDocument {
	return e.store.Current().Documents()
}

// Store exposes the rule store, used by the change subscriber to reload
func (e *Engine) Store() *RuleStore {
	return e.store
}

// Metrics returns a snapshot of the routing counters
func (e *Engine) Metrics() RouterMetrics {
	return e.metrics.Snapshot()
}

// Dispatcher returns the dispatcher used for stable studies
func (e *Engine) Dispatcher() *Dispatcher {
	return e.dispatcher
}
