package routing

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"dicom-router/internal/common/errors"
	"dicom-router/internal/common/logging"
	"dicom-router/internal/models"
	"dicom-router/internal/storage"
)

// RuleStore owns the active rule set. Current is lock-free; Load, Replace and
// Reload are serialized among themselves.
type RuleStore struct {
	persister storage.RulePersister
	notifier  ChangeNotifier
	logger    logging.Logger

	current atomic.Pointer[RuleSet]
	mu      sync.Mutex
	now     func() time.Time
}

// NewRuleStore creates a store holding an empty rule set. Call Load to read the
// persisted rules.
func NewRuleStore(persister storage.RulePersister, logger logging.Logger) *RuleStore {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	s := &RuleStore{
		persister: persister,
		logger:    logger.WithFields(logging.Field{Key: "component", Value: "rule_store"}),
		now:       time.Now,
	}
	s.current.Store(emptyRuleSet(0, s.now()))
	return s
}

// SetNotifier registers a notifier called after every persisted replace
func (s *RuleStore) SetNotifier(notifier ChangeNotifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = notifier
}

// Current returns the active snapshot. Safe for concurrent use with every other method.
func (s *RuleStore) Current() *RuleSet {
	return s.current.Load()
}

// Load reads the persisted rules and installs them. Any failure installs an
// empty rule set instead; the error is returned for the caller to report but
// the store remains usable.
func (s *RuleStore) Load(ctx context.Context) (*RuleSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.persister.LoadRules(ctx)
	if err != nil {
		if stderrors.Is(err, storage.ErrNoRules) {
			s.logger.Info("No persisted rule set, starting with an empty one")
			return s.installLocked(nil), nil
		}
		s.logger.Error("Failed to read persisted rule set, starting with an empty one", err)
		return s.installLocked(nil), errors.PersistenceError("failed to read persisted rule set", err)
	}

	rules, err := compileRules(docs)
	if err != nil {
		s.logger.Error("Persisted rule set does not compile, starting with an empty one", err)
		return s.installLocked(nil), err
	}

	set := s.installLocked(rules)
	s.logger.Info("Rule set loaded",
		logging.Field{Key: "rules", Value: set.Len()},
		logging.Field{Key: "generation", Value: set.Generation},
	)
	return set, nil
}

// Replace compiles docs, persists them and installs the result. If any rule does
// not compile nothing changes and a compilation error is returned. If the
// rules cannot be persisted they are still installed and the returned error is
// a persistence error accompanying the new set.
//
// Compilation happens before the writer lock. The lock is held across the save
// so the persisted and the active set always come from the same writer;
// readers never take it.
func (s *RuleStore) Replace(ctx context.Context, docs []models.RuleDocument) (*RuleSet, error) {
	rules, err := compileRules(docs)
	if err != nil {
		s.logger.Warn("Rejected rule set update",
			logging.Field{Key: "error", Value: err.Error()},
		)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set := &RuleSet{rules: rules}
	saveErr := s.persister.SaveRules(ctx, set.Documents())

	set = s.installLocked(rules)
	if saveErr != nil {
		s.logger.Error("Rule set installed but not persisted", saveErr,
			logging.Field{Key: "generation", Value: set.Generation},
		)
		return set, errors.PersistenceError("rule set is active but was not persisted", saveErr)
	}

	s.logger.Info("Rule set replaced",
		logging.Field{Key: "rules", Value: set.Len()},
		logging.Field{Key: "generation", Value: set.Generation},
	)

	if s.notifier != nil {
		if err := s.notifier.PublishRulesChanged(ctx, set.Generation); err != nil {
			s.logger.Warn("Failed to announce rule set change",
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
	}
	return set, nil
}

// Reload re-reads the persisted rules, typically after another instance
// announced a change. Unlike Load, a failure keeps the active set. Identical
// rules are not reinstalled.
func (s *RuleStore) Reload(ctx context.Context) (*RuleSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.persister.LoadRules(ctx)
	if err != nil && !stderrors.Is(err, storage.ErrNoRules) {
		return s.current.Load(), errors.PersistenceError("failed to reload rule set", err)
	}

	active := s.current.Load()
	if sameDocuments(docs, active.Documents()) {
		return active, nil
	}

	rules, err := compileRules(docs)
	if err != nil {
		s.logger.Warn("Reloaded rule set does not compile, keeping the active one",
			logging.Field{Key: "error", Value: err.Error()},
		)
		return active, err
	}

	set := s.installLocked(rules)
	s.logger.Info("Rule set reloaded",
		logging.Field{Key: "rules", Value: set.Len()},
		logging.Field{Key: "generation", Value: set.Generation},
	)
	return set, nil
}

// installLocked builds the next generation from rules and swaps it in. s.mu must be held.
func (s *RuleStore) installLocked(rules []Rule) *RuleSet {
	set := &RuleSet{
		rules:       rules,
		Generation:  s.current.Load().Generation + 1,
		ActivatedAt: s.now(),
	}
	s.current.Store(set)
	return set
}
