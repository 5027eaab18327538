package routing

import (
	"fmt"
	"time"

	"dicom-router/internal/common/errors"
	"dicom-router/internal/dicom"
	"dicom-router/internal/models"
	"dicom-router/internal/routing/predicate"
)

// Rule is one compiled routing rule. The predicate text is the source of truth;
// the compiled expression is rebuilt from it whenever a rule set is installed.
type Rule struct {
	Predicate    string
	Destinations []string

	expr *predicate.Expression
}

// Matches evaluates the compiled predicate against attrs
func (r *Rule) Matches(attrs dicom.Attributes) bool {
	if r.expr == nil {
		return false
	}
	return r.expr.Eval(attrs)
}

// RuleSet is an immutable ordered list of rules. A new RuleSet, with a higher
// generation, is built for every change.
type RuleSet struct {
	rules       []Rule
	Generation  uint64
	ActivatedAt time.Time
}

func emptyRuleSet(generation uint64, at time.Time) *RuleSet {
	return &RuleSet{Generation: generation, ActivatedAt: at}
}

// Len returns the number of rules
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Rule returns the i-th rule. The returned value shares no slices with the set.
func (s *RuleSet) Rule(i int) Rule {
	r := s.rules[i]
	r.Destinations = append([]string{}, r.Destinations...)
	return r
}

// Documents returns the external form of the set, in order
func (s *RuleSet) Documents() []models.RuleDocument {
	docs := make([]models.RuleDocument, s.Len())
	for i := range docs {
		r := s.rules[i]
		docs[i] = models.RuleDocument{
			Rule:         r.Predicate,
			Destinations: append([]string{}, r.Destinations...),
		}
	}
	return docs
}

// compileRules compiles every document. The first failure is returned as a
// compilation error carrying the zero-based rule index.
func compileRules(docs []models.RuleDocument) ([]Rule, error) {
	rules := make([]Rule, len(docs))
	for i, doc := range docs {
		expr, err := predicate.Compile(doc.Rule)
		if err != nil {
			return nil, errors.CompilationError(
				fmt.Sprintf("rule %d does not compile", i), err,
			).WithContext("rule_index", i)
		}
		rules[i] = Rule{
			Predicate:    doc.Rule,
			Destinations: append([]string{}, doc.Destinations...),
			expr:         expr,
		}
	}
	return rules, nil
}

func sameDocuments(a, b []models.RuleDocument) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Rule != b[i].Rule || len(a[i].Destinations) != len(b[i].Destinations) {
			return false
		}
		for j := range a[i].Destinations {
			if a[i].Destinations[j] != b[i].Destinations[j] {
				return false
			}
		}
	}
	return true
}
