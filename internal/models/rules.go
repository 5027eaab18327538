// Package models holds the wire and storage shapes shared between packages.
package models

import "time"

// RuleDocument is the external form of a routing rule, used by the administration
// endpoint and by every persistence backend. The compiled predicate is never part of it.
type RuleDocument struct {
	Rule         string   `json:"rule"`
	Destinations []string `json:"destinations"`
}

// CloneRuleDocuments deep-copies docs so callers cannot alias a stored rule set
func CloneRuleDocuments(docs []RuleDocument) []RuleDocument {
	out := make([]RuleDocument, len(docs))
	for i, d := range docs {
		out[i] = RuleDocument{
			Rule:         d.Rule,
			Destinations: append([]string{}, d.Destinations...),
		}
	}
	return out
}

// DispatchRecord is one audit log row: the outcome of forwarding a study to one destination
type DispatchRecord struct {
	ID          int64         `json:"id"`
	EventID     string        `json:"event_id"`
	StudyID     string        `json:"study_id"`
	Destination string        `json:"destination"`
	Generation  uint64        `json:"generation"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Attempts    int           `json:"attempts"`
	Duration    time.Duration `json:"duration_ms"`
	CreatedAt   time.Time     `json:"created_at"`
}
