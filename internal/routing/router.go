package routing

import (
	"dicom-router/internal/dicom"
)

// Evaluation is the detailed outcome of matching one study against one snapshot
type Evaluation struct {
	Generation   uint64   `json:"generation"`
	MatchedRules []int    `json:"matched_rules"`
	Destinations []string `json:"destinations"`
}

// Route returns the destinations of every rule in set matching attrs, in rule
// order. A destination named by several matching rules appears several times.
func Route(attrs dicom.Attributes, set *RuleSet) []string {
	return Evaluate(attrs, set).Destinations
}

// Evaluate is Route plus the indexes of the matching rules and the snapshot generation
func Evaluate(attrs dicom.Attributes, set *RuleSet) Evaluation {
	result := Evaluation{
		MatchedRules: []int{},
		Destinations: []string{},
	}
	if set == nil {
		return result
	}

	result.Generation = set.Generation
	for i := range set.rules {
		rule := &set.rules[i]
		if !rule.Matches(attrs) {
			continue
		}
		result.MatchedRules = append(result.MatchedRules, i)
		result.Destinations = append(result.Destinations, rule.Destinations...)
	}
	return result
}

// Deduplicate removes repeated destinations, keeping the first occurrence of each
func Deduplicate(destinations []string) []string {
	seen := make(map[string]struct{}, len(destinations))
	unique := make([]string, 0, len(destinations))
	for _, d := range destinations {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		unique = append(unique, d)
	}
	return unique
}
