package routing

import "errors"

var (
	// ErrInvalidRuleSet is returned when an administration body is not a JSON array of rules
	ErrInvalidRuleSet = errors.New("invalid rule set")
)
