// Package routing decides which remote destinations receive a copy of a stable
// study and forwards it to each of them.
//
// # Overview
//
// Routing is driven by an ordered list of rules. Each rule pairs a boolean
// predicate over study attributes with a list of destination identifiers:
//
//	[
//	  {"rule": "'CT' in ModalitiesInStudy and StudyDate > 20000101", "destinations": ["research"]},
//	  {"rule": "InstitutionName == 'St. Mary'", "destinations": ["archive", "research"]}
//	]
//
// Predicates are compiled by the predicate subpackage. The compiled form never
// leaves this package; administration reads and persistence only see the
// predicate text.
//
// # Components
//
// ## RuleStore
// Owns the active RuleSet. Readers call Current, which is a single atomic load.
// Replace compiles every candidate rule before anything is persisted or
// installed, so a rejected update leaves the active set untouched. Writers are
// serialized; readers never wait on them.
//
// ## Route and Evaluate
// Pure functions that walk one RuleSet snapshot in order and collect the
// destinations of every matching rule. Duplicates are preserved.
//
// ## Dispatcher
// Deduplicates destinations and issues one forward request per destination,
// concurrently up to a configured limit. Each request is bounded by a timeout
// and optionally guarded by a per-destination circuit breaker and retried with
// backoff. A failure is recorded for its destination only.
//
// ## Engine
// The entry points called by the host adapters: OnServerStarted loads the
// persisted rules, OnStudyStable routes one study, and OnAdministrationRequest
// serves the rule administration endpoint.
//
// # Concurrency
//
// A single event evaluates every rule against one snapshot, so a concurrent
// replace never produces a mix of old and new rules for that event. No I/O is
// performed while evaluating.
package routing
