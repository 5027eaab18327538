package routing

import (
	"sort"
	"sync"
	"time"
)

// RouterMetrics is a point-in-time copy of the engine counters
type RouterMetrics struct {
	TotalEvents        int64                         `json:"total_events"`
	RoutedEvents       int64                         `json:"routed_events"`
	UnroutedEvents     int64                         `json:"unrouted_events"`
	FailedEvents       int64                         `json:"failed_events"`
	SkippedEvents      int64                         `json:"skipped_events"`
	AverageLatency     time.Duration                 `json:"average_latency"`
	RuleHitCounts      map[string]int64              `json:"rule_hit_counts"`
	DestinationMetrics map[string]DestinationMetrics `json:"destination_metrics"`
}

// DestinationMetrics holds forward statistics for one destination
type DestinationMetrics struct {
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	FailedRequests     int64         `json:"failed_requests"`
	AverageLatency     time.Duration `json:"average_latency"`
	LastError          string        `json:"last_error,omitempty"`
	LastAttempt        time.Time     `json:"last_attempt"`
}

// Metrics accumulates counters shared by the engine and the dispatcher
type Metrics struct {
	mu           sync.Mutex
	totalEvents  int64
	routed       int64
	unrouted     int64
	failed       int64
	skipped      int64
	totalLatency time.Duration
	ruleHits     map[string]int64
	destinations map[string]DestinationMetrics
}

func NewMetrics() *Metrics {
	return &Metrics{
		ruleHits:     make(map[string]int64),
		destinations: make(map[string]DestinationMetrics),
	}
}

type eventOutcome int

const (
	eventRouted eventOutcome = iota
	eventUnrouted
	eventFailed
	eventSkipped
)

func (m *Metrics) recordEvent(outcome eventOutcome, latency time.Duration, matchedPredicates []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalEvents++
	m.totalLatency += latency
	switch outcome {
	case eventRouted:
		m.routed++
	case eventUnrouted:
		m.unrouted++
	case eventFailed:
		m.failed++
	case eventSkipped:
		m.skipped++
	}
	for _, p := range matchedPredicates {
		m.ruleHits[p]++
	}
}

func (m *Metrics) recordDispatch(destination string, latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.destinations[destination]
	metrics.TotalRequests++
	metrics.LastAttempt = time.Now()
	if err == nil {
		metrics.SuccessfulRequests++
	} else {
		metrics.FailedRequests++
		metrics.LastError = err.Error()
	}

	// running average over all requests
	if metrics.TotalRequests == 1 {
		metrics.AverageLatency = latency
	} else {
		total := metrics.AverageLatency * time.Duration(metrics.TotalRequests-1)
		metrics.AverageLatency = (total + latency) / time.Duration(metrics.TotalRequests)
	}
	m.destinations[destination] = metrics
}

// Snapshot returns a copy of the counters
func (m *Metrics) Snapshot() RouterMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := RouterMetrics{
		TotalEvents:        m.totalEvents,
		RoutedEvents:       m.routed,
		UnroutedEvents:     m.unrouted,
		FailedEvents:       m.failed,
		SkippedEvents:      m.skipped,
		RuleHitCounts:      make(map[string]int64, len(m.ruleHits)),
		DestinationMetrics: make(map[string]DestinationMetrics, len(m.destinations)),
	}
	if m.totalEvents > 0 {
		snapshot.AverageLatency = m.totalLatency / time.Duration(m.totalEvents)
	}
	for k, v := range m.ruleHits {
		snapshot.RuleHitCounts[k] = v
	}
	for k, v := range m.destinations {
		snapshot.DestinationMetrics[k] = v
	}
	return snapshot
}

// Destinations lists every destination that has been contacted, sorted
func (m *Metrics) Destinations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.destinations))
	for name := range m.destinations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
