package executor

import (
	"sync"
	"time"
)

// Metrics aggregates execution outcomes across all script types.
// Counters accumulate monotonically until Reset.
type Metrics struct {
	mu sync.Mutex

	total     int
	succeeded int
	failed    int
	cancelled int

	totalDuration time.Duration
	byType        map[string]*typeMetrics

	// retries histogram: retry count -> executions
	retries map[int]int
	// errors histogram: error code/kind -> occurrences
	errors map[string]int
}

type typeMetrics struct {
	Total    int
	Duration time.Duration
}

func newMetrics() *Metrics {
	return &Metrics{
		byType:  map[string]*typeMetrics{},
		retries: map[int]int{},
		errors:  map[string]int{},
	}
}

func (m *Metrics) record(scriptType string, dur time.Duration, retries int, errCode string, outcome outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	switch outcome {
	case outcomeSucceeded:
		m.succeeded++
	case outcomeCancelled:
		m.cancelled++
	default:
		m.failed++
	}

	m.totalDuration += dur
	tm := m.byType[scriptType]
	if tm == nil {
		tm = &typeMetrics{}
		m.byType[scriptType] = tm
	}
	tm.Total++
	tm.Duration += dur

	m.retries[retries]++
	if errCode != "" {
		m.errors[errCode]++
	}
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeCancelled
)

// Snapshot is a point-in-time copy of the aggregate metrics with derived
// rates.
type Snapshot struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`

	SuccessRate float64 `json:"success_rate"`
	FailureRate float64 `json:"failure_rate"`

	AvgDuration time.Duration `json:"avg_duration"`

	AvgDurationByType map[string]time.Duration `json:"avg_duration_by_type,omitempty"`
	RetryHistogram    map[int]int              `json:"retry_histogram,omitempty"`
	ErrorHistogram    map[string]int           `json:"error_histogram,omitempty"`
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Total:             m.total,
		Succeeded:         m.succeeded,
		Failed:            m.failed,
		Cancelled:         m.cancelled,
		AvgDurationByType: make(map[string]time.Duration, len(m.byType)),
		RetryHistogram:    make(map[int]int, len(m.retries)),
		ErrorHistogram:    make(map[string]int, len(m.errors)),
	}
	if m.total > 0 {
		s.SuccessRate = float64(m.succeeded) / float64(m.total)
		s.FailureRate = float64(m.failed) / float64(m.total)
		s.AvgDuration = m.totalDuration / time.Duration(m.total)
	}
	for t, tm := range m.byType {
		if tm.Total > 0 {
			s.AvgDurationByType[t] = tm.Duration / time.Duration(tm.Total)
		}
	}
	for k, v := range m.retries {
		s.RetryHistogram[k] = v
	}
	for k, v := range m.errors {
		s.ErrorHistogram[k] = v
	}
	return s
}

// Reset clears all counters atomically.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total, m.succeeded, m.failed, m.cancelled = 0, 0, 0, 0
	m.totalDuration = 0
	m.byType = map[string]*typeMetrics{}
	m.retries = map[int]int{}
	m.errors = map[string]int{}
}
