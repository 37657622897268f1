// Package monitor accumulates per-script execution metrics and raises
// threshold-based alerts. It consumes execution records from any source:
// direct Record calls or execution.finished events on the bus.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"adflow/internal/eventbus"
	"adflow/internal/scheduler"
	"adflow/internal/script"
	"adflow/pkg/logx"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert rules.
const (
	RuleHighErrorRate = "high_error_rate"
	RuleLongExecution = "long_execution"
	RuleNoChanges     = "no_changes"
)

type Config struct {
	HighErrorRate float64       // error-rate threshold, default 0.5
	MinExecutions int           // executions before error-rate alerts fire, default 5
	LongExecution time.Duration // single-run duration threshold, default 300s
}

func (c Config) withDefaults() Config {
	if c.HighErrorRate <= 0 {
		c.HighErrorRate = 0.5
	}
	if c.MinExecutions <= 0 {
		c.MinExecutions = 5
	}
	if c.LongExecution <= 0 {
		c.LongExecution = 300 * time.Second
	}
	return c
}

// Record is one observed execution, decoupled from where it ran.
type Record struct {
	ScriptID      string
	ScriptType    string
	ScheduleID    string
	Status        script.Status
	Duration      time.Duration
	RowsProcessed int
	ChangesMade   int
	At            time.Time
}

// ScriptMetrics are cumulative counters for one script id.
type ScriptMetrics struct {
	Total         int           `json:"total"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	TotalDuration time.Duration `json:"total_duration"`
	RowsProcessed int           `json:"rows_processed"`
	ChangesMade   int           `json:"changes_made"`

	ErrorRate   float64       `json:"error_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// Alert is append-only.
type Alert struct {
	Rule     string    `json:"rule"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	ScriptID string    `json:"script_id"`
	At       time.Time `json:"at"`
}

type Monitor struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	bus eventbus.Bus

	byScript map[string]*ScriptMetrics
	alerts   []Alert

	consumeWG sync.WaitGroup
	cancelSub func()
}

func New(cfg Config, bus eventbus.Bus, log logx.Logger) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Monitor{
		log:      log,
		cfg:      cfg.withDefaults(),
		bus:      bus,
		byScript: map[string]*ScriptMetrics{},
	}
}

// Start subscribes to execution.finished events. Without it, the monitor
// still works via direct Record calls.
func (m *Monitor) Start(ctx context.Context) {
	if m.bus == nil {
		return
	}
	ch, cancel := m.bus.Subscribe(64, eventbus.TopicExecutionFinished)
	m.mu.Lock()
	m.cancelSub = cancel
	m.mu.Unlock()

	m.consumeWG.Add(1)
	go func() {
		defer m.consumeWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				if ev, ok := e.Payload.(scheduler.ExecutionEvent); ok {
					m.Record(recordFromEvent(ev))
				}
			}
		}
	}()
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancelSub
	m.cancelSub = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.consumeWG.Wait()
}

func recordFromEvent(ev scheduler.ExecutionEvent) Record {
	exec := ev.Execution
	return Record{
		ScriptID:      exec.ScriptID,
		ScriptType:    ev.ScriptType,
		ScheduleID:    exec.ScheduleID,
		Status:        exec.Status,
		Duration:      exec.EndTime.Sub(exec.StartTime),
		RowsProcessed: exec.Result.RowsProcessed,
		ChangesMade:   exec.Result.ChangesMade,
		At:            exec.EndTime,
	}
}

// Record updates the per-script counters and evaluates alert rules.
func (m *Monitor) Record(rec Record) {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}

	m.mu.Lock()
	sm := m.byScript[rec.ScriptID]
	if sm == nil {
		sm = &ScriptMetrics{}
		m.byScript[rec.ScriptID] = sm
	}
	sm.Total++
	switch rec.Status {
	case script.StatusCompleted:
		sm.Succeeded++
	case script.StatusCancelled:
		// Cancellations are not failures; they count toward totals only.
	default:
		sm.Failed++
	}
	sm.TotalDuration += rec.Duration
	sm.RowsProcessed += rec.RowsProcessed
	sm.ChangesMade += rec.ChangesMade
	sm.ErrorRate = float64(sm.Failed) / float64(sm.Total)
	sm.AvgDuration = sm.TotalDuration / time.Duration(sm.Total)
	snapshot := *sm
	m.mu.Unlock()

	executionsTotal.WithLabelValues(rec.ScriptType, string(rec.Status)).Inc()
	executionDuration.WithLabelValues(rec.ScriptType).Observe(rec.Duration.Seconds())
	rowsProcessed.WithLabelValues(rec.ScriptType).Add(float64(rec.RowsProcessed))
	changesMade.WithLabelValues(rec.ScriptType).Add(float64(rec.ChangesMade))

	m.evaluate(rec, snapshot)
}

func (m *Monitor) evaluate(rec Record, sm ScriptMetrics) {
	if sm.ErrorRate > m.cfg.HighErrorRate && sm.Total > m.cfg.MinExecutions {
		m.raise(Alert{
			Rule:     RuleHighErrorRate,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("error rate %.0f%% over %d executions", sm.ErrorRate*100, sm.Total),
			ScriptID: rec.ScriptID,
			At:       rec.At,
		})
	}
	if rec.Duration > m.cfg.LongExecution {
		m.raise(Alert{
			Rule:     RuleLongExecution,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("execution took %s (threshold %s)", rec.Duration, m.cfg.LongExecution),
			ScriptID: rec.ScriptID,
			At:       rec.At,
		})
	}
	if rec.Status == script.StatusCompleted && rec.ChangesMade == 0 && isMutatingType(rec.ScriptType) {
		m.raise(Alert{
			Rule:     RuleNoChanges,
			Severity: SeverityLow,
			Message:  fmt.Sprintf("mutating script %q completed without changes", rec.ScriptType),
			ScriptID: rec.ScriptID,
			At:       rec.At,
		})
	}
}

func (m *Monitor) raise(a Alert) {
	m.mu.Lock()
	m.alerts = append(m.alerts, a)
	m.mu.Unlock()

	alertsTotal.WithLabelValues(a.Rule, string(a.Severity)).Inc()
	m.log.Warn("alert raised",
		logx.String("rule", a.Rule),
		logx.String("severity", string(a.Severity)),
		logx.String("script", a.ScriptID),
		logx.String("msg", a.Message))

	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Topic: eventbus.TopicAlertRaised, At: a.At, Payload: a})
	}
}

// mutatingMarkers flags script types whose name implies state mutation;
// a completed run of one of these with zero changes is suspicious.
var mutatingMarkers = []string{"pause", "enable", "disable", "adjust", "update", "bid", "mutat"}

func isMutatingType(scriptType string) bool {
	t := strings.ToLower(scriptType)
	for _, marker := range mutatingMarkers {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}

// Metrics returns a copy of one script's counters.
func (m *Monitor) Metrics(scriptID string) (ScriptMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm, ok := m.byScript[scriptID]
	if !ok {
		return ScriptMetrics{}, false
	}
	return *sm, true
}

// AllMetrics returns a copy of every script's counters.
func (m *Monitor) AllMetrics() map[string]ScriptMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]ScriptMetrics, len(m.byScript))
	for id, sm := range m.byScript {
		out[id] = *sm
	}
	return out
}

// Alerts returns raised alerts, optionally filtered by severity
// (empty severity matches all).
func (m *Monitor) Alerts(severity Severity) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if severity == "" || a.Severity == severity {
			out = append(out, a)
		}
	}
	return out
}

// PruneAlerts drops alerts older than maxAge and reports how many went.
func (m *Monitor) PruneAlerts(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.alerts[:0]
	for _, a := range m.alerts {
		if a.At.After(cutoff) {
			kept = append(kept, a)
		}
	}
	removed := len(m.alerts) - len(kept)
	m.alerts = kept
	return removed
}
