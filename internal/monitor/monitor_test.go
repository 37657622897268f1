package monitor

import (
	"testing"
	"time"

	"adflow/internal/eventbus"
	"adflow/internal/script"
	"adflow/pkg/logx"
)

func record(id, typ string, status script.Status, dur time.Duration, changes int) Record {
	return Record{
		ScriptID:    id,
		ScriptType:  typ,
		Status:      status,
		Duration:    dur,
		ChangesMade: changes,
		At:          time.Now(),
	}
}

func TestHighErrorRateAlert(t *testing.T) {
	t.Parallel()
	m := New(Config{HighErrorRate: 0.5, MinExecutions: 5}, nil, logx.Nop())

	// 3 failures out of 5: rate 0.6 > 0.5 but total not yet > min.
	for i := 0; i < 2; i++ {
		m.Record(record("s1", "reporting", script.StatusCompleted, time.Second, 0))
	}
	for i := 0; i < 3; i++ {
		m.Record(record("s1", "reporting", script.StatusFailed, time.Second, 0))
	}
	if got := m.Alerts(""); len(got) != 0 {
		t.Fatalf("alert fired before min executions: %+v", got)
	}

	// 6th execution fails: rate 4/6 > 0.5 and total > 5.
	m.Record(record("s1", "reporting", script.StatusFailed, time.Second, 0))
	alerts := m.Alerts("")
	if len(alerts) != 1 || alerts[0].Rule != RuleHighErrorRate || alerts[0].Severity != SeverityHigh {
		t.Fatalf("want one high_error_rate alert, got %+v", alerts)
	}

	sm, ok := m.Metrics("s1")
	if !ok {
		t.Fatal("missing metrics for s1")
	}
	if sm.Total != 6 || sm.Failed != 4 || sm.Succeeded != 2 {
		t.Fatalf("counters: %+v", sm)
	}
}

func TestLongExecutionAlert(t *testing.T) {
	t.Parallel()
	m := New(Config{LongExecution: 100 * time.Millisecond}, nil, logx.Nop())

	m.Record(record("s1", "reporting", script.StatusCompleted, 50*time.Millisecond, 0))
	if got := m.Alerts(""); len(got) != 0 {
		t.Fatalf("short run should not alert: %+v", got)
	}

	m.Record(record("s1", "reporting", script.StatusCompleted, 150*time.Millisecond, 0))
	alerts := m.Alerts(SeverityMedium)
	if len(alerts) != 1 || alerts[0].Rule != RuleLongExecution {
		t.Fatalf("want one long_execution alert, got %+v", alerts)
	}
}

func TestNoChangesAlert(t *testing.T) {
	t.Parallel()
	m := New(Config{}, nil, logx.Nop())

	// Read-only type with zero changes is fine.
	m.Record(record("s1", "reporting", script.StatusCompleted, time.Second, 0))
	// Mutating type that made changes is fine.
	m.Record(record("s2", "bid_adjuster", script.StatusCompleted, time.Second, 3))
	// Failed mutating run is covered by the error counters, not this rule.
	m.Record(record("s3", "pause_campaigns", script.StatusFailed, time.Second, 0))
	if got := m.Alerts(SeverityLow); len(got) != 0 {
		t.Fatalf("unexpected no_changes alerts: %+v", got)
	}

	// Completed mutating run with zero changes is suspicious.
	m.Record(record("s4", "pause_campaigns", script.StatusCompleted, time.Second, 0))
	alerts := m.Alerts(SeverityLow)
	if len(alerts) != 1 || alerts[0].Rule != RuleNoChanges || alerts[0].ScriptID != "s4" {
		t.Fatalf("want one no_changes alert for s4, got %+v", alerts)
	}
}

func TestCancelledCountsTotalNotFailed(t *testing.T) {
	t.Parallel()
	m := New(Config{}, nil, logx.Nop())
	m.Record(record("s1", "reporting", script.StatusCancelled, time.Second, 0))
	sm, _ := m.Metrics("s1")
	if sm.Total != 1 || sm.Failed != 0 || sm.Succeeded != 0 {
		t.Fatalf("cancelled run miscounted: %+v", sm)
	}
	if sm.ErrorRate != 0 {
		t.Fatalf("cancellations must not raise the error rate: %+v", sm)
	}
}

func TestIsMutatingType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		typ  string
		want bool
	}{
		{"pause_campaigns", true},
		{"enable_keywords", true},
		{"bid_adjuster", true},
		{"UpdateBudgets", true},
		{"reporting", false},
		{"account_audit", false},
	}
	for _, tt := range tests {
		if got := isMutatingType(tt.typ); got != tt.want {
			t.Fatalf("isMutatingType(%q) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestAlertsPublishedOnBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, cancel := bus.Subscribe(4, eventbus.TopicAlertRaised)
	defer cancel()

	m := New(Config{LongExecution: time.Millisecond}, bus, logx.Nop())
	m.Record(record("s1", "reporting", script.StatusCompleted, time.Second, 0))

	select {
	case e := <-ch:
		a, ok := e.Payload.(Alert)
		if !ok || a.Rule != RuleLongExecution {
			t.Fatalf("unexpected bus payload: %#v", e.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no alert.raised event published")
	}
}

func TestPruneAlerts(t *testing.T) {
	t.Parallel()
	m := New(Config{LongExecution: time.Millisecond}, nil, logx.Nop())

	old := record("s1", "reporting", script.StatusCompleted, time.Second, 0)
	old.At = time.Now().Add(-2 * time.Hour)
	m.Record(old)
	m.Record(record("s1", "reporting", script.StatusCompleted, time.Second, 0))

	if n := len(m.Alerts("")); n != 2 {
		t.Fatalf("want 2 alerts before prune, got %d", n)
	}
	if removed := m.PruneAlerts(time.Hour); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if n := len(m.Alerts("")); n != 1 {
		t.Fatalf("want 1 alert after prune, got %d", n)
	}
}

func TestAllMetricsCopies(t *testing.T) {
	t.Parallel()
	m := New(Config{}, nil, logx.Nop())
	m.Record(record("s1", "reporting", script.StatusCompleted, time.Second, 0))
	m.Record(record("s2", "reporting", script.StatusFailed, time.Second, 0))

	all := m.AllMetrics()
	if len(all) != 2 {
		t.Fatalf("want 2 scripts, got %d", len(all))
	}
	all["s1"] = ScriptMetrics{Total: 99}
	if sm, _ := m.Metrics("s1"); sm.Total == 99 {
		t.Fatal("AllMetrics must return copies")
	}
}
