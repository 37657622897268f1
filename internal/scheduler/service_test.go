package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"adflow/internal/eventbus"
	"adflow/internal/executor"
	"adflow/internal/ratelimit"
	"adflow/internal/script"
	"adflow/pkg/logx"
)

type testScript struct {
	typ     string
	rows    int
	changes int
}

func (s *testScript) Type() string   { return s.typ }
func (s *testScript) Validate() bool { return true }
func (s *testScript) GenerateWork() (script.WorkDescriptor, error) {
	return script.WorkDescriptor{Type: "noop"}, nil
}
func (s *testScript) ProcessResult(raw script.RawResult) script.Result {
	return script.Result{
		Status:        script.StatusCompleted,
		RowsProcessed: s.rows,
		ChangesMade:   s.changes,
	}
}
func (s *testScript) Params() map[string]any { return nil }

func newTestService(t *testing.T, cfg Config, run func(ctx context.Context) error, bus eventbus.Bus) *Service {
	t.Helper()
	limits := ratelimit.NewRegistry(map[string]ratelimit.Config{}, ratelimit.Config{CallsPerSecond: 10000, CallsPerMinute: 1 << 20})
	exec := executor.New(executor.Config{MaxRetries: 1, BaseDelay: time.Millisecond}, func(ctx context.Context, w script.WorkDescriptor, p map[string]any) (script.RawResult, error) {
		if run != nil {
			if err := run(ctx); err != nil {
				return script.RawResult{}, err
			}
		}
		return script.RawResult{}, nil
	}, limits, logx.Nop())
	return New(cfg, exec, bus, logx.Nop())
}

// makeDue rewinds every schedule's next_run so the next tick fires it.
func makeDue(s *Service) {
	past := time.Now().Add(-time.Minute)
	s.mu.Lock()
	for _, sc := range s.schedules {
		p := past
		sc.nextRun = &p
	}
	s.mu.Unlock()
}

func TestAddScheduleComputesNextRun(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{}, nil, nil)

	// The standard 5-field grammar: minute hour dom month dow.
	spec, err := s.parser.Parse("0 3 * * *")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	from := time.Date(2024, 1, 1, 14, 30, 0, 0, time.UTC)
	want := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)
	if got := spec.Next(from); !got.Equal(want) {
		t.Fatalf("Next(%v) = %v, want %v", from, got, want)
	}

	id, err := s.AddSchedule(&testScript{typ: "reporting"}, "*/5 * * * *", "report refresh")
	if err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	st, err := s.ScheduleStatus(id)
	if err != nil {
		t.Fatalf("ScheduleStatus: %v", err)
	}
	if !st.Enabled || st.NextRun == nil || !st.NextRun.After(time.Now().Add(-time.Second)) {
		t.Fatalf("fresh schedule should be enabled with a future next_run, got %+v", st)
	}
	if st.TotalExecutions != 0 || st.LastRun != nil {
		t.Fatalf("fresh schedule has history: %+v", st)
	}
}

func TestAddScheduleRejectsBadCron(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{}, nil, nil)
	if _, err := s.AddSchedule(&testScript{typ: "reporting"}, "not a cron", ""); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestAddNamedScheduleDuplicate(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{}, nil, nil)
	if err := s.AddNamedSchedule("nightly", &testScript{typ: "reporting"}, "0 3 * * *", ""); err != nil {
		t.Fatalf("first add: %v", err)
	}
	err := s.AddNamedSchedule("nightly", &testScript{typ: "reporting"}, "0 4 * * *", "")
	if !errors.Is(err, ErrScheduleExists) {
		t.Fatalf("want ErrScheduleExists, got %v", err)
	}
}

func TestPauseAndResume(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{}, nil, nil)
	id, err := s.AddSchedule(&testScript{typ: "reporting"}, "*/5 * * * *", "")
	if err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}

	if err := s.PauseSchedule(id); err != nil {
		t.Fatalf("PauseSchedule: %v", err)
	}
	st, _ := s.ScheduleStatus(id)
	if st.Enabled || st.NextRun != nil {
		t.Fatalf("paused schedule should be disabled with nil next_run, got %+v", st)
	}

	if err := s.ResumeSchedule(id); err != nil {
		t.Fatalf("ResumeSchedule: %v", err)
	}
	st, _ = s.ScheduleStatus(id)
	if !st.Enabled || st.NextRun == nil || !st.NextRun.After(time.Now()) {
		t.Fatalf("resumed schedule should have a future next_run, got %+v", st)
	}

	if err := s.PauseSchedule("missing"); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("want ErrScheduleNotFound, got %v", err)
	}
}

func TestRemoveSchedule(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{}, nil, nil)
	id, _ := s.AddSchedule(&testScript{typ: "reporting"}, "*/5 * * * *", "")
	if err := s.RemoveSchedule(id); err != nil {
		t.Fatalf("RemoveSchedule: %v", err)
	}
	if _, err := s.ScheduleStatus(id); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("want ErrScheduleNotFound after removal, got %v", err)
	}
	if err := s.RemoveSchedule(id); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("double remove: want ErrScheduleNotFound, got %v", err)
	}
}

func TestTriggerNowRequiresRunning(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{}, nil, nil)
	id, _ := s.AddSchedule(&testScript{typ: "reporting"}, "0 3 * * *", "")
	if err := s.TriggerNow(id); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("want ErrNotRunning on stopped scheduler, got %v", err)
	}
}

func TestHistoryEvictionFIFO(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{MaxHistory: 3}, nil, nil)
	id, _ := s.AddSchedule(&testScript{typ: "reporting"}, "*/5 * * * *", "")

	base := time.Now()
	for i := 0; i < 5; i++ {
		s.complete(Execution{
			ID:         fmt.Sprintf("exec_%d", i),
			ScheduleID: id,
			StartTime:  base.Add(time.Duration(i) * time.Second),
			EndTime:    base.Add(time.Duration(i)*time.Second + 100*time.Millisecond),
			Status:     script.StatusCompleted,
		})
	}

	st, _ := s.ScheduleStatus(id)
	if st.TotalExecutions != 5 {
		t.Fatalf("total executions = %d, want 5", st.TotalExecutions)
	}
	if len(st.History) != 3 {
		t.Fatalf("history length = %d, want 3", len(st.History))
	}
	// Oldest entries are evicted first.
	for i, want := range []string{"exec_2", "exec_3", "exec_4"} {
		if st.History[i].ID != want {
			t.Fatalf("history[%d] = %s, want %s", i, st.History[i].ID, want)
		}
	}
	if st.LastRun == nil || st.NextRun == nil {
		t.Fatalf("completion bookkeeping incomplete: %+v", st)
	}
}

func TestCompletionPublishesEvent(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, cancel := bus.Subscribe(4, eventbus.TopicExecutionFinished)
	defer cancel()

	s := newTestService(t, Config{}, nil, bus)
	id, _ := s.AddSchedule(&testScript{typ: "bid_adjuster"}, "*/5 * * * *", "")

	s.complete(Execution{
		ID:         "exec_1",
		ScheduleID: id,
		StartTime:  time.Now(),
		EndTime:    time.Now(),
		Status:     script.StatusCompleted,
	})

	select {
	case e := <-ch:
		ev, ok := e.Payload.(ExecutionEvent)
		if !ok {
			t.Fatalf("payload type %T", e.Payload)
		}
		if ev.Execution.ID != "exec_1" || ev.ScriptType != "bid_adjuster" {
			t.Fatalf("unexpected event payload: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no execution.finished event published")
	}
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	bus := eventbus.New()
	ch, cancelSub := bus.Subscribe(16, eventbus.TopicExecutionFinished)
	defer cancelSub()

	var inFlight, peak atomic.Int32
	run := func(ctx context.Context) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		return nil
	}

	s := newTestService(t, Config{PollInterval: 20 * time.Millisecond, Workers: 2}, run, bus)
	for i := 0; i < 5; i++ {
		if _, err := s.AddSchedule(&testScript{typ: "reporting"}, "*/5 * * * *", ""); err != nil {
			t.Fatalf("AddSchedule: %v", err)
		}
	}
	makeDue(s)

	s.Start(context.Background())
	defer s.Stop(context.Background())

	deadline := time.After(5 * time.Second)
	for done := 0; done < 5; {
		select {
		case <-ch:
			done++
		case <-deadline:
			t.Fatalf("timed out, only %d of 5 executions finished", done)
		}
	}

	if p := peak.Load(); p > 2 {
		t.Fatalf("observed %d concurrent executions, worker pool is 2", p)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestRunningExecutionsBoundedByWorkers(t *testing.T) {
	bus := eventbus.New()
	ch, cancelSub := bus.Subscribe(16, eventbus.TopicExecutionFinished)
	defer cancelSub()

	gate := make(chan struct{})
	var started atomic.Int32
	run := func(ctx context.Context) error {
		started.Add(1)
		select {
		case <-gate:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s := newTestService(t, Config{PollInterval: 20 * time.Millisecond, Workers: 2}, run, bus)
	for i := 0; i < 5; i++ {
		if _, err := s.AddSchedule(&testScript{typ: "reporting"}, "*/5 * * * *", ""); err != nil {
			t.Fatalf("AddSchedule: %v", err)
		}
	}
	makeDue(s)

	s.Start(context.Background())
	defer s.Stop(context.Background())

	// Both workers are busy; the other three dispatches sit in the queue
	// and must not be reported as running.
	waitUntil(t, func() bool { return started.Load() == 2 })
	if got := len(s.RunningExecutions()); got != 2 {
		t.Fatalf("running executions = %d, want 2 (worker pool size)", got)
	}

	close(gate)
	deadline := time.After(5 * time.Second)
	for done := 0; done < 5; {
		select {
		case <-ch:
			done++
		case <-deadline:
			t.Fatalf("timed out, only %d of 5 executions finished", done)
		}
	}
	if got := s.RunningExecutions(); len(got) != 0 {
		t.Fatalf("running set not empty after completion: %+v", got)
	}
}

func TestStopSweepsQueuedDispatches(t *testing.T) {
	gate := make(chan struct{})
	var started atomic.Int32
	run := func(ctx context.Context) error {
		started.Add(1)
		select {
		case <-gate:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s := newTestService(t, Config{PollInterval: 20 * time.Millisecond, Workers: 1, DrainTimeout: 50 * time.Millisecond}, run, nil)
	for i := 0; i < 3; i++ {
		if _, err := s.AddSchedule(&testScript{typ: "reporting"}, "*/5 * * * *", ""); err != nil {
			t.Fatalf("AddSchedule: %v", err)
		}
	}
	makeDue(s)

	s.Start(context.Background())
	// One dispatch in flight, two stuck in the queue.
	waitUntil(t, func() bool { return started.Load() == 1 })
	s.Stop(context.Background())

	if got := s.RunningExecutions(); len(got) != 0 {
		t.Fatalf("running set not cleared after Stop: %+v", got)
	}
	var entries int
	for _, st := range s.AllSchedules() {
		for _, rec := range st.History {
			entries++
			if rec.Status != script.StatusCancelled {
				t.Fatalf("execution %s has status %s, want cancelled", rec.ID, rec.Status)
			}
		}
	}
	if entries != 3 {
		t.Fatalf("recorded %d executions, want 3 (1 in flight + 2 queued)", entries)
	}
}

func TestScheduledRunEndToEnd(t *testing.T) {
	bus := eventbus.New()
	ch, cancelSub := bus.Subscribe(4, eventbus.TopicExecutionFinished)
	defer cancelSub()

	s := newTestService(t, Config{PollInterval: 20 * time.Millisecond, Workers: 1}, nil, bus)
	id, err := s.AddSchedule(&testScript{typ: "reporting", rows: 10, changes: 2}, "*/5 * * * *", "report refresh")
	if err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	makeDue(s)

	s.Start(context.Background())
	defer s.Stop(context.Background())

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled execution never finished")
	}

	st, err := s.ScheduleStatus(id)
	if err != nil {
		t.Fatalf("ScheduleStatus: %v", err)
	}
	if st.TotalExecutions != 1 {
		t.Fatalf("total executions = %d, want 1", st.TotalExecutions)
	}
	if len(st.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(st.History))
	}
	rec := st.History[0]
	if rec.Status != script.StatusCompleted {
		t.Fatalf("status = %s, want completed (error %q)", rec.Status, rec.Error)
	}
	if rec.Result.RowsProcessed != 10 || rec.Result.ChangesMade != 2 {
		t.Fatalf("result = %+v", rec.Result)
	}
	if st.LastRun == nil || st.NextRun == nil || !st.NextRun.After(*st.LastRun) {
		t.Fatalf("next_run should be recomputed past last_run: %+v", st)
	}
	if running := s.RunningExecutions(); len(running) != 0 {
		t.Fatalf("running set not cleared: %+v", running)
	}
}

func TestConfigDefaultsClampWorkers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   int
		want int
	}{
		{0, 4},
		{-3, 4},
		{1, 1},
		{10, 10},
		{64, 10},
	}
	for _, tt := range tests {
		if got := (Config{Workers: tt.in}).withDefaults().Workers; got != tt.want {
			t.Fatalf("workers %d -> %d, want %d", tt.in, got, tt.want)
		}
	}
	def := Config{}.withDefaults()
	if def.PollInterval != 10*time.Second || def.MaxHistory != 50 || def.DrainTimeout != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", def)
	}
}
