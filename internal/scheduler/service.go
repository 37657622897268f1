// Package scheduler owns cron-triggered schedules, polls for due work, and
// dispatches it to a bounded worker pool that calls the executor. Schedule
// state is written only under the service lock by the loop and the
// completion path; all query surfaces return copies.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"adflow/internal/eventbus"
	"adflow/internal/executor"
	"adflow/internal/script"
	"adflow/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	loc  *time.Location
	exec *executor.Executor
	bus  eventbus.Bus

	parser    cron.Parser
	schedules map[string]*schedule
	running   map[string]Execution // in-flight, keyed by execution id

	queue     chan dispatch
	stopCh    chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	loopWG    sync.WaitGroup
	workerWG  sync.WaitGroup
}

func New(cfg Config, exec *executor.Executor, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:  log,
		cfg:  cfg.withDefaults(),
		exec: exec,
		bus:  bus,
		// Standard 5-field cron: minute hour dom month dow.
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		schedules: map[string]*schedule{},
		running:   map[string]Execution{},
	}
}

// Apply updates tunables that take effect without a restart. Worker count
// changes require a Stop/Start cycle.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg = cfg.withDefaults()
	s.cfg.PollInterval = cfg.PollInterval
	s.cfg.MaxHistory = cfg.MaxHistory
	s.cfg.DrainTimeout = cfg.DrainTimeout
}

// AddSchedule registers the script with the executor and binds it to a cron
// expression. The returned schedule id is stable for the schedule lifetime.
func (s *Service) AddSchedule(sc script.Script, cronExpr, description string) (string, error) {
	id := fmt.Sprintf("sched_%s", uuid.NewString())
	return id, s.addSchedule(id, sc, cronExpr, description)
}

// AddNamedSchedule is AddSchedule with a caller-chosen id, for schedules
// declared in config. Returns ErrScheduleExists on collision.
func (s *Service) AddNamedSchedule(id string, sc script.Script, cronExpr, description string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("schedule id is empty")
	}
	return s.addSchedule(id, sc, cronExpr, description)
}

func (s *Service) addSchedule(id string, sc script.Script, cronExpr, description string) error {
	spec, err := s.parser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	scriptID, err := s.exec.Register(sc)
	if err != nil {
		return err
	}

	now := s.nowIn()
	next := spec.Next(now)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; ok {
		return fmt.Errorf("%w: %s", ErrScheduleExists, id)
	}
	s.schedules[id] = &schedule{
		id:          id,
		scriptID:    scriptID,
		scriptType:  sc.Type(),
		description: description,
		cronExpr:    cronExpr,
		spec:        spec,
		enabled:     true,
		nextRun:     &next,
		created:     now,
	}
	s.log.Info("schedule added",
		logx.String("schedule", id),
		logx.String("script", scriptID),
		logx.String("cron", cronExpr),
		logx.Time("next_run", next))
	return nil
}

func (s *Service) RemoveSchedule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	delete(s.schedules, id)
	s.log.Info("schedule removed", logx.String("schedule", id))
	return nil
}

// PauseSchedule disables the schedule and clears next_run immediately.
func (s *Service) PauseSchedule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	sc.enabled = false
	sc.nextRun = nil
	s.log.Info("schedule paused", logx.String("schedule", id))
	return nil
}

// ResumeSchedule re-enables the schedule and recomputes next_run from now.
func (s *Service) ResumeSchedule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	sc.enabled = true
	next := sc.spec.Next(s.nowIn())
	sc.nextRun = &next
	s.log.Info("schedule resumed", logx.String("schedule", id), logx.Time("next_run", next))
	return nil
}

// TriggerNow dispatches a schedule immediately through the worker pool,
// bypassing its cron timing. The scheduler must be running.
func (s *Service) TriggerNow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		return ErrNotRunning
	}
	sc, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	if !s.enqueueLocked(sc, s.nowIn()) {
		return fmt.Errorf("dispatch queue full for schedule %s", id)
	}
	return nil
}

// Start launches the polling loop and the worker pool. Idempotent while
// running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}

	s.loc = s.loadLocationLocked()
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	s.queue = make(chan dispatch, 256)

	workers := s.cfg.Workers
	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			s.worker(idx)
		}()
	}

	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		s.loop()
	}()

	s.log.Info("scheduler started",
		logx.Int("workers", workers),
		logx.Duration("poll_interval", s.cfg.PollInterval),
		logx.Int("schedules", len(s.schedules)))
}

// Stop signals the loop to exit, then drains in-flight executions: it waits
// up to DrainTimeout for workers to finish naturally, cancels the run
// context for stragglers (they complete as cancelled), and waits again
// briefly for the cancellation to land. Dispatches still sitting in the
// queue when the workers exit are recorded as cancelled.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	cancel := s.runCancel
	drain := s.cfg.DrainTimeout
	queue := s.queue
	s.stopCh = nil
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	s.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drain):
		s.log.Warn("drain timeout reached; cancelling in-flight executions", logx.Duration("drain", drain))
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.log.Error("in-flight executions did not stop after cancellation")
		case <-ctx.Done():
		}
	case <-ctx.Done():
		cancel()
		<-done
	}
	if cancel != nil {
		cancel()
	}
	s.drainQueue(queue)

	s.mu.Lock()
	s.queue = nil
	s.runCtx = nil
	s.mu.Unlock()
	s.log.Info("scheduler stopped")
}

func (s *Service) nowIn() time.Time {
	if s.loc != nil {
		return time.Now().In(s.loc)
	}
	return time.Now()
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
