package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"adflow/internal/eventbus"
	"adflow/internal/script"
	"adflow/pkg/logx"
)

// loop is the single cooperative polling loop. It only inspects in-memory
// schedule state and dispatches; it never blocks on execution.
func (s *Service) loop() {
	s.mu.Lock()
	interval := s.cfg.PollInterval
	stopCh := s.stopCh
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := s.tick(); err != nil {
				// A single schedule's failure must never kill the loop.
				// Typed scheduler errors get a short pause; anything
				// unexpected backs off longer.
				var seErr *ScriptExecutionError
				switch {
				case errors.As(err, &seErr), errors.Is(err, ErrScheduleNotFound):
					s.log.Warn("scheduler tick error", logx.Err(err))
					if !s.pause(stopCh, interval) {
						return
					}
				default:
					s.log.Error("unexpected scheduler error", logx.Err(err))
					if !s.pause(stopCh, 3*interval) {
						return
					}
				}
			}
		}
	}
}

// pause sleeps for d unless the scheduler is stopped first.
func (s *Service) pause(stopCh <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stopCh:
		return false
	case <-t.C:
		return true
	}
}

// tick dispatches every currently-due schedule. No ordering is guaranteed
// between schedules within a tick. The first per-schedule error is returned
// after the remaining due schedules have still been dispatched.
func (s *Service) tick() error {
	now := s.nowIn()

	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, sc := range s.schedules {
		if !sc.shouldRun(now) {
			continue
		}
		if _, err := s.exec.Lookup(sc.scriptID); err != nil {
			// Script vanished from the registry; skip the run instead of
			// burning a worker on a guaranteed failure.
			if firstErr == nil {
				firstErr = &ScriptExecutionError{ScriptID: sc.scriptID, ScheduleID: sc.id, Err: err}
			}
			continue
		}
		if !s.enqueueLocked(sc, now) {
			// All workers busy and the queue is full. Leave next_run
			// untouched so the schedule is retried next tick.
			s.log.Warn("dispatch queue full; deferring schedule", logx.String("schedule", sc.id))
			continue
		}
	}
	return firstErr
}

// enqueueLocked hands one due schedule to the worker pool. On success it
// advances next_run past now so the schedule is not re-dispatched while the
// run is still in flight. The dispatch does not enter the running set here:
// only a worker that has actually dequeued it marks it running, so the
// running set never exceeds the worker count. Caller holds s.mu.
func (s *Service) enqueueLocked(sc *schedule, now time.Time) bool {
	if s.queue == nil {
		return false
	}
	d := dispatch{
		scheduleID: sc.id,
		scriptID:   sc.scriptID,
		execID:     fmt.Sprintf("exec_%s", uuid.NewString()),
		start:      now,
	}
	select {
	case s.queue <- d:
	default:
		return false
	}

	next := sc.spec.Next(now)
	sc.nextRun = &next
	return true
}

// worker executes dispatched runs. Blocking calls (rate limiter waits, the
// remote run primitive) are confined to these goroutines.
func (s *Service) worker(idx int) {
	s.mu.Lock()
	queue := s.queue
	runCtx := s.runCtx
	stopCh := s.stopCh
	s.mu.Unlock()

	for {
		// A closed stopCh wins over queued work.
		select {
		case <-stopCh:
			return
		default:
		}

		select {
		case <-stopCh:
			return
		case d := <-queue:
			s.execOne(runCtx, d, idx)
		}
	}
}

func (s *Service) execOne(runCtx context.Context, d dispatch, idx int) {
	start := time.Now()
	s.mu.Lock()
	s.running[d.execID] = Execution{
		ID:         d.execID,
		ScriptID:   d.scriptID,
		ScheduleID: d.scheduleID,
		StartTime:  d.start,
		Status:     "running",
	}
	s.mu.Unlock()

	res, err := s.exec.Execute(runCtx, d.scriptID)
	end := time.Now()

	rec := Execution{
		ID:         d.execID,
		ScriptID:   d.scriptID,
		ScheduleID: d.scheduleID,
		StartTime:  d.start,
		EndTime:    end,
		Status:     res.Status,
		Result:     res,
	}
	if rec.Status == "" {
		rec.Status = script.StatusFailed
	}
	if err != nil {
		rec.Error = (&ScriptExecutionError{ScriptID: d.scriptID, ScheduleID: d.scheduleID, Err: err}).Error()
	}

	s.complete(rec)

	s.log.Debug("run finished",
		logx.Int("worker", idx),
		logx.String("schedule", d.scheduleID),
		logx.String("status", string(rec.Status)),
		logx.Duration("dur", end.Sub(start)))
}

// drainQueue empties the dispatch queue after the workers have exited.
// Queued dispatches that no worker ever picked up are recorded as cancelled
// executions so they show up in history instead of vanishing.
func (s *Service) drainQueue(queue chan dispatch) {
	if queue == nil {
		return
	}
	for {
		select {
		case d := <-queue:
			s.complete(Execution{
				ID:         d.execID,
				ScriptID:   d.scriptID,
				ScheduleID: d.scheduleID,
				StartTime:  d.start,
				EndTime:    time.Now(),
				Status:     script.StatusCancelled,
				Error:      "scheduler stopped before execution started",
			})
		default:
			return
		}
	}
}

// complete records a finished execution: history append (FIFO-capped),
// last_run/next_run bookkeeping, and the bus event for downstream sinks.
func (s *Service) complete(rec Execution) {
	s.mu.Lock()
	delete(s.running, rec.ID)
	maxHistory := s.cfg.MaxHistory

	var scriptType string
	if sc, ok := s.schedules[rec.ScheduleID]; ok {
		scriptType = sc.scriptType
		sc.history = append(sc.history, rec)
		if len(sc.history) > maxHistory {
			sc.history = sc.history[len(sc.history)-maxHistory:]
		}
		end := rec.EndTime
		sc.lastRun = &end
		sc.totalRun++
		if sc.enabled {
			next := sc.spec.Next(end)
			sc.nextRun = &next
		}
	}
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Topic: eventbus.TopicExecutionFinished,
			At:    rec.EndTime,
			Payload: ExecutionEvent{
				Execution:  rec,
				ScriptType: scriptType,
			},
		})
	}
}

// ExecutionEvent is the bus payload for a finished execution.
type ExecutionEvent struct {
	Execution  Execution `json:"execution"`
	ScriptType string    `json:"script_type"`
}
