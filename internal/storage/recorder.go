package storage

import (
	"context"
	"sync"

	"adflow/internal/eventbus"
	"adflow/internal/scheduler"
	"adflow/pkg/logx"
)

// Recorder bridges the bus to a Store: every execution.finished event is
// appended to the audit trail. Best-effort; append errors are logged, not
// retried.
type Recorder struct {
	log   logx.Logger
	store Store
	bus   eventbus.Bus

	cancelSub func()
	wg        sync.WaitGroup
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{log: log, store: store, bus: bus}
}

func (r *Recorder) Start(ctx context.Context) {
	if r.store == nil || r.bus == nil {
		return
	}
	ch, cancel := r.bus.Subscribe(128, eventbus.TopicExecutionFinished)
	r.cancelSub = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				ev, ok := e.Payload.(scheduler.ExecutionEvent)
				if !ok {
					continue
				}
				entry := entryFromEvent(ev)
				if err := r.store.AppendExecution(ctx, entry); err != nil {
					r.log.Warn("audit append failed", logx.Err(err), logx.String("execution", entry.ExecutionID))
				}
			}
		}
	}()
}

func (r *Recorder) Stop() {
	if r.cancelSub != nil {
		r.cancelSub()
	}
	r.wg.Wait()
}

func entryFromEvent(ev scheduler.ExecutionEvent) ExecutionEntry {
	exec := ev.Execution
	return ExecutionEntry{
		At:          exec.EndTime,
		ExecutionID: exec.ID,
		ScriptID:    exec.ScriptID,
		ScheduleID:  exec.ScheduleID,
		ScriptType:  ev.ScriptType,
		Status:      string(exec.Status),
		Error:       exec.Error,
		DurationMS:  exec.EndTime.Sub(exec.StartTime).Milliseconds(),
		Rows:        exec.Result.RowsProcessed,
		Changes:     exec.Result.ChangesMade,
	}
}
