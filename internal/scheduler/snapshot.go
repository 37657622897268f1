package scheduler

import (
	"fmt"
	"sort"
)

// ScheduleStatus returns a read-only snapshot of one schedule, including a
// copy of its bounded history.
func (s *Service) ScheduleStatus(id string) (ScheduleStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return ScheduleStatus{}, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	return statusLocked(sc), nil
}

// AllSchedules returns snapshots of every schedule, ordered by id.
func (s *Service) AllSchedules() []ScheduleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleStatus, 0, len(s.schedules))
	for _, sc := range s.schedules {
		out = append(out, statusLocked(sc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RunningExecutions returns copies of the executions currently in flight.
func (s *Service) RunningExecutions() []Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Execution, 0, len(s.running))
	for _, e := range s.running {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func statusLocked(sc *schedule) ScheduleStatus {
	st := ScheduleStatus{
		ID:              sc.id,
		ScriptID:        sc.scriptID,
		ScriptType:      sc.scriptType,
		Description:     sc.description,
		CronExpr:        sc.cronExpr,
		Enabled:         sc.enabled,
		TotalExecutions: sc.totalRun,
	}
	if sc.lastRun != nil {
		t := *sc.lastRun
		st.LastRun = &t
	}
	if sc.nextRun != nil {
		t := *sc.nextRun
		st.NextRun = &t
	}
	if len(sc.history) > 0 {
		st.History = append([]Execution(nil), sc.history...)
	}
	return st
}
