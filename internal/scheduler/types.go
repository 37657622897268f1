package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"adflow/internal/script"
)

// Config controls the scheduler service.
type Config struct {
	PollInterval time.Duration // default 10s
	Workers      int           // clamped to [1,10], default 4
	MaxHistory   int           // per-schedule execution history cap, default 50
	DrainTimeout time.Duration // how long Stop waits for in-flight runs, default 30s
	Timezone     string        // IANA TZ; empty means local time
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Workers > 10 {
		c.Workers = 10
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 50
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	return c
}

// Execution is one concrete run of a script. Immutable once closed.
type Execution struct {
	ID         string        `json:"id"`
	ScriptID   string        `json:"script_id"`
	ScheduleID string        `json:"schedule_id,omitempty"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Status     script.Status `json:"status"`
	Error      string        `json:"error,omitempty"`
	Result     script.Result `json:"result"`
}

// schedule is the live, mutable state for one cron binding. Only the
// service (loop thread + completion path) writes it, under the service
// lock; queries copy it out.
type schedule struct {
	id          string
	scriptID    string
	scriptType  string
	description string
	cronExpr    string
	spec        cron.Schedule

	enabled  bool
	lastRun  *time.Time
	nextRun  *time.Time
	created  time.Time
	totalRun int

	history []Execution
}

// shouldRun reports whether the schedule is due at now.
func (sc *schedule) shouldRun(now time.Time) bool {
	return sc.enabled && sc.nextRun != nil && !sc.nextRun.After(now)
}

// ScheduleStatus is a read-only snapshot of one schedule.
type ScheduleStatus struct {
	ID              string      `json:"id"`
	ScriptID        string      `json:"script_id"`
	ScriptType      string      `json:"script_type"`
	Description     string      `json:"description,omitempty"`
	CronExpr        string      `json:"cron_expr"`
	Enabled         bool        `json:"enabled"`
	LastRun         *time.Time  `json:"last_run,omitempty"`
	NextRun         *time.Time  `json:"next_run,omitempty"`
	TotalExecutions int         `json:"total_executions"`
	History         []Execution `json:"history,omitempty"`
}

// dispatch is one due schedule handed to the worker pool.
type dispatch struct {
	scheduleID string
	scriptID   string
	execID     string
	start      time.Time
}
