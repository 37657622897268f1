package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrScheduleExists   = errors.New("schedule already exists")
	ErrNotRunning       = errors.New("scheduler not running")
)

// ScriptExecutionError wraps a failure from the executor with the schedule
// context it happened under. It is distinct from transport-level errors so
// the polling loop can log it and keep going.
type ScriptExecutionError struct {
	ScriptID   string
	ScheduleID string
	Err        error
}

func (e *ScriptExecutionError) Error() string {
	return fmt.Sprintf("script %s (schedule %s): %v", e.ScriptID, e.ScheduleID, e.Err)
}

func (e *ScriptExecutionError) Unwrap() error { return e.Err }
