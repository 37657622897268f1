package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the execution audit sink.
//
// Driver values:
//   - "file": dependency-free JSONL backend
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled. The audit trail is
// observability only; it is never replayed into the scheduler.
type Config struct {
	Driver      string
	Path        string
	KeepLast    int           // sqlite only; rows retained after pruning (default 10000)
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ExecutionEntry is one completed execution, flattened for persistence.
// Keep it compact and schema-stable.
type ExecutionEntry struct {
	At          time.Time `json:"at"`
	ExecutionID string    `json:"execution_id"`
	ScriptID    string    `json:"script_id"`
	ScheduleID  string    `json:"schedule_id,omitempty"`
	ScriptType  string    `json:"script_type,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	Rows        int       `json:"rows"`
	Changes     int       `json:"changes"`
}
