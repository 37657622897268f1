package script

import (
	"time"
)

// Status is the terminal state of one execution.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// WorkDescriptor is an opaque, serializable description of what to run.
// The engine never inspects Payload; it is handed to the run primitive as-is.
type WorkDescriptor struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// RawResult is whatever the run primitive returned, before the script
// shapes it into a Result.
type RawResult struct {
	Data map[string]any `json:"data,omitempty"`
}

// Result is the structured outcome of one execution.
type Result struct {
	Status        Status         `json:"status"`
	ExecutionTime time.Duration  `json:"execution_time"`
	RowsProcessed int            `json:"rows_processed"`
	ChangesMade   int            `json:"changes_made"`
	Errors        []string       `json:"errors,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Script is the capability contract every automation unit implements.
//
// Implementations are opaque to the engine: the engine only validates,
// generates work, hands the work to the run primitive, and lets the script
// shape the raw outcome. Scripts must be safe to call from worker
// goroutines; the engine never mutates them.
type Script interface {
	// Type names the script kind (e.g. "bid_adjuster"). Used for rate
	// limiter stream selection and metrics grouping.
	Type() string

	// Validate reports whether the script's parameters are usable.
	// A false return fails the execution before any run is attempted.
	Validate() bool

	// GenerateWork produces the descriptor handed to the run primitive.
	GenerateWork() (WorkDescriptor, error)

	// ProcessResult shapes the raw outcome into the final Result.
	ProcessResult(raw RawResult) Result

	// Params returns the script's opaque parameters, passed through to the
	// run primitive alongside the work descriptor.
	Params() map[string]any
}
