// Package runner defines the boundary to the external run primitive: the
// callable that performs the actual remote action for a work descriptor,
// and the error kinds the retry loop keys on.
package runner

import (
	"context"
	"errors"
	"fmt"

	"adflow/internal/script"
)

// Runner performs one remote action. It is the unit under the executor's
// retry and rate-limiting control.
type Runner func(ctx context.Context, work script.WorkDescriptor, params map[string]any) (script.RawResult, error)

// Kind classifies a run failure for the retry loop.
type Kind int

const (
	// KindRetryable marks transient failures eligible for backoff retry.
	KindRetryable Kind = iota
	// KindFatal fails the execution immediately, no retry.
	KindFatal
)

func (k Kind) String() string {
	if k == KindRetryable {
		return "retryable"
	}
	return "fatal"
}

// Error is a run failure with an explicit kind and platform code, attached
// at the runner boundary so classification does not depend on message text.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Retryable builds a transient run error.
func Retryable(code, format string, args ...any) *Error {
	return &Error{Kind: KindRetryable, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Fatal builds a non-retryable run error.
func Fatal(code, format string, args ...any) *Error {
	return &Error{Kind: KindFatal, Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts a *Error from err's chain, if present.
func AsError(err error) (*Error, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
