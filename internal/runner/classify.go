package runner

import (
	"context"
	"errors"
	"strings"
)

// retryablePatterns is the substring fallback for errors that cross the
// boundary without a structured kind (opaque platform messages). Matching
// is case-insensitive. Message sniffing is a stopgap: runners should attach
// a *Error instead.
var retryablePatterns = []string{
	"rate limit",
	"rate_limit",
	"quota exceeded",
	"resource_exhausted",
	"temporarily unavailable",
	"service unavailable",
	"unavailable",
	"internal error",
	"backend error",
	"timeout",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"network error",
}

// Classify maps a run failure onto a Kind. Structured errors win; plain
// errors fall back to pattern matching, and anything unmatched is fatal.
func Classify(err error) Kind {
	if err == nil {
		return KindFatal
	}
	if re, ok := AsError(err); ok {
		return re.Kind
	}
	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return KindRetryable
		}
	}
	return KindFatal
}

// IsCancellation reports whether err represents the run being aborted
// rather than failing. Cancellation must propagate through the retry loop,
// never be absorbed by it.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
