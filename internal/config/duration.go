package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration-valued config fields (scheduler.poll_interval, executor.base_delay,
// monitor.long_execution, ...) are kept as strings on Config and parsed on
// demand, so the strict decoder stays format-agnostic.

// ParseDurationField parses one duration string. Empty means "not set" and
// yields zero; negative durations are rejected. path names the config field
// in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%s: cannot parse %q as a duration: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted when the
// field is unset.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
