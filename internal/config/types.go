package config

// Config is the on-disk configuration. YAML and JSON are both accepted;
// unknown fields are rejected so typos fail loudly at load time.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Executor  ExecutorConfig  `json:"executor,omitempty"`

	// RateLimits maps script types to their call budgets. Unlisted types
	// fall back to Default (or the built-in 1/s, 60/min profile).
	RateLimits RateLimitsConfig `json:"rate_limits,omitempty"`

	Monitor MonitorConfig  `json:"monitor,omitempty"`
	Notify  *NotifyConfig  `json:"notify,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console,omitempty"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type SchedulerConfig struct {
	PollInterval string `json:"poll_interval,omitempty"` // default "10s"
	Workers      int    `json:"workers,omitempty"`       // clamped to [1,10], default 4
	MaxHistory   int    `json:"max_history,omitempty"`   // default 50
	DrainTimeout string `json:"drain_timeout,omitempty"` // default "30s"
	Timezone     string `json:"timezone,omitempty"`      // IANA TZ
}

type ExecutorConfig struct {
	MaxRetries int    `json:"max_retries,omitempty"` // default 3
	BaseDelay  string `json:"base_delay,omitempty"`  // default "1s"
}

type RateLimitsConfig struct {
	Default  *RateLimitProfile           `json:"default,omitempty"`
	Profiles map[string]RateLimitProfile `json:"profiles,omitempty"`
}

type RateLimitProfile struct {
	CallsPerSecond float64 `json:"calls_per_second"`
	CallsPerMinute int     `json:"calls_per_minute"`
}

type MonitorConfig struct {
	HighErrorRate float64 `json:"high_error_rate,omitempty"` // default 0.5
	MinExecutions int     `json:"min_executions,omitempty"`  // default 5
	LongExecution string  `json:"long_execution,omitempty"`  // default "300s"
	AlertMaxAge   string  `json:"alert_max_age,omitempty"`   // default "24h"

	// MetricsListen serves Prometheus /metrics when set (e.g. ":9090").
	MetricsListen string `json:"metrics_listen,omitempty"`
}

type NotifyConfig struct {
	Enabled     bool   `json:"enabled"`
	QueueSize   int    `json:"queue_size,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	DedupWindow string `json:"dedup_window,omitempty"`
	MinSeverity string `json:"min_severity,omitempty"`

	Telegram TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // "", "none", "file", "sqlite"
	Path        string `json:"path,omitempty"`
	KeepLast    int    `json:"keep_last,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
