package app

import (
	"time"

	"adflow/internal/config"
	"adflow/internal/executor"
	"adflow/internal/monitor"
	"adflow/internal/notify"
	"adflow/internal/ratelimit"
	"adflow/internal/scheduler"
	"adflow/internal/storage"
	"adflow/pkg/logx"
)

// Mapping from the on-disk config to per-service configs. Durations were
// already validated by config.Validate, so parse errors fall back to
// defaults here.

func logxConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	poll, _ := config.ParseDurationField("scheduler.poll_interval", cfg.Scheduler.PollInterval)
	drain, _ := config.ParseDurationField("scheduler.drain_timeout", cfg.Scheduler.DrainTimeout)
	return scheduler.Config{
		PollInterval: poll,
		Workers:      cfg.Scheduler.Workers,
		MaxHistory:   cfg.Scheduler.MaxHistory,
		DrainTimeout: drain,
		Timezone:     cfg.Scheduler.Timezone,
	}
}

func executorConfig(cfg *config.Config) executor.Config {
	base, _ := config.ParseDurationField("executor.base_delay", cfg.Executor.BaseDelay)
	return executor.Config{
		MaxRetries: cfg.Executor.MaxRetries,
		BaseDelay:  base,
	}
}

func rateLimitProfiles(cfg *config.Config) (map[string]ratelimit.Config, ratelimit.Config) {
	var fallback ratelimit.Config
	if d := cfg.RateLimits.Default; d != nil {
		fallback = ratelimit.Config{CallsPerSecond: d.CallsPerSecond, CallsPerMinute: d.CallsPerMinute}
	}
	if len(cfg.RateLimits.Profiles) == 0 {
		return nil, fallback
	}
	profiles := make(map[string]ratelimit.Config, len(cfg.RateLimits.Profiles))
	for name, p := range cfg.RateLimits.Profiles {
		profiles[name] = ratelimit.Config{CallsPerSecond: p.CallsPerSecond, CallsPerMinute: p.CallsPerMinute}
	}
	return profiles, fallback
}

func monitorConfig(cfg *config.Config) monitor.Config {
	long, _ := config.ParseDurationField("monitor.long_execution", cfg.Monitor.LongExecution)
	return monitor.Config{
		HighErrorRate: cfg.Monitor.HighErrorRate,
		MinExecutions: cfg.Monitor.MinExecutions,
		LongExecution: long,
	}
}

func alertMaxAge(cfg *config.Config) time.Duration {
	age, _ := config.ParseDurationOrDefault("monitor.alert_max_age", cfg.Monitor.AlertMaxAge, 24*time.Hour)
	return age
}

func notifyConfig(nc *config.NotifyConfig) notify.Config {
	dedup, _ := config.ParseDurationField("notify.dedup_window", nc.DedupWindow)
	return notify.Config{
		Enabled:     nc.Enabled,
		QueueSize:   nc.QueueSize,
		RatePerSec:  nc.RatePerSec,
		DedupWindow: dedup,
		MinSeverity: monitor.Severity(nc.MinSeverity),
	}
}

func storageConfig(sc *config.StorageConfig) storage.Config {
	busy, _ := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	return storage.Config{
		Driver:      sc.Driver,
		Path:        sc.Path,
		KeepLast:    sc.KeepLast,
		BusyTimeout: busy,
	}
}
