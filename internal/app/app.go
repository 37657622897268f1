// Package app wires the engine together: config, logging, event bus, rate
// limits, executor, scheduler, monitor, alert delivery and the audit sink.
package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"adflow/internal/config"
	"adflow/internal/eventbus"
	"adflow/internal/executor"
	"adflow/internal/monitor"
	"adflow/internal/notify"
	"adflow/internal/ratelimit"
	"adflow/internal/runner"
	"adflow/internal/scheduler"
	"adflow/internal/storage"
	"adflow/pkg/logx"
)

type App struct {
	manager *config.Manager
	logSvc  *logx.Service
	log     logx.Logger

	bus      eventbus.Bus
	limits   *ratelimit.Registry
	exec     *executor.Executor
	sched    *scheduler.Service
	mon      *monitor.Monitor
	notifier *notify.Service
	store    storage.Store
	recorder *storage.Recorder

	metricsSrv *http.Server

	cancelBG context.CancelFunc
	bgWG     sync.WaitGroup
}

// New loads the config and builds all services. The run primitive is the
// caller's integration point with the remote platform.
func New(cfgPath string, run runner.Runner) (*App, error) {
	m := config.NewManager(cfgPath)
	cfg, err := m.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logxConfig(cfg))
	m.SetLogger(log.With(logx.String("component", "config")))
	m.SetValidator(func(ctx context.Context, c *config.Config) error {
		return config.Validate(c)
	})

	bus := eventbus.New()
	profiles, fallback := rateLimitProfiles(cfg)
	limits := ratelimit.NewRegistry(profiles, fallback)
	exec := executor.New(executorConfig(cfg), run, limits, log.With(logx.String("component", "executor")))
	sched := scheduler.New(schedulerConfig(cfg), exec, bus, log.With(logx.String("component", "scheduler")))
	mon := monitor.New(monitorConfig(cfg), bus, log.With(logx.String("component", "monitor")))

	a := &App{
		manager: m,
		logSvc:  logSvc,
		log:     log,
		bus:     bus,
		limits:  limits,
		exec:    exec,
		sched:   sched,
		mon:     mon,
	}

	if nc := cfg.Notify; nc != nil && nc.Enabled {
		sender, err := notify.NewTelegramSender(notify.TelegramConfig{
			Token:    nc.Telegram.Token,
			ChatID:   nc.Telegram.ChatID,
			ThreadID: nc.Telegram.ThreadID,
		})
		if err != nil {
			return nil, err
		}
		a.notifier = notify.New(notifyConfig(nc), sender, bus, log.With(logx.String("component", "notify")))
	}

	if sc := cfg.Storage; sc != nil {
		store, err := storage.Open(storageConfig(sc), log.With(logx.String("component", "storage")))
		if err != nil {
			return nil, err
		}
		if store != nil {
			a.store = store
			a.recorder = storage.NewRecorder(store, bus, log.With(logx.String("component", "storage")))
		}
	}

	return a, nil
}

// Scheduler exposes the schedule management and query surface.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Executor exposes script registration and execution metrics.
func (a *App) Executor() *executor.Executor { return a.exec }

// Monitor exposes per-script metrics and alerts.
func (a *App) Monitor() *monitor.Monitor { return a.mon }

func (a *App) Start(ctx context.Context) error {
	cfg := a.manager.Get()

	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancelBG = cancel

	a.mon.Start(bgCtx)
	if a.recorder != nil {
		a.recorder.Start(bgCtx)
	}
	if a.notifier != nil {
		a.notifier.Start(bgCtx)
	}
	a.sched.Start(ctx)

	if addr := cfg.Monitor.MetricsListen; addr != "" {
		a.startMetrics(addr)
	}

	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		_ = a.manager.Watch(bgCtx)
	}()
	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		a.applyLoop(bgCtx)
	}()
	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		a.pruneLoop(bgCtx, alertMaxAge(cfg))
	}()

	a.notifySystemd(bgCtx)
	a.log.Info("adflow started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sched.Stop(ctx)
	if a.notifier != nil {
		a.notifier.Stop()
	}
	if a.recorder != nil {
		a.recorder.Stop()
	}
	a.mon.Stop()

	if a.cancelBG != nil {
		a.cancelBG()
	}
	a.bgWG.Wait()

	if a.metricsSrv != nil {
		shCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		_ = a.metricsSrv.Shutdown(shCtx)
		cancel()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("adflow stopped")
	return a.logSvc.Close()
}

func (a *App) startMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metricsSrv = &http.Server{Addr: addr, Handler: mux}

	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics listener failed", logx.Err(err), logx.String("addr", addr))
		}
	}()
	a.log.Info("metrics listening", logx.String("addr", addr))
}

// applyLoop pushes config reloads into the live services.
func (a *App) applyLoop(ctx context.Context) {
	ch := a.manager.Subscribe(1)
	defer a.manager.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok || cfg == nil {
				return
			}
			a.logSvc.Apply(logxConfig(cfg))
			a.sched.Apply(schedulerConfig(cfg))
			profiles, fallback := rateLimitProfiles(cfg)
			a.limits.Apply(profiles, fallback)
			a.log.Info("config applied")
		}
	}
}

// pruneLoop ages out old alerts hourly.
func (a *App) pruneLoop(ctx context.Context, maxAge time.Duration) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.mon.PruneAlerts(maxAge); n > 0 {
				a.log.Debug("alerts pruned", logx.Int("removed", n))
			}
		}
	}
}

// notifySystemd reports readiness and feeds the watchdog when running
// under systemd; a no-op otherwise.
func (a *App) notifySystemd(ctx context.Context) {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}
