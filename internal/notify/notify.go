// Package notify delivers monitor alerts to an external channel
// asynchronously: bounded queue, one worker, rate limiting and a dedup
// window so a flapping script does not spam the operator.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"adflow/internal/eventbus"
	"adflow/internal/monitor"
	"adflow/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
)

// Sender delivers one rendered alert message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type Config struct {
	Enabled     bool
	QueueSize   int           // default 128
	RatePerSec  int           // default 1
	DedupWindow time.Duration // default 10m; 0 keeps the default, negative disables
	MinSeverity monitor.Severity
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.DedupWindow == 0 {
		c.DedupWindow = 10 * time.Minute
	}
	if c.MinSeverity == "" {
		c.MinSeverity = monitor.SeverityLow
	}
	return c
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	sender Sender
	bus    eventbus.Bus

	limiter *rate.Limiter
	queue   chan monitor.Alert

	// dedup: rule+script -> suppress until
	dedup map[string]time.Time

	cancelSub func()
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		log:     log,
		cfg:     cfg,
		sender:  sender,
		bus:     bus,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		queue:   make(chan monitor.Alert, cfg.QueueSize),
		dedup:   map[string]time.Time{},
	}
}

// Start subscribes to alert.raised events and launches the send worker.
// No-op when disabled or no sender is configured.
func (s *Service) Start(ctx context.Context) {
	if !s.cfg.Enabled || s.sender == nil {
		s.log.Debug("notifier disabled")
		return
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.runCancel = cancel
	s.mu.Unlock()

	if s.bus != nil {
		ch, cancelSub := s.bus.Subscribe(64, eventbus.TopicAlertRaised)
		s.mu.Lock()
		s.cancelSub = cancelSub
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case e, ok := <-ch:
					if !ok {
						return
					}
					if a, ok := e.Payload.(monitor.Alert); ok {
						if err := s.Enqueue(a); err != nil {
							s.log.Debug("alert not queued", logx.Err(err), logx.String("rule", a.Rule))
						}
					}
				}
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker(runCtx)
	}()
	s.log.Info("notifier started", logx.Int("rate_per_sec", s.cfg.RatePerSec))
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancelSub := s.cancelSub
	cancel := s.runCancel
	s.cancelSub = nil
	s.runCancel = nil
	s.mu.Unlock()

	if cancelSub != nil {
		cancelSub()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Enqueue accepts one alert for delivery. Non-blocking; a full queue drops
// the alert and returns ErrQueueFull.
func (s *Service) Enqueue(a monitor.Alert) error {
	if !s.cfg.Enabled || s.sender == nil {
		return ErrDisabled
	}
	if severityRank(a.Severity) < severityRank(s.cfg.MinSeverity) {
		return nil
	}
	if s.suppressed(a) {
		return nil
	}
	select {
	case s.queue <- a:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) suppressed(a monitor.Alert) bool {
	if s.cfg.DedupWindow < 0 {
		return false
	}
	key := a.Rule + "|" + a.ScriptID
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return true
	}
	s.dedup[key] = now.Add(s.cfg.DedupWindow)
	// Opportunistic cleanup so the map does not grow unbounded.
	if len(s.dedup) > 1024 {
		for k, until := range s.dedup {
			if now.After(until) {
				delete(s.dedup, k)
			}
		}
	}
	return false
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			text := renderAlert(a)
			err := s.sender.Send(ctx, text)
			if err != nil {
				// Retry once; alerting is best-effort beyond that.
				time.Sleep(500 * time.Millisecond)
				err = s.sender.Send(ctx, text)
			}
			if err != nil {
				s.log.Warn("alert delivery failed", logx.Err(err), logx.String("rule", a.Rule))
			}
		}
	}
}

func renderAlert(a monitor.Alert) string {
	return fmt.Sprintf("[%s] %s\nscript: %s\n%s", a.Severity, a.Rule, a.ScriptID, a.Message)
}

func severityRank(s monitor.Severity) int {
	switch s {
	case monitor.SeverityHigh:
		return 2
	case monitor.SeverityMedium:
		return 1
	default:
		return 0
	}
}
