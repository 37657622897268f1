// Package executor runs registered scripts end-to-end: parameter
// validation, work generation, rate-limited execution with bounded retry,
// and metrics aggregation.
package executor

import (
	"context"
	"fmt"
	"time"

	"adflow/internal/ratelimit"
	"adflow/internal/runner"
	"adflow/internal/script"
	"adflow/pkg/logx"
)

type Config struct {
	MaxRetries int           // retry attempts after the first run (default 3)
	BaseDelay  time.Duration // backoff base (default 1s)
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	return c
}

// Executor owns the registry of executable scripts and the retry/rate-limit
// machinery around the run primitive.
type Executor struct {
	log      logx.Logger
	cfg      Config
	registry *script.Registry
	limits   *ratelimit.Registry
	run      runner.Runner
	metrics  *Metrics

	// test seam for backoff sleeps
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, run runner.Runner, limits *ratelimit.Registry, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if limits == nil {
		limits = ratelimit.NewRegistry(nil, ratelimit.DefaultProfile)
	}
	return &Executor{
		log:      log,
		cfg:      cfg.withDefaults(),
		registry: script.NewRegistry(),
		limits:   limits,
		run:      run,
		metrics:  newMetrics(),
		sleep:    sleepCtx,
	}
}

// Register assigns an id to the script and stores it for execution.
func (e *Executor) Register(s script.Script) (string, error) {
	id, err := e.registry.Register(s)
	if err != nil {
		return "", err
	}
	e.log.Debug("script registered", logx.String("script", id), logx.String("type", s.Type()))
	return id, nil
}

// Lookup resolves a registered script by id.
func (e *Executor) Lookup(id string) (script.Script, error) {
	return e.registry.Get(id)
}

// Metrics returns a snapshot with derived success/failure rates.
func (e *Executor) Metrics() Snapshot { return e.metrics.Snapshot() }

// ResetMetrics clears all counters.
func (e *Executor) ResetMetrics() { e.metrics.Reset() }

// Execute runs one script end-to-end and returns its structured result.
//
// Failures from the run step never vanish: they surface as a failed Result
// with Errors populated (and the error returned for logging). Cancellation
// propagates: a cancelled run yields a cancelled Result and ctx.Err().
func (e *Executor) Execute(ctx context.Context, id string) (script.Result, error) {
	s, err := e.registry.Get(id)
	if err != nil {
		return script.Result{}, err
	}
	log := e.log.With(logx.String("script", id), logx.String("type", s.Type()))

	if !s.Validate() {
		log.Warn("script rejected invalid parameters")
		res := script.Result{
			Status: script.StatusFailed,
			Errors: []string{"invalid parameters"},
		}
		e.metrics.record(s.Type(), 0, 0, "invalid_parameters", outcomeFailed)
		return res, nil
	}

	start := time.Now()

	work, err := s.GenerateWork()
	if err != nil {
		log.Error("work generation failed", logx.Err(err))
		res := failedResult(time.Since(start), err)
		e.metrics.record(s.Type(), time.Since(start), 0, "generate_work", outcomeFailed)
		return res, err
	}

	raw, retries, err := e.runWithRetry(ctx, log, s.Type(), work, s.Params())
	elapsed := time.Since(start)

	if err != nil {
		if runner.IsCancellation(err) && ctx.Err() != nil {
			log.Info("execution cancelled", logx.Duration("dur", elapsed), logx.Int("retries", retries))
			res := script.Result{
				Status:        script.StatusCancelled,
				ExecutionTime: elapsed,
				Errors:        []string{err.Error()},
			}
			e.metrics.record(s.Type(), elapsed, retries, "cancelled", outcomeCancelled)
			return res, err
		}
		log.Warn("execution failed", logx.Err(err), logx.Duration("dur", elapsed), logx.Int("retries", retries))
		res := failedResult(elapsed, err)
		res.Details = map[string]any{"retries": retries}
		e.metrics.record(s.Type(), elapsed, retries, errorCode(err), outcomeFailed)
		return res, err
	}

	res := s.ProcessResult(raw)
	if res.Status == "" {
		res.Status = script.StatusCompleted
	}
	if res.ExecutionTime == 0 {
		res.ExecutionTime = elapsed
	}
	if res.Details == nil {
		res.Details = map[string]any{}
	}
	res.Details["retries"] = retries

	e.metrics.record(s.Type(), elapsed, retries, "", outcomeSucceeded)
	log.Info("execution completed",
		logx.Duration("dur", elapsed),
		logx.Int("retries", retries),
		logx.Int("rows", res.RowsProcessed),
		logx.Int("changes", res.ChangesMade))
	return res, nil
}

// runWithRetry applies the rate limiter and bounded exponential backoff
// around the run primitive. It returns the raw result and how many retries
// were spent (0 when the first attempt succeeded).
func (e *Executor) runWithRetry(ctx context.Context, log logx.Logger, stream string, work script.WorkDescriptor, params map[string]any) (script.RawResult, int, error) {
	limiter := e.limits.For(stream)

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return script.RawResult{}, attempt, err
		}

		raw, err := e.run(ctx, work, params)
		if err == nil {
			return raw, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return script.RawResult{}, attempt, ctx.Err()
		}
		if runner.Classify(err) == runner.KindFatal {
			return script.RawResult{}, attempt, err
		}
		if attempt == e.cfg.MaxRetries {
			break
		}

		delay := e.backoff(attempt)
		log.Debug("retrying after transient error",
			logx.Err(err),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay))
		if err := e.sleep(ctx, delay); err != nil {
			return script.RawResult{}, attempt, err
		}
	}
	return script.RawResult{}, e.cfg.MaxRetries, fmt.Errorf("retries exhausted: %w", lastErr)
}

// backoff computes base*2^attempt plus linear jitter (0.1s per attempt).
func (e *Executor) backoff(attempt int) time.Duration {
	d := e.cfg.BaseDelay << uint(attempt)
	return d + time.Duration(attempt)*100*time.Millisecond
}

func failedResult(elapsed time.Duration, err error) script.Result {
	return script.Result{
		Status:        script.StatusFailed,
		ExecutionTime: elapsed,
		Errors:        []string{err.Error()},
	}
}

func errorCode(err error) string {
	if re, ok := runner.AsError(err); ok && re.Code != "" {
		return re.Code
	}
	return runner.Classify(err).String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
