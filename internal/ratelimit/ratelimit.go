package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const windowSpan = time.Minute

// slack added on top of a computed window wait so the oldest timestamp has
// actually left the window when the caller resumes.
const windowSlack = 100 * time.Millisecond

// Config bounds one execution stream.
type Config struct {
	CallsPerSecond float64
	CallsPerMinute int
}

// Limiter enforces a sliding-window calls-per-minute cap plus a
// minimum-interval calls-per-second cap for a single stream.
//
// Wait blocks the calling goroutine until a call is compliant; it must only
// be invoked from workers that can afford to block, never from a scheduling
// loop. One Limiter owns one stream: sharing it across unrelated streams
// pools their call volumes together.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	window []time.Time
	pacer  *rate.Limiter

	// test seam; defaults to the real clock
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config) *Limiter {
	if cfg.CallsPerSecond <= 0 {
		cfg.CallsPerSecond = 1
	}
	if cfg.CallsPerMinute <= 0 {
		cfg.CallsPerMinute = 60
	}
	return &Limiter{
		cfg:   cfg,
		pacer: rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), 1),
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Wait blocks until recording one call keeps the stream compliant, then
// records it. Returns early only when ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	if len(l.window) >= l.cfg.CallsPerMinute {
		wait := windowSpan - now.Sub(l.window[0]) + windowSlack
		if wait > 0 {
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
			now = l.now()
			l.pruneLocked(now)
		}
	}

	// Minimum interval between consecutive calls (1/CallsPerSecond).
	if err := l.pacer.Wait(ctx); err != nil {
		return err
	}
	now = l.now()

	l.window = append(l.window, now)
	return nil
}

// WindowLen reports the number of calls currently inside the trailing
// 60-second window.
func (l *Limiter) WindowLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	return len(l.window)
}

func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-windowSpan)
	i := 0
	for i < len(l.window) && !l.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.window = append(l.window[:0], l.window[i:]...)
	}
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
