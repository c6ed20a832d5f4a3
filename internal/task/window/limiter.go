package window

import (
	"context"
	"fmt"
	"sync"
	"time"

	logx "fifosched/pkg/logx"
)

// Config bounds admissions to MaxCount per sliding Window.
type Config struct {
	MaxCount int           `json:"max_count"`
	Window   time.Duration `json:"window"`
}

func (c Config) Validate() error {
	if c.MaxCount <= 0 {
		return fmt.Errorf("rate limit max_count must be > 0 (got %d)", c.MaxCount)
	}
	if c.Window <= 0 {
		return fmt.Errorf("rate limit window must be > 0 (got %s)", c.Window)
	}
	return nil
}

func (c Config) String() string { return fmt.Sprintf("%d/%s", c.MaxCount, c.Window) }

// Limiter counts admissions over a sliding window.
//
// Timestamps are kept in record order. The dispatch loop is the only writer;
// the mutex exists so Stats can be read from other goroutines.
type Limiter struct {
	cfg Config
	log logx.Logger

	mu    sync.Mutex
	times []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Limiter)

// WithClock injects the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSleeper injects the blocking primitive used by Wait (tests).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		cfg:   cfg,
		times: make([]time.Time, 0, max(cfg.MaxCount, 1)),
		now:   time.Now,
		sleep: sleepContext,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// NewCount is New with the count and window given separately.
func NewCount(maxCount int, window time.Duration, opts ...Option) *Limiter {
	return New(Config{MaxCount: maxCount, Window: window}, opts...)
}

func (l *Limiter) Config() Config { return l.cfg }

// Record appends one admission at the current time.
func (l *Limiter) Record() {
	l.mu.Lock()
	l.times = append(l.times, l.now())
	l.mu.Unlock()
}

// Purge drops every timestamp older than now-Window.
func (l *Limiter) Purge() {
	l.mu.Lock()
	l.purgeLocked(l.now())
	l.mu.Unlock()
}

func (l *Limiter) purgeLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	// Timestamps are ordered; count the expired prefix.
	expired := 0
	for _, t := range l.times {
		if t.Before(cutoff) {
			expired++
			continue
		}
		break
	}
	if expired == 0 {
		return
	}
	n := copy(l.times, l.times[expired:])
	l.times = l.times[:n]
}

// UnderLimit reports whether another admission fits in the window.
// It does not purge; call Purge first for a current answer.
func (l *Limiter) UnderLimit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.times) < l.cfg.MaxCount
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.times)
}

// Delay is how long Wait would block right now.
//
// The interval is |(newest + Window) - oldest|: the distance between the
// moment the newest admission leaves the window and the oldest retained
// admission. It is 0 when under the limit.
func (l *Limiter) Delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delayLocked()
}

func (l *Limiter) delayLocked() time.Duration {
	if len(l.times) < l.cfg.MaxCount || len(l.times) == 0 {
		return 0
	}
	oldest := l.times[0]
	limit := l.times[len(l.times)-1].Add(l.cfg.Window)
	d := limit.Sub(oldest)
	if d < 0 {
		d = -d
	}
	return d
}

// Wait blocks for Delay() when the limiter is over its count.
// A done ctx aborts the sleep early and its error is returned; callers
// treat that as cancellation.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	d := l.delayLocked()
	n := len(l.times)
	l.mu.Unlock()

	if d <= 0 {
		return nil
	}
	if !l.log.IsZero() {
		l.log.Debug("rate window full; waiting",
			logx.String("limit", l.cfg.String()),
			logx.Int("in_window", n),
			logx.Duration("wait", d),
		)
	}
	return l.sleep(ctx, d)
}

// CheckAndWait purges expired admissions, then waits if still over the count.
func (l *Limiter) CheckAndWait(ctx context.Context) error {
	l.Purge()
	return l.Wait(ctx)
}

// Stats returns the admissions currently in the window and the remaining capacity.
func (l *Limiter) Stats() (inWindow int, remaining int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purgeLocked(l.now())
	inWindow = len(l.times)
	remaining = l.cfg.MaxCount - inWindow
	if remaining < 0 {
		remaining = 0
	}
	return inWindow, remaining
}

// Reset clears all recorded admissions.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.times = l.times[:0]
	l.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
