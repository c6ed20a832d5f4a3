package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"fifosched/internal/eventbus"
	"fifosched/internal/job"
	rtsup "fifosched/internal/runtime/supervisor"
	"fifosched/internal/task/queue"
	logx "fifosched/pkg/logx"
)

const (
	reasonDrained     = "drained"
	reasonStopped     = "stop requested"
	reasonInterrupted = "interrupted"
)

// Controller drains a queue onto a fixed worker pool.
//
// One Controller runs at most once: Idle -> Running -> Draining -> Stopped.
// Build a new one to run again.
type Controller struct {
	cfg      Config
	q        *queue.Queue
	log      logx.Logger
	bus      eventbus.Bus
	onFinish func(Outcome)

	state atomic.Int32

	stopOnce sync.Once
	stopCh   chan struct{}
	abort    chan struct{}
	done     chan struct{}

	// slots holds one token per idle worker.
	slots chan struct{}
	work  chan *Handle
	watch chan *Handle

	mu          sync.Mutex
	outstanding []*Handle
	cancelLoop  context.CancelFunc

	seq        atomic.Uint64
	dispatched atomic.Uint64

	loopErrs rate.Sometimes
}

type Option func(*Controller)

func WithLogger(log logx.Logger) Option { return func(c *Controller) { c.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(c *Controller) { c.bus = bus } }

// WithOnFinish registers fn to receive every finished run. It is called on
// the worker goroutine and must not block.
func WithOnFinish(fn func(Outcome)) Option { return func(c *Controller) { c.onFinish = fn } }

func New(q *queue.Queue, cfg Config, opts ...Option) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:      cfg,
		q:        q,
		stopCh:   make(chan struct{}),
		abort:    make(chan struct{}),
		done:     make(chan struct{}),
		slots:    make(chan struct{}, cfg.Workers),
		work:     make(chan *Handle),
		watch:    make(chan *Handle, cfg.Workers+1),
		loopErrs: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	for i := 0; i < cfg.Workers; i++ {
		c.slots <- struct{}{}
	}
	return c
}

func (c *Controller) State() State { return State(c.state.Load()) }

// Done is closed when the controller reaches StateStopped.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Stop asks the loop to drain. It does not wait; use Done.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.mu.Lock()
		cancel := c.cancelLoop
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// Run executes the dispatch loop until the queue drains, Stop is called or
// ctx is cancelled, then drains the pools. Queued jobs are left in the queue.
func (c *Controller) Run(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrControllerUsed
	}
	defer close(c.done)

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	c.mu.Lock()
	c.cancelLoop = cancelLoop
	c.mu.Unlock()
	select {
	case <-c.stopCh:
		cancelLoop()
	default:
	}

	// Running jobs outlive an interrupted parent for the drain grace.
	jobsCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	sup := rtsup.New(jobsCtx, rtsup.WithLogger(c.log))
	for i := 0; i < c.cfg.Workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), c.worker, 0, 0)
	}
	for i := 0; i < c.cfg.Workers+1; i++ {
		sup.GoRestart(fmt.Sprintf("watchdog.%d", i), c.watchdog, 0, 0)
	}

	c.log.Info("controller started",
		logx.Int("workers", c.cfg.Workers),
		logx.Duration("timeout", c.cfg.Timeout.Duration()),
		logx.Int("limiters", len(c.cfg.Limiters)),
	)
	c.publish(eventbus.TopicControllerStarted, eventbus.ControllerEvent{Workers: c.cfg.Workers})

	reason := c.loop(loopCtx, ctx, jobsCtx)
	c.drain(sup, cancelJobs, reason)
	return nil
}

func (c *Controller) loop(loopCtx, parent, jobsCtx context.Context) string {
	for {
		c.iterate(loopCtx, jobsCtx)
		if reason, stop := c.stopReason(parent); stop {
			return reason
		}
	}
}

func (c *Controller) stopReason(parent context.Context) (string, bool) {
	select {
	case <-c.stopCh:
		return reasonStopped, true
	case <-parent.Done():
		return reasonInterrupted, true
	default:
	}
	if c.q.Len() == 0 && c.outstandingLen() == 0 {
		return reasonDrained, true
	}
	return "", false
}

func (c *Controller) stopping(ctx context.Context) bool {
	select {
	case <-c.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// iterate runs one loop step. A panic is logged and the loop carries on.
func (c *Controller) iterate(ctx, jobsCtx context.Context) {
	held := false
	defer func() {
		if r := recover(); r != nil {
			if held {
				c.releaseSlot()
			}
			c.loopErrs.Do(func() {
				c.log.Error("dispatch loop panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			})
		}
	}()

	if !c.acquireSlot(ctx) {
		return
	}
	held = true
	if c.stopping(ctx) {
		held = false
		c.releaseSlot()
		return
	}

	j, ok := c.q.Take(ctx, c.cfg.PollInterval)
	if ok && c.stopping(ctx) {
		c.q.Requeue(j.Key())
		ok = false
	}
	if !ok {
		held = false
		c.releaseSlot()
		c.throttle(ctx)
		return
	}
	held = false
	c.dispatch(jobsCtx, j)
	c.throttle(ctx)
}

func (c *Controller) acquireSlot(ctx context.Context) bool {
	select {
	case <-c.slots:
		return true
	default:
	}
	t := time.NewTimer(c.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-c.slots:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Controller) releaseSlot() {
	select {
	case c.slots <- struct{}{}:
	default:
	}
}

// dispatch hands j to an idle worker. The caller holds the worker's slot.
func (c *Controller) dispatch(jobsCtx context.Context, j job.Job) {
	h := newHandle(jobsCtx, c.seq.Add(1), j)
	c.addOutstanding(h)

	c.work <- h
	<-h.started

	for _, l := range c.cfg.Limiters {
		l.Record()
	}
	c.watch <- h
	n := c.dispatched.Add(1)

	c.log.Debug("job dispatched", logx.String("key", h.key), logx.Uint64("seq", n))
	c.publish(eventbus.TopicJobDispatched, c.jobEvent(h, nil))
}

// throttle blocks the loop while any limiter is over its count.
func (c *Controller) throttle(ctx context.Context) {
	for _, l := range c.cfg.Limiters {
		if err := l.CheckAndWait(ctx); err != nil {
			return
		}
	}
}

func (c *Controller) drain(sup *rtsup.Supervisor, cancelJobs context.CancelFunc, reason string) {
	c.state.Store(int32(StateDraining))
	c.log.Info("controller draining",
		logx.String("reason", reason),
		logx.Int("outstanding", c.outstandingLen()),
		logx.Int("queued", c.q.Len()),
	)

	// The loop was the only sender.
	close(c.work)
	close(c.watch)

	if err := waitFor(sup, c.cfg.DrainTimeout); errors.Is(err, context.DeadlineExceeded) {
		// Set the cause on every run before the shared context goes, so each
		// job observes ErrJobInterrupted rather than a bare cancellation.
		c.interruptOutstanding()
		close(c.abort)
		cancelJobs()
		if err := waitFor(sup, c.cfg.DrainTimeout); errors.Is(err, context.DeadlineExceeded) {
			c.log.Warn("jobs still running after cancellation", logx.Int("outstanding", c.outstandingLen()))
		}
	}

	c.state.Store(int32(StateStopped))
	c.log.Info("controller stopped", logx.String("reason", reason), logx.Uint64("dispatched", c.dispatched.Load()))
	c.publish(eventbus.TopicControllerStopped, eventbus.ControllerEvent{
		Workers:    c.cfg.Workers,
		Dispatched: c.dispatched.Load(),
		Reason:     reason,
	})
}

// interruptOutstanding cancels every unfinished run with ErrJobInterrupted.
func (c *Controller) interruptOutstanding() {
	c.mu.Lock()
	handles := append([]*Handle(nil), c.outstanding...)
	c.mu.Unlock()
	for _, h := range handles {
		if h.Cancel(ErrJobInterrupted) {
			c.log.Warn("job interrupted", logx.String("key", h.key))
			c.publish(eventbus.TopicJobCancelled, c.jobEvent(h, ErrJobInterrupted))
		}
	}
}

func waitFor(sup *rtsup.Supervisor, d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return sup.Wait(ctx)
}

func (c *Controller) addOutstanding(h *Handle) {
	c.mu.Lock()
	c.outstanding = append(c.outstanding, h)
	c.mu.Unlock()
}

func (c *Controller) removeOutstanding(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, o := range c.outstanding {
		if o == h {
			c.outstanding = append(c.outstanding[:i], c.outstanding[i+1:]...)
			return
		}
	}
}

func (c *Controller) outstandingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outstanding)
}

// Outstanding returns the jobs of dispatched runs that the watchdog has not
// released yet, in dispatch order.
func (c *Controller) Outstanding() []job.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]job.Job, 0, len(c.outstanding))
	for _, h := range c.outstanding {
		out = append(out, h.job)
	}
	return out
}

func (c *Controller) Snapshot() Snapshot {
	snap := Snapshot{
		State:       c.State(),
		Workers:     c.cfg.Workers,
		Busy:        c.cfg.Workers - len(c.slots),
		Outstanding: c.outstandingLen(),
		Dispatched:  c.dispatched.Load(),
		Timeout:     c.cfg.Timeout.Duration(),
	}
	for _, l := range c.cfg.Limiters {
		in, rem := l.Stats()
		snap.Limiters = append(snap.Limiters, LimiterStats{Config: l.Config(), InWindow: in, Remaining: rem})
	}
	return snap
}

func (c *Controller) publish(topic string, data any) {
	eventbus.Publish(c.bus, topic, data)
}

func (c *Controller) jobEvent(h *Handle, err error) eventbus.JobEvent {
	ev := eventbus.JobEvent{Key: h.key, Started: h.startedAt}
	if r, ok := h.job.(job.Reporter); ok {
		rep := r.Report()
		ev.RunID = rep.ID
		ev.Status = string(rep.Status)
		ev.Percent = rep.Percent
	}
	if h.isDone() {
		ev.Duration = h.finished.Sub(h.startedAt)
	} else if !h.startedAt.IsZero() {
		ev.Duration = time.Since(h.startedAt)
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
