package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"fifosched/internal/eventbus"
	"fifosched/internal/job"
	rtsup "fifosched/internal/runtime/supervisor"
	"fifosched/internal/task/engine"
	"fifosched/internal/task/queue"
	"fifosched/internal/task/window"
	logx "fifosched/pkg/logx"
)

// Service owns one queue for its whole life and runs at most one controller
// at a time. A controller stops by itself once the queue drains; Start it
// again to process later submissions.
type Service struct {
	log logx.Logger
	bus eventbus.Bus
	q   *queue.Queue

	// state is written under mu and read without it.
	state atomic.Int32

	mu      sync.Mutex
	cfg     Config
	ctrl    *engine.Controller
	done    chan struct{}
	restart bool
	// halted is set by Stop and cleared by Start.
	halted  bool
	runs    uint64

	hmu     sync.Mutex
	history []HistoryItem

	rejected atomic.Uint64
	fullWarn rate.Sometimes
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{
		log:      log,
		bus:      bus,
		q:        queue.New(queue.DefaultCapacity),
		cfg:      cfg.withDefaults(),
		fullWarn: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

// Apply replaces the configuration. A running controller keeps the
// configuration it was built with.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	running := s.state.Load() == int32(stateRunning)
	s.mu.Unlock()
	if running {
		s.log.Info("scheduler config updated; applies at next start")
	}
}

func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// RateLimits returns the configured limiter settings.
func (s *Service) RateLimits() []window.Config {
	return s.Config().RateLimits
}

// Submit queues j. It returns false without error when a job with the same
// key is already queued or running, and queue.ErrQueueFull at capacity.
func (s *Service) Submit(j job.Job) (bool, error) {
	ok, err := s.q.Add(j)
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		n := s.rejected.Add(1)
		eventbus.Publish(s.bus, eventbus.TopicJobRejected, eventbus.JobEvent{Key: j.Key(), Error: err.Error()})
		s.fullWarn.Do(func() {
			s.log.Warn("job rejected: queue full",
				logx.String("key", j.Key()),
				logx.Int("queue_cap", s.q.Cap()),
				logx.Uint64("rejected", n),
			)
		})
		return false, err
	case err != nil:
		return false, err
	case !ok:
		s.log.Debug("job already tracked", logx.String("key", j.Key()))
	}
	return ok, nil
}

// Start launches a controller unless one is running and returns a channel
// closed when that run stops. Starting while the current controller drains
// schedules one more run after it stops.
func (s *Service) Start(ctx context.Context) <-chan struct{} {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.halted = false
	if s.state.Load() == int32(stateRunning) {
		if s.ctrl.State() >= engine.StateDraining {
			s.restart = true
		}
		return s.done
	}

	cfg := s.cfg
	limiters := make([]*window.Limiter, 0, len(cfg.RateLimits))
	for _, rc := range cfg.RateLimits {
		limiters = append(limiters, window.New(rc, window.WithLogger(s.log)))
	}
	ctrl := engine.New(s.q, engine.Config{
		Workers:  cfg.MaxWorkers,
		Limiters: limiters,
		Timeout:  engine.NewTimeoutPolicy(cfg.Timeout),
	},
		engine.WithLogger(s.log.Component("engine")),
		engine.WithBus(s.bus),
		engine.WithOnFinish(s.record),
	)
	done := make(chan struct{})
	s.ctrl = ctrl
	s.done = done
	s.restart = false
	s.state.Store(int32(stateRunning))

	sup := rtsup.New(ctx, rtsup.WithLogger(s.log))
	sup.Go("controller", func(runCtx context.Context) error {
		err := ctrl.Run(runCtx)
		s.finish(ctx, done)
		return err
	})
	return done
}

func (s *Service) finish(ctx context.Context, done chan struct{}) {
	s.mu.Lock()
	s.runs++
	s.state.Store(int32(stateStopped))
	close(done)
	// Jobs queued after the controller saw an empty queue would otherwise
	// wait for the next Start.
	again := s.restart || !s.halted
	s.restart = false
	s.mu.Unlock()

	if again && s.q.Len() > 0 && ctx.Err() == nil {
		s.log.Debug("restarting controller for late submissions", logx.Int("queued", s.q.Len()))
		s.Start(ctx)
	}
}

// Stop asks the running controller to drain. It does not wait.
func (s *Service) Stop() {
	s.mu.Lock()
	ctrl := s.ctrl
	s.restart = false
	s.halted = true
	running := s.state.Load() == int32(stateRunning)
	s.mu.Unlock()
	if running && ctrl != nil {
		ctrl.Stop()
	}
}

// Wait blocks until the current run stops or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout is Wait bounded by d; it returns ErrWaitTimeout on expiry.
func (s *Service) WaitTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrWaitTimeout
		}
		return err
	}
	return nil
}

// IsStopped is true before the first Start and after a run has stopped.
func (s *Service) IsStopped() bool {
	return s.state.Load() != int32(stateRunning)
}

// Outstanding returns the dispatched jobs still watched by the running
// controller, in dispatch order.
func (s *Service) Outstanding() []job.Job {
	s.mu.Lock()
	ctrl := s.ctrl
	s.mu.Unlock()
	if ctrl == nil || s.IsStopped() {
		return nil
	}
	return ctrl.Outstanding()
}

// Pending returns the queued jobs in FIFO order.
func (s *Service) Pending() []job.Job { return s.q.Pending() }

func (s *Service) Len() int { return s.q.Len() }
func (s *Service) Cap() int { return s.q.Cap() }

func (s *Service) record(out engine.Outcome) {
	item := HistoryItem{
		RunID:       out.RunID,
		Key:         out.Key,
		Started:     out.Started,
		Duration:    out.Duration,
		TimedOut:    out.TimedOut,
		Interrupted: out.Interrupted,
	}
	if r, ok := out.Job.(job.Reporter); ok {
		item.Status = string(r.Report().Status)
	}
	if out.Err != nil {
		item.Error = out.Err.Error()
	}

	size := s.Config().HistorySize
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

// History returns finished runs, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	ctrl := s.ctrl
	runs := s.runs
	s.mu.Unlock()

	snap := Snapshot{
		State:      state(s.state.Load()).String(),
		QueueLen:   s.q.Len(),
		QueueCap:   s.q.Cap(),
		InFlight:   s.q.InFlightLen(),
		Runs:       runs,
		Rejected:   s.rejected.Load(),
		Workers:    cfg.MaxWorkers,
		Timeout:    cfg.Timeout,
		RateLimits: cfg.RateLimits,
		History:    s.History(),
	}
	if ctrl != nil {
		cs := ctrl.Snapshot()
		snap.Controller = &cs
	}
	return snap
}
