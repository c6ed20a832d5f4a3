package engine

import (
	"context"
	"sync/atomic"
	"time"

	"fifosched/internal/job"
)

const (
	cancelNone int32 = iota
	cancelTimeout
	cancelInterrupt
)

// Handle tracks one dispatched run.
type Handle struct {
	seq uint64
	key string
	job job.Job

	ctx    context.Context
	cancel context.CancelCauseFunc

	started   chan struct{}
	startedAt time.Time // written before started is closed

	done     chan struct{}
	finished time.Time // written before done is closed
	err      error

	cancelled atomic.Int32
}

func newHandle(parent context.Context, seq uint64, j job.Job) *Handle {
	ctx, cancel := context.WithCancelCause(parent)
	return &Handle{
		seq:     seq,
		key:     j.Key(),
		job:     j,
		ctx:     ctx,
		cancel:  cancel,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (h *Handle) Job() job.Job          { return h.job }
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is the error returned by Run. Only meaningful after Done.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *Handle) isDone() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Cancelled reports whether the watchdog cancelled this run.
func (h *Handle) Cancelled() bool { return h.cancelled.Load() != cancelNone }

// Cancel requests cancellation with cause. It returns false when the run had
// already finished or was cancelled before.
func (h *Handle) Cancel(cause error) bool {
	if h.isDone() {
		return false
	}
	code := cancelInterrupt
	if cause == ErrJobTimeout {
		code = cancelTimeout
	}
	if !h.cancelled.CompareAndSwap(cancelNone, code) {
		return false
	}
	h.cancel(cause)
	return true
}

func (h *Handle) markStarted() {
	h.startedAt = time.Now()
	close(h.started)
}

func (h *Handle) finish(err error) {
	h.err = err
	h.finished = time.Now()
	close(h.done)
	// Release the context's resources; a no-op cause once cancelled.
	h.cancel(context.Canceled)
}

func (h *Handle) runID() string {
	if r, ok := h.job.(job.Reporter); ok {
		if id := r.Report().ID; id != "" {
			return id
		}
	}
	return ""
}

func (h *Handle) outcome() Outcome {
	code := h.cancelled.Load()
	return Outcome{
		RunID:       h.runID(),
		Key:         h.key,
		Job:         h.job,
		Started:     h.startedAt,
		Duration:    h.finished.Sub(h.startedAt),
		Err:         h.err,
		TimedOut:    code == cancelTimeout,
		Interrupted: code == cancelInterrupt,
	}
}
