package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"fifosched/internal/eventbus"
	"fifosched/internal/job"
	logx "fifosched/pkg/logx"
)

// changeSource is implemented by jobs embedding job.Base.
type changeSource interface {
	OnChange(fn func(job.Change)) (remove func())
}

func (c *Controller) worker(ctx context.Context) error {
	for h := range c.work {
		c.execute(h)
	}
	return nil
}

// execute runs one dispatched handle. The worker slot and the queue key are
// released however it ends, including a panic in an observer or in the job's
// own Report.
func (c *Controller) execute(h *Handle) {
	released := false
	release := func() {
		// Once only: after the first Done an equal job may be re-admitted
		// under the same key.
		if !released {
			released = true
			c.q.Done(h.key)
		}
	}
	defer c.releaseSlot()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("worker panic", logx.String("key", h.key), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			if !h.isDone() {
				h.finish(fmt.Errorf("%w: %v", ErrJobPanicked, r))
			}
		}
		release()
	}()

	h.markStarted()
	c.publish(eventbus.TopicJobStarted, c.jobEvent(h, nil))

	if src, ok := h.job.(changeSource); ok {
		remove := src.OnChange(func(ch job.Change) {
			if ch.Field == "percent" {
				c.publish(eventbus.TopicJobProgress, c.jobEvent(h, nil))
			}
		})
		defer remove()
	}

	err := c.runJob(h)
	h.finish(err)
	release()

	out := h.outcome()
	switch {
	case out.TimedOut || out.Interrupted:
		// The watchdog already published the cancellation.
	case err != nil:
		c.publish(eventbus.TopicJobFailed, c.jobEvent(h, err))
	default:
		c.publish(eventbus.TopicJobFinished, c.jobEvent(h, nil))
	}
	if c.onFinish != nil {
		c.onFinish(out)
	}
}

func (c *Controller) runJob(h *Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
			c.log.Error("job panicked", logx.String("key", h.key), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return h.job.Run(h.ctx)
}

// isCancellation reports whether err only reflects a cancelled run context.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrJobTimeout) || errors.Is(err, ErrJobInterrupted)
}
