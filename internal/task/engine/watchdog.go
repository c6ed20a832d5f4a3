package engine

import (
	"context"
	"time"

	"fifosched/internal/eventbus"
	logx "fifosched/pkg/logx"
)

func (c *Controller) watchdog(ctx context.Context) error {
	for h := range c.watch {
		c.guard(h)
	}
	return nil
}

// guard enforces the timeout on one run. It never touches the job's status.
func (c *Controller) guard(h *Handle) {
	defer c.removeOutstanding(h)
	defer func() {
		if !h.isDone() && !h.Cancelled() {
			h.Cancel(ErrJobInterrupted)
		}
	}()

	limit := c.cfg.Timeout.Duration()
	// Measured from the run's start; dispatch waits for it.
	remaining := limit - time.Since(h.startedAt)
	t := time.NewTimer(remaining)
	defer t.Stop()

	select {
	case <-h.Done():
		if err := h.Err(); err != nil && !isCancellation(err) {
			c.log.Error("job failed", logx.String("key", h.key), logx.Err(err))
		} else {
			c.log.Debug("job finished", logx.String("key", h.key), logx.Duration("dur", h.finished.Sub(h.startedAt)))
		}
	case <-t.C:
		if h.Cancel(ErrJobTimeout) {
			c.log.Warn("job timed out", logx.String("key", h.key), logx.Duration("timeout", limit))
			c.publish(eventbus.TopicJobTimeout, c.jobEvent(h, ErrJobTimeout))
		}
	case <-c.abort:
		if h.Cancel(ErrJobInterrupted) {
			c.log.Warn("job interrupted", logx.String("key", h.key))
			c.publish(eventbus.TopicJobCancelled, c.jobEvent(h, ErrJobInterrupted))
		}
	}
}
