package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"fifosched/internal/job"
	"fifosched/internal/task/engine"
	"fifosched/internal/task/queue"
	"fifosched/internal/task/window"
	logx "fifosched/pkg/logx"
)

func quickJob(key string, d time.Duration) *job.Func {
	return job.NewFunc(key, func(ctx context.Context, b *job.Base) error {
		select {
		case <-time.After(d):
			b.Finish(job.StatusOK, nil)
			return nil
		case <-ctx.Done():
			b.Finish(job.StatusCancel, nil)
			return ctx.Err()
		}
	})
}

func waitStopped(t *testing.T, s *Service, d time.Duration) {
	t.Helper()
	if err := s.WaitTimeout(d); err != nil {
		t.Fatalf("WaitTimeout: %v", err)
	}
	if !s.IsStopped() {
		t.Fatalf("service not stopped after Wait")
	}
}

func TestSubmitDedupAndCapacity(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	j := quickJob("same", time.Millisecond)
	if ok, err := s.Submit(j); !ok || err != nil {
		t.Fatalf("first Submit = (%v, %v)", ok, err)
	}
	if ok, err := s.Submit(quickJob("same", time.Millisecond)); ok || err != nil {
		t.Fatalf("duplicate Submit = (%v, %v), want (false, nil)", ok, err)
	}
	for i := 1; i < s.Cap(); i++ {
		if ok, err := s.Submit(quickJob(fmt.Sprintf("k%d", i), 0)); !ok || err != nil {
			t.Fatalf("Submit #%d = (%v, %v)", i, ok, err)
		}
	}
	if _, err := s.Submit(quickJob("overflow", 0)); !errors.Is(err, queue.ErrQueueFull) {
		t.Fatalf("overflow err = %v, want ErrQueueFull", err)
	}
	if s.Len() != 100 || s.Snapshot().Rejected != 1 {
		t.Fatalf("Len = %d, Rejected = %d", s.Len(), s.Snapshot().Rejected)
	}
}

func TestIdleRestart(t *testing.T) {
	s := New(Config{MaxWorkers: 2}, logx.Nop(), nil)
	if !s.IsStopped() {
		t.Fatalf("fresh service should report stopped")
	}

	first := quickJob("first", 5*time.Millisecond)
	_, _ = s.Submit(first)
	s.Start(context.Background())
	waitStopped(t, s, 3*time.Second)
	if first.Status() != job.StatusOK {
		t.Fatalf("first status = %v", first.Status())
	}

	second := quickJob("second", 5*time.Millisecond)
	if ok, _ := s.Submit(second); !ok {
		t.Fatalf("submit after drain rejected")
	}
	s.Start(context.Background())
	waitStopped(t, s, 3*time.Second)
	if second.Status() != job.StatusOK {
		t.Fatalf("second status = %v", second.Status())
	}
	if got := s.Snapshot().Runs; got != 2 {
		t.Fatalf("Runs = %d, want 2", got)
	}
	if h := s.History(); len(h) != 2 || h[0].Key != "first" || h[1].Status != string(job.StatusOK) {
		t.Fatalf("History = %+v", h)
	}
}

func TestStartIsIdempotentWhileRunning(t *testing.T) {
	s := New(Config{MaxWorkers: 1}, logx.Nop(), nil)
	_, _ = s.Submit(quickJob("slow", 200*time.Millisecond))
	a := s.Start(context.Background())
	b := s.Start(context.Background())
	if a != b {
		t.Fatalf("second Start returned a different run")
	}
	waitStopped(t, s, 3*time.Second)
}

func TestStopLeavesQueuedJobs(t *testing.T) {
	s := New(Config{MaxWorkers: 1}, logx.Nop(), nil)
	started := make(chan struct{})
	running := job.NewFunc("running", func(ctx context.Context, b *job.Base) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		b.Finish(job.StatusOK, nil)
		return nil
	})
	queued := quickJob("queued", time.Millisecond)
	_, _ = s.Submit(running)
	_, _ = s.Submit(queued)

	s.Start(context.Background())
	<-started
	if out := s.Outstanding(); len(out) != 1 || out[0].Key() != "running" {
		t.Fatalf("Outstanding = %v", out)
	}
	s.Stop()
	waitStopped(t, s, 3*time.Second)

	if running.Status() != job.StatusOK {
		t.Fatalf("running job status = %v", running.Status())
	}
	if !queued.Started().IsZero() {
		t.Fatalf("queued job started after stop")
	}
	if p := s.Pending(); len(p) != 1 || p[0].Key() != "queued" {
		t.Fatalf("Pending = %v", p)
	}
}

func TestFinishRestartsForJobsLeftQueued(t *testing.T) {
	s := New(Config{MaxWorkers: 1}, logx.Nop(), nil)
	// A run ending while a job sits queued, as when the submission raced the
	// controller's empty-queue check.
	late := quickJob("late", time.Millisecond)
	_, _ = s.Submit(late)
	s.mu.Lock()
	done := make(chan struct{})
	s.state.Store(int32(stateRunning))
	s.done = done
	s.mu.Unlock()
	s.finish(context.Background(), done)

	deadline := time.Now().Add(3 * time.Second)
	for late.Status() != job.StatusOK {
		if time.Now().After(deadline) {
			t.Fatalf("late job status = %v; stranded in queue", late.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
	waitStopped(t, s, 3*time.Second)
}

func TestFinishHonoursStop(t *testing.T) {
	s := New(Config{MaxWorkers: 1}, logx.Nop(), nil)
	_, _ = s.Submit(quickJob("queued", time.Millisecond))
	s.Stop()
	s.mu.Lock()
	done := make(chan struct{})
	s.state.Store(int32(stateRunning))
	s.done = done
	s.mu.Unlock()
	s.finish(context.Background(), done)

	if !s.IsStopped() || s.Len() != 1 {
		t.Fatalf("stopped = %v, Len = %d; finish restarted after Stop", s.IsStopped(), s.Len())
	}
}

func TestWaitTimeoutSignals(t *testing.T) {
	s := New(Config{MaxWorkers: 1}, logx.Nop(), nil)
	_, _ = s.Submit(quickJob("long", 2*time.Second))
	s.Start(context.Background())
	if err := s.WaitTimeout(20 * time.Millisecond); !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("WaitTimeout err = %v, want ErrWaitTimeout", err)
	}
	s.Stop()
	waitStopped(t, s, 3*time.Second)
}

func TestApplyTakesEffectAtNextStart(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	s.Apply(Config{MaxWorkers: 3, RateLimits: []window.Config{{MaxCount: 2, Window: time.Second}}})
	if got := s.RateLimits(); len(got) != 1 || got[0].MaxCount != 2 {
		t.Fatalf("RateLimits = %v", got)
	}
	_, _ = s.Submit(quickJob("a", time.Millisecond))
	s.Start(context.Background())
	snap := s.Snapshot()
	if snap.Controller == nil || snap.Controller.Workers != 3 || len(snap.Controller.Limiters) != 1 {
		t.Fatalf("controller snapshot = %+v", snap.Controller)
	}
	waitStopped(t, s, 3*time.Second)
}

func TestStartWhileDrainingRunsAgain(t *testing.T) {
	s := New(Config{MaxWorkers: 1}, logx.Nop(), nil)
	slow := quickJob("slow", 300*time.Millisecond)
	_, _ = s.Submit(slow)
	first := s.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for s.Snapshot().InFlight == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("slow job never dispatched")
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	for {
		if c := s.Snapshot().Controller; c != nil && c.State == engine.StateDraining {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("controller never reached draining")
		}
		time.Sleep(2 * time.Millisecond)
	}

	late := quickJob("late", time.Millisecond)
	if ok, err := s.Submit(late); !ok || err != nil {
		t.Fatalf("Submit while draining = (%v, %v)", ok, err)
	}
	if got := s.Start(context.Background()); got != first {
		t.Fatalf("Start while draining launched a second controller")
	}

	deadline = time.Now().Add(3 * time.Second)
	for late.Status() != job.StatusOK {
		if time.Now().After(deadline) {
			t.Fatalf("late job status = %v; no restart after drain", late.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
	waitStopped(t, s, 3*time.Second)
	if slow.Status() != job.StatusOK {
		t.Fatalf("slow status = %v, want OK after graceful stop", slow.Status())
	}
	if runs := s.Snapshot().Runs; runs != 2 {
		t.Fatalf("runs = %d, want 2", runs)
	}
}
