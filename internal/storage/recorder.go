package storage

import (
	"context"
	"sync/atomic"
	"time"

	"fifosched/internal/eventbus"
	logx "fifosched/pkg/logx"
)

const (
	recorderBuffer   = 256
	recordTimeoutMax = 2 * time.Second
)

// Recorder persists job outcome events from a bus into a Store.
//
// It subscribes on construction so no outcome published after NewRecorder
// returns is missed, even before Run starts.
type Recorder struct {
	store Store
	log   logx.Logger

	events <-chan eventbus.Event
	unsub  func()

	written atomic.Uint64
	failed  atomic.Uint64
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	ch, unsub := bus.Subscribe(recorderBuffer, eventbus.OutcomeTopics()...)
	return &Recorder{
		store:  store,
		log:    log.Component("recorder"),
		events: ch,
		unsub:  unsub,
	}
}

// Run writes records until ctx is done, then flushes what is already
// buffered and unsubscribes.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.unsub()
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return nil
		case ev, ok := <-r.events:
			if !ok {
				return nil
			}
			r.handle(ev)
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case ev, ok := <-r.events:
			if !ok {
				return
			}
			r.handle(ev)
		default:
			return
		}
	}
}

func (r *Recorder) handle(ev eventbus.Event) {
	rec, ok := RecordFromEvent(ev)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeoutMax)
	defer cancel()
	if err := r.store.AppendRun(ctx, rec); err != nil {
		r.failed.Add(1)
		r.log.Warn("run record failed",
			logx.String("key", rec.Key),
			logx.String("outcome", rec.Outcome),
			logx.Err(err),
		)
		return
	}
	r.written.Add(1)
}

// Stats reports how many records were written and how many writes failed.
func (r *Recorder) Stats() (written, failed uint64) {
	return r.written.Load(), r.failed.Load()
}

// RecordFromEvent maps a job outcome event to a RunRecord. Other events
// report false.
func RecordFromEvent(ev eventbus.Event) (RunRecord, bool) {
	var outcome string
	switch ev.Type {
	case eventbus.TopicJobFinished:
		outcome = OutcomeFinished
	case eventbus.TopicJobFailed:
		outcome = OutcomeFailed
	case eventbus.TopicJobTimeout:
		outcome = OutcomeTimeout
	case eventbus.TopicJobCancelled:
		outcome = OutcomeCancelled
	default:
		return RunRecord{}, false
	}
	je, ok := ev.Data.(eventbus.JobEvent)
	if !ok {
		return RunRecord{}, false
	}
	return RunRecord{
		RunID:    je.RunID,
		Key:      je.Key,
		Outcome:  outcome,
		Status:   je.Status,
		Started:  je.Started,
		Duration: je.Duration,
		Error:    je.Error,
		At:       ev.Time,
	}, true
}
