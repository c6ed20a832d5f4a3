package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"fifosched/internal/job"
)

// DefaultCapacity is the fixed size of a scheduler queue.
const DefaultCapacity = 100

var (
	ErrQueueFull  = errors.New("job queue full")
	ErrInvalidJob = errors.New("job is nil or has an empty key")
)

type entry struct {
	key string
	job job.Job
}

// Queue is a bounded FIFO of pending jobs with key-based membership.
//
// A key stays tracked from Add until Done: first while queued, then while
// in flight. Take moves the head from queued to in-flight in one critical
// section, so an equal job can never be admitted between the two.
type Queue struct {
	capacity int

	mu       sync.Mutex
	items    []entry
	inflight []entry
	keys     map[string]struct{}

	// ready has capacity 1; Add signals it and Take drains it.
	ready chan struct{}
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		capacity: capacity,
		items:    make([]entry, 0, capacity),
		keys:     make(map[string]struct{}, capacity),
		ready:    make(chan struct{}, 1),
	}
}

// Add appends j unless a job with the same key is already queued or running.
//
// It returns (false, nil) for a duplicate and (false, ErrQueueFull) when the
// queue holds Cap() jobs. It never blocks.
func (q *Queue) Add(j job.Job) (bool, error) {
	key, ok := keyOf(j)
	if !ok {
		return false, ErrInvalidJob
	}

	q.mu.Lock()
	if _, dup := q.keys[key]; dup {
		q.mu.Unlock()
		return false, nil
	}
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return false, ErrQueueFull
	}
	q.items = append(q.items, entry{key: key, job: j})
	q.keys[key] = struct{}{}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true, nil
}

// Contains reports whether a job with j's key is tracked.
func (q *Queue) Contains(j job.Job) bool {
	key, ok := keyOf(j)
	if !ok {
		return false
	}
	return q.ContainsKey(key)
}

func (q *Queue) ContainsKey(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.keys[key]
	return ok
}

// Len is the number of queued (not yet taken) jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Cap() int { return q.capacity }

// InFlightLen is the number of taken jobs not yet released with Done.
func (q *Queue) InFlightLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// Snapshot returns queued jobs in FIFO order followed by in-flight jobs in
// take order.
func (q *Queue) Snapshot() []job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]job.Job, 0, len(q.items)+len(q.inflight))
	for _, e := range q.items {
		out = append(out, e.job)
	}
	for _, e := range q.inflight {
		out = append(out, e.job)
	}
	return out
}

// Pending returns only the queued jobs, in FIFO order.
func (q *Queue) Pending() []job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]job.Job, 0, len(q.items))
	for _, e := range q.items {
		out = append(out, e.job)
	}
	return out
}

// TryTake pops the head without waiting.
func (q *Queue) TryTake() (job.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.takeLocked()
}

// Take pops the head, waiting up to wait for one to arrive.
// It returns early (false) when ctx is done.
func (q *Queue) Take(ctx context.Context, wait time.Duration) (job.Job, bool) {
	if j, ok := q.TryTake(); ok {
		return j, true
	}
	if wait <= 0 {
		return nil, false
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-timer.C:
			return q.TryTake()
		case <-q.ready:
			if j, ok := q.TryTake(); ok {
				q.rearm()
				return j, true
			}
		}
	}
}

// Done releases the in-flight membership of key.
func (q *Queue) Done(key string) {
	key = strings.TrimSpace(key)
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.inflight {
		if e.key == key {
			q.inflight = append(q.inflight[:i], q.inflight[i+1:]...)
			delete(q.keys, key)
			return
		}
	}
}

// Requeue moves a taken job back to the head of the queue. It is used when
// the dispatcher takes a job but must not start it. The head slot was held
// before the take, so capacity is not checked.
func (q *Queue) Requeue(key string) bool {
	key = strings.TrimSpace(key)
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.inflight {
		if e.key != key {
			continue
		}
		q.inflight = append(q.inflight[:i], q.inflight[i+1:]...)
		q.items = append([]entry{e}, q.items...)
		return true
	}
	return false
}

func (q *Queue) takeLocked() (job.Job, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	head := q.items[0]
	q.items[0] = entry{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		// Fresh backing array once drained; re-slicing the head away shrinks cap.
		q.items = make([]entry, 0, q.capacity)
	}
	q.inflight = append(q.inflight, head)
	return head.job, true
}

// rearm re-signals ready when items remain, so a later Take does not sleep on
// a non-empty queue after consuming the single pending signal.
func (q *Queue) rearm() {
	q.mu.Lock()
	n := len(q.items)
	q.mu.Unlock()
	if n == 0 {
		return
	}
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func keyOf(j job.Job) (string, bool) {
	if j == nil {
		return "", false
	}
	key := strings.TrimSpace(j.Key())
	return key, key != ""
}
