package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job is a unit of work run by the scheduler.
//
// Key is the deduplication key: two jobs with the same key are never queued
// or running at the same time. Run must return promptly once ctx is done;
// cancellation is a request, not a guarantee.
type Job interface {
	Key() string
	Run(ctx context.Context) error
}

// Reporter is implemented by jobs that expose their state (Base does).
type Reporter interface {
	Report() Report
}

// Report is a point-in-time copy of a job's observable state.
type Report struct {
	ID       string    `json:"id"`
	Key      string    `json:"key"`
	Status   Status    `json:"status"`
	Result   any       `json:"result,omitempty"`
	Percent  int       `json:"percent"`
	Messages []string  `json:"messages,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// Elapsed is Finished-Started, or 0 while the job has not finished.
func (r Report) Elapsed() time.Duration {
	if r.Finished.IsZero() || r.Started.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Change describes one observable mutation of a Base.
type Change struct {
	Field string
	Old   any
	New   any
}

// Base carries the mutable state shared by most jobs.
// Embed it and call the setters from Run.
//
// All methods are safe for concurrent use; readers get copies.
type Base struct {
	id  string
	key string

	mu       sync.Mutex
	status   Status
	result   any
	percent  int
	messages []string
	started  time.Time
	finished time.Time

	lmu       sync.Mutex
	listeners map[uint64]func(Change)
	lseq      uint64
}

// NewBase returns a Base with a fresh identifier.
func NewBase(key string) *Base {
	b := &Base{}
	b.Init(key)
	return b
}

// Init sets the key and assigns an ID. Use it when Base is embedded by value.
func (b *Base) Init(key string) {
	b.key = key
	b.id = fmt.Sprintf("%s_#_%s", time.Now().Format("2006-01-02_15:04:05"), uuid.NewString())
}

func (b *Base) ID() string  { return b.id }
func (b *Base) Key() string { return b.key }

func (b *Base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *Base) Result() any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}

func (b *Base) Percent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.percent
}

func (b *Base) Messages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.messages...)
}

func (b *Base) SetStatus(s Status) {
	b.mu.Lock()
	old := b.status
	b.status = s
	b.mu.Unlock()
	if old != s {
		b.fire(Change{Field: "status", Old: old, New: s})
	}
}

// Finish sets result and status together and stamps the finish time.
func (b *Base) Finish(s Status, result any) {
	b.mu.Lock()
	old := b.status
	b.status = s
	b.result = result
	b.finished = time.Now()
	b.mu.Unlock()
	if old != s {
		b.fire(Change{Field: "status", Old: old, New: s})
	}
}

// SetPercent updates progress and notifies listeners on the calling goroutine.
// Values are clamped to 0..100; monotonicity is left to the caller.
func (b *Base) SetPercent(p int) {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	b.mu.Lock()
	old := b.percent
	b.percent = p
	b.mu.Unlock()
	b.fire(Change{Field: "percent", Old: old, New: p})
}

func (b *Base) AddMessage(format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	b.mu.Lock()
	b.messages = append(b.messages, msg)
	b.mu.Unlock()
}

// MarkStarted stamps the start time and clears the finish time.
func (b *Base) MarkStarted() {
	b.mu.Lock()
	b.started = time.Now()
	b.finished = time.Time{}
	b.mu.Unlock()
}

func (b *Base) Started() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

func (b *Base) Finished() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished
}

// Elapsed returns finished-started, or 0 while running.
func (b *Base) Elapsed() time.Duration {
	return b.Report().Elapsed()
}

func (b *Base) Report() Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Report{
		ID:       b.id,
		Key:      b.key,
		Status:   b.status,
		Result:   b.result,
		Percent:  b.percent,
		Messages: append([]string(nil), b.messages...),
		Started:  b.started,
		Finished: b.finished,
	}
}

// OnChange registers fn for status/percent changes. Listeners run synchronously
// on whichever goroutine mutates the job, so they must not block.
func (b *Base) OnChange(fn func(Change)) (remove func()) {
	if fn == nil {
		return func() {}
	}
	b.lmu.Lock()
	if b.listeners == nil {
		b.listeners = map[uint64]func(Change){}
	}
	b.lseq++
	id := b.lseq
	b.listeners[id] = fn
	b.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.lmu.Lock()
			delete(b.listeners, id)
			b.lmu.Unlock()
		})
	}
}

func (b *Base) fire(c Change) {
	b.lmu.Lock()
	if len(b.listeners) == 0 {
		b.lmu.Unlock()
		return
	}
	fns := make([]func(Change), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.lmu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// Func adapts a plain function to Job. The function receives the embedded
// Base so it can report status and progress.
type Func struct {
	*Base
	fn func(ctx context.Context, b *Base) error
}

func NewFunc(key string, fn func(ctx context.Context, b *Base) error) *Func {
	return &Func{Base: NewBase(key), fn: fn}
}

func (f *Func) Run(ctx context.Context) error {
	if f.fn == nil {
		f.Finish(StatusFailInit, nil)
		return fmt.Errorf("job %q: nil func", f.Key())
	}
	f.MarkStarted()
	return f.fn(ctx, f.Base)
}

// Result pairs a job with its outcome.
type Result struct {
	Job    Job
	Status Status
	Value  any
}

// ResultOf builds a Result from any job; jobs without a Reporter get an empty status.
func ResultOf(j Job) Result {
	r := Result{Job: j}
	if rep, ok := j.(Reporter); ok {
		rp := rep.Report()
		r.Status = rp.Status
		r.Value = rp.Result
	}
	return r
}
