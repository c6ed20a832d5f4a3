package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"fifosched/internal/job"
	"fifosched/internal/task/queue"
	logx "fifosched/pkg/logx"
)

const triggerWarnThrottle = 5 * time.Second

var ErrTriggerNotFound = errors.New("trigger not found")

// Factory builds a fresh job for each firing. Jobs from one factory should
// share a key so a slow run suppresses overlapping firings.
type Factory func() job.Job

type triggerDef struct {
	name    string
	spec    ParsedSpec
	factory Factory
	entryID cron.EntryID
}

// Triggers fires jobs into a Service on cron or interval schedules.
type Triggers struct {
	svc *Service
	log logx.Logger

	// runCtx is the context given to Start. Firing callbacks read it without
	// mu because SetTimezone waits for them while holding mu.
	runCtx atomic.Pointer[context.Context]

	mu   sync.Mutex
	tz   string
	loc  *time.Location
	c    *cron.Cron
	defs []*triggerDef

	warnMu sync.Mutex
	warns  map[string]*rate.Sometimes
}

func NewTriggers(svc *Service, tz string, log logx.Logger) *Triggers {
	return &Triggers{
		svc:   svc,
		log:   log,
		tz:    strings.TrimSpace(tz),
		warns: map[string]*rate.Sometimes{},
	}
}

// AddSchedule registers (or replaces) the trigger called name.
func (t *Triggers) AddSchedule(name, schedule string, factory Factory) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("trigger name required")
	}
	if factory == nil {
		return fmt.Errorf("trigger %q: nil factory", name)
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("trigger %q: %w", name, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(name)
	d := &triggerDef{name: name, spec: ps, factory: factory}
	t.defs = append(t.defs, d)
	if t.c != nil {
		t.registerLocked(d)
	}
	t.log.Debug("trigger registered", logx.String("name", name), logx.String("spec", ps.String()))
	return nil
}

// Remove drops the trigger called name and reports whether it existed.
func (t *Triggers) Remove(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(strings.TrimSpace(name))
}

func (t *Triggers) removeLocked(name string) bool {
	n := 0
	removed := false
	for _, d := range t.defs {
		if d.name == name {
			if t.c != nil && d.entryID != 0 {
				t.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		t.defs[n] = d
		n++
	}
	clear(t.defs[n:])
	t.defs = t.defs[:n]
	return removed
}

// Names returns the registered trigger names, sorted.
func (t *Triggers) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.defs))
	for _, d := range t.defs {
		out = append(out, d.name)
	}
	sort.Strings(out)
	return out
}

// Fire submits one job from the named trigger now and starts the service.
func (t *Triggers) Fire(name string) error {
	t.mu.Lock()
	var d *triggerDef
	for _, cand := range t.defs {
		if cand.name == name {
			d = cand
			break
		}
	}
	t.mu.Unlock()
	if d == nil {
		return fmt.Errorf("%w: %q", ErrTriggerNotFound, name)
	}
	return t.fire(d)
}

func (t *Triggers) fire(d *triggerDef) error {
	j := d.factory()
	if j == nil {
		return fmt.Errorf("trigger %q: factory returned nil", d.name)
	}
	ok, err := t.svc.Submit(j)
	if err != nil {
		t.report(d.name, err)
		return err
	}
	if !ok {
		t.log.Debug("trigger skipped: previous run still tracked", logx.String("name", d.name))
	}
	// Start even when skipped: the tracked job may be queued with no
	// controller running.
	ctx := context.Background()
	if p := t.runCtx.Load(); p != nil {
		ctx = *p
	}
	t.svc.Start(ctx)
	return nil
}

func (t *Triggers) report(name string, err error) {
	t.warnMu.Lock()
	s := t.warns[name]
	if s == nil {
		s = &rate.Sometimes{First: 1, Interval: triggerWarnThrottle}
		t.warns[name] = s
	}
	t.warnMu.Unlock()

	s.Do(func() {
		if errors.Is(err, queue.ErrQueueFull) {
			t.log.Warn("trigger dropped: queue full", logx.String("name", name))
			return
		}
		t.log.Warn("trigger failed to submit", logx.String("name", name), logx.Err(err))
	})
}

func (t *Triggers) registerLocked(d *triggerDef) {
	fn := cron.FuncJob(func() { _ = t.fire(d) })
	if d.spec.Kind == SpecInterval {
		sched, jitter := intervalWithSpread(d.spec.Every, time.Now().In(t.loc), d.name)
		d.entryID = t.c.Schedule(sched, fn)
		t.log.Debug("interval trigger armed", logx.String("name", d.name), logx.Duration("spread", jitter))
		return
	}
	id, err := t.c.AddJob(d.spec.Cron, fn)
	if err != nil {
		t.log.Error("trigger register failed", logx.String("name", d.name), logx.String("spec", d.spec.Cron), logx.Err(err))
		return
	}
	d.entryID = id
}

func (t *Triggers) loadLocation() *time.Location {
	if t.tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(t.tz)
	if err != nil {
		t.log.Warn("invalid timezone; falling back to Local", logx.String("tz", t.tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Start arms every registered trigger. Fired jobs start the service with ctx.
func (t *Triggers) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil {
		return
	}
	if ctx != nil {
		t.runCtx.Store(&ctx)
	}
	t.startLocked()
}

func (t *Triggers) startLocked() {
	t.loc = t.loadLocation()
	t.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(t.loc))
	for _, d := range t.defs {
		t.registerLocked(d)
	}
	t.c.Start()
	t.log.Info("triggers started", logx.String("tz", t.loc.String()), logx.Int("triggers", len(t.defs)))
}

// Stop disarms the triggers and waits for firing callbacks to return.
func (t *Triggers) Stop(ctx context.Context) {
	t.mu.Lock()
	c := t.c
	t.c = nil
	for _, d := range t.defs {
		d.entryID = 0
	}
	t.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	t.log.Info("triggers stopped")
}

// SetTimezone re-arms running triggers when the zone changes.
func (t *Triggers) SetTimezone(tz string) {
	tz = strings.TrimSpace(tz)
	t.mu.Lock()
	defer t.mu.Unlock()
	if tz == t.tz {
		return
	}
	t.tz = tz
	if t.c == nil {
		return
	}
	<-t.c.Stop().Done()
	t.startLocked()
}

func (t *Triggers) Snapshot() []ScheduleInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(t.defs))
	for _, d := range t.defs {
		info := ScheduleInfo{Name: d.name, Spec: d.spec.String()}
		if t.c != nil && d.entryID != 0 {
			e := t.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	return out
}
