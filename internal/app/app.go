package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fifosched/internal/config"
	"fifosched/internal/eventbus"
	"fifosched/internal/observability/admin"
	rtsup "fifosched/internal/runtime/supervisor"
	"fifosched/internal/storage"
	"fifosched/internal/task/scheduler"
	logx "fifosched/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

const statusInterval = 30 * time.Second

// App wires the scheduler daemon: config, logging, storage, event bus,
// the scheduler service and its cron triggers.
type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	rec   *storage.Recorder

	sched *scheduler.Service
	trig  *scheduler.Triggers
	admin *admin.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.NewService(cfg.LogConfig())
	log = log.Component("app")

	bus := eventbus.New()

	var (
		store storage.Store
		rec   *storage.Recorder
	)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		store = st
		rec = storage.NewRecorder(st, bus, log)
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	schedCfg, err := cfg.SchedulerConfig()
	if err != nil {
		return nil, err
	}
	schedLog := log.Component("scheduler")
	schedSvc := scheduler.New(schedCfg, schedLog, bus)
	trig := scheduler.NewTriggers(schedSvc, cfg.Scheduler.Timezone, schedLog.With(logx.String("sub", "triggers")))

	adminCfg, err := mapAdminConfig(cfg)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		rec:     rec,
		sched:   schedSvc,
		trig:    trig,
	}
	a.admin = admin.New(adminCfg, admin.Deps{
		Scheduler: schedSvc,
		Triggers:  trig,
		Runs:      store,
		Runtime:   a,
	}, log.Component("admin"))
	return a, nil
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Triggers() *scheduler.Triggers { return a.trig }
func (a *App) Store() storage.Store { return a.store }
func (a *App) Config() *config.ConfigManager { return a.cfgm }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// RuntimeStats reports supervised goroutines, event bus traffic and run
// history writes.
func (a *App) RuntimeStats() admin.RuntimeStats {
	var rs admin.RuntimeStats
	if a.sup != nil {
		rs.Supervisor = a.sup.Snapshot()
	}
	rs.EventsPublished, rs.EventsDropped = eventbus.Stats(a.bus)
	if a.rec != nil {
		rs.RunsWritten, rs.RunsFailed = a.rec.Stats()
	}
	return rs
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.Component("config"))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// Storage is not reopened on reload, but a broken section is still
		// rejected so the file on disk stays startable.
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		_, err := mapAdminConfig(cfg)
		return err
	})

	if a.rec != nil {
		a.sup.Go("storage.recorder", a.rec.Run)
	}

	cfg := a.cfgm.Get()
	syncTriggers(a.trig, cfg.Jobs, nil, a.log)
	a.trig.Start(runCtx)
	if n := submitStartupJobs(runCtx, a.sched, cfg.Jobs, a.log); n > 0 {
		a.log.Info("startup jobs queued", logx.Int("count", n))
	}

	// Debug trace of every event; components subscribe themselves for real work.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if je, ok := e.Data.(eventbus.JobEvent); ok {
					a.log.Debug("event", logx.String("type", e.Type), logx.String("key", je.Key), logx.String("status", je.Status))
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	if a.admin.Enabled() {
		a.admin.Start(runCtx)
	}

	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("status", a.statusLoop)
	a.sup.Go0("systemd.watchdog", func(c context.Context) { runWatchdog(c, a.log) })

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.String("config", a.cfgPath),
		logx.Int("jobs", len(cfg.Jobs)),
		logx.Int("triggers", len(a.trig.Names())),
	)
	return nil
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, jobsChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(newCfg.LogConfig())
		case "scheduler":
			sc, err := newCfg.SchedulerConfig()
			if err != nil {
				a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
				break
			}
			a.sched.Apply(sc)
			a.trig.SetTimezone(newCfg.Scheduler.Timezone)
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "admin":
			ac, err := mapAdminConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid admin config; keeping previous", logx.Err(err))
				break
			}
			a.admin.Reconfigure(a.sup.Context(), ac)
		case "jobs":
			syncTriggers(a.trig, newCfg.Jobs, jobsChanged, a.log)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	if len(jobsChanged) > 0 {
		fields = append(fields, logx.String("jobs", strings.Join(jobsChanged, ",")))
	}
	a.log.Info("config applied", fields...)
}

func (a *App) statusLoop(ctx context.Context) {
	tick := time.NewTicker(statusInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			line := statusLine(a.sched.Snapshot(), a.trig.Snapshot(), now)
			sdNotify(a.log, "STATUS="+line)
			a.log.Debug("status", logx.String("line", line))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Triggers first so nothing new is queued while the controller drains.
	step("triggers", time.Second, func(c context.Context) error { a.trig.Stop(c); return nil })
	step("scheduler", 3*time.Second, func(c context.Context) error {
		a.sched.Stop()
		err := a.sched.Wait(c)
		if n := a.sched.Len(); n > 0 {
			a.log.Warn("jobs left in queue at shutdown", logx.Int("count", n))
		}
		return err
	})

	step("admin", time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })

	// Cancelling the supervisor flushes the recorder and ends background loops.
	a.sup.Cancel()
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
