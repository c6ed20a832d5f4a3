package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"fifosched/internal/task/scheduler"
	"fifosched/internal/task/window"
	logx "fifosched/pkg/logx"
)

const (
	StorageNone   = "none"
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(levelField("logging.level", cfg.Logging.Level))
	for comp, lv := range cfg.Logging.Components {
		add(levelField("logging.components."+comp, lv))
	}

	s := cfg.Scheduler
	if s.MaxWorkers < 0 {
		add(fmt.Errorf("scheduler.max_workers must be >= 0 (got %d)", s.MaxWorkers))
	}
	if s.HistorySize < 0 {
		add(fmt.Errorf("scheduler.history_size must be >= 0 (got %d)", s.HistorySize))
	}
	_, err := ParseDurationField("scheduler.timeout", s.Timeout)
	add(err)
	for i, rl := range s.RateLimits {
		_, err := rateLimit(i, rl)
		add(err)
	}
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	switch driver := storageDriver(cfg.Storage.Driver); driver {
	case StorageNone:
	case StorageFile, StorageSQLite:
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(fmt.Errorf("storage.path required for driver %q", driver))
		}
	default:
		add(fmt.Errorf("storage.driver %q unknown (use none, file or sqlite)", cfg.Storage.Driver))
	}
	_, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)

	for _, f := range []struct{ path, raw string }{
		{"admin.read_timeout", cfg.Admin.ReadTimeout},
		{"admin.write_timeout", cfg.Admin.WriteTimeout},
		{"admin.idle_timeout", cfg.Admin.IdleTimeout},
	} {
		_, err := ParseDurationField(f.path, f.raw)
		add(err)
	}
	if cfg.Admin.MutexProfileFraction < 0 || cfg.Admin.BlockProfileRate < 0 {
		add(errors.New("admin profile rates must be >= 0"))
	}

	seen := make(map[string]struct{}, len(cfg.Jobs))
	for i, j := range cfg.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		name := strings.TrimSpace(j.Name)
		if name == "" {
			add(fmt.Errorf("%s.name required", path))
		} else {
			path = fmt.Sprintf("jobs[%s]", name)
			if _, dup := seen[name]; dup {
				add(fmt.Errorf("%s: duplicate job name", path))
			}
			seen[name] = struct{}{}
		}
		if strings.TrimSpace(j.Command) == "" {
			add(fmt.Errorf("%s.command required", path))
		}
		if strings.TrimSpace(j.Schedule) != "" {
			if _, err := scheduler.ParseSchedule(j.Schedule); err != nil {
				add(fmt.Errorf("%s.schedule: %w", path, err))
			}
		}
		for _, kv := range j.Env {
			if k, _, ok := strings.Cut(kv, "="); !ok || strings.TrimSpace(k) == "" {
				add(fmt.Errorf("%s.env: %q is not KEY=VALUE", path, kv))
			}
		}
	}

	return errors.Join(errs...)
}

func levelField(path, raw string) error {
	if err := logx.ValidateLevel(raw); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func rateLimit(i int, rl RateLimitConfig) (window.Config, error) {
	path := fmt.Sprintf("scheduler.rate_limits[%d]", i)
	d, err := ParseDurationField(path+".window", rl.Window)
	if err != nil {
		return window.Config{}, err
	}
	wc := window.Config{MaxCount: rl.MaxCount, Window: d}
	if err := wc.Validate(); err != nil {
		return window.Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return wc, nil
}

func storageDriver(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if d == "" {
		return StorageNone
	}
	return d
}

// SchedulerConfig converts the scheduler section. cfg must have passed
// Validate.
func (c *Config) SchedulerConfig() (scheduler.Config, error) {
	timeout, err := ParseDurationField("scheduler.timeout", c.Scheduler.Timeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	out := scheduler.Config{
		MaxWorkers:  c.Scheduler.MaxWorkers,
		Timeout:     timeout,
		HistorySize: c.Scheduler.HistorySize,
	}
	for i, rl := range c.Scheduler.RateLimits {
		wc, err := rateLimit(i, rl)
		if err != nil {
			return scheduler.Config{}, err
		}
		out.RateLimits = append(out.RateLimits, wc)
	}
	return out, nil
}

func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
		Components: c.Logging.Components,
	}
}

// StorageDriver returns the normalized driver name; empty means none.
func (c *Config) StorageDriver() string { return storageDriver(c.Storage.Driver) }
